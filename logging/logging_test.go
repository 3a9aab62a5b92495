package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)
	log.SetLevel(LevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Below-threshold lines should be dropped, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("WARN line should be emitted, got %q", out)
	}
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	log.WithComponent("engine").Info("cycle_start")

	if !strings.Contains(buf.String(), "[engine]") {
		t.Errorf("Expected component prefix, got %q", buf.String())
	}
}

func TestFieldsFormatted(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	log.TaskTransition("task_abc", "queued", "in_progress")

	out := buf.String()
	for _, want := range []string{"task=task_abc", "from=queued", "to=in_progress"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got %q", want, out)
		}
	}
}

func TestRunIDTag(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	log.WithRunID("run-1").TaskCompleted("task_abc", "done", 3*time.Second)

	if !strings.Contains(buf.String(), "run=run-1") {
		t.Errorf("Expected run id tag, got %q", buf.String())
	}
}

func TestTruncateLongDescription(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)

	log.TaskEnqueued("task_abc", strings.Repeat("x", 200))

	if len(buf.String()) > 250 {
		t.Errorf("Long descriptions should be truncated, got %d bytes", len(buf.String()))
	}
}
