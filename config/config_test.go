package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("Expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.LockStaleness != 30*time.Minute {
		t.Errorf("Expected 30m staleness, got %s", cfg.LockStaleness)
	}
	if cfg.DedupWindow != 60*time.Minute {
		t.Errorf("Expected 60m dedup window, got %s", cfg.DedupWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse(`
data_dir = "/var/lib/autokit"
poll_seconds = 10
ledger_cap = 20
worker_command = ["runworker", "--batch"]
`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/autokit" {
		t.Errorf("Expected overridden data dir, got %s", cfg.DataDir)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("Expected 10s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.LedgerCap != 20 {
		t.Errorf("Expected ledger cap 20, got %d", cfg.LedgerCap)
	}
	// Unset keys keep defaults
	if cfg.LockTimeout != 30*time.Second {
		t.Errorf("Expected default lock timeout, got %s", cfg.LockTimeout)
	}
	if len(cfg.WorkerCommand) != 2 || cfg.WorkerCommand[0] != "runworker" {
		t.Errorf("Expected worker command parsed, got %v", cfg.WorkerCommand)
	}
}

func TestParseRejectsBadTOML(t *testing.T) {
	if _, err := Parse("not = [valid"); err == nil {
		t.Error("Expected parse error for malformed TOML")
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	if cfg.TaskStorePath() != "data/task_queue.json" {
		t.Errorf("Unexpected task store path %s", cfg.TaskStorePath())
	}
	if cfg.ArchivePath() != "data/task_archive" {
		t.Errorf("Unexpected archive path %s", cfg.ArchivePath())
	}
}
