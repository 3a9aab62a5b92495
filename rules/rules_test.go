package rules

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/vinayprograms/autokit/errors"
)

func TestTriggerValidate(t *testing.T) {
	cases := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{"entry_added ok", Trigger{Type: TriggerEntryAdded, File: "data/task_queue.json"}, false},
		{"entry_added no file", Trigger{Type: TriggerEntryAdded}, true},
		{"entry_updated ok", Trigger{Type: TriggerEntryUpdated, File: "data/notes.json"}, false},
		{"time ok", Trigger{Type: TriggerTime, At: "09:30"}, false},
		{"time bad clock", Trigger{Type: TriggerTime, At: "25:00"}, true},
		{"time missing at", Trigger{Type: TriggerTime}, true},
		{"interval ok", Trigger{Type: TriggerInterval, Minutes: 15}, false},
		{"interval zero", Trigger{Type: TriggerInterval}, true},
		{"event ok", Trigger{Type: TriggerEvent, EventKey: "inbox_scan"}, false},
		{"event missing key", Trigger{Type: TriggerEvent}, true},
		{"unknown type", Trigger{Type: "on_vibe"}, true},
	}
	for _, tc := range cases {
		err := tc.trigger.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	good := Rule{
		Trigger:   Trigger{Type: TriggerEntryAdded, File: "data/task_queue.json"},
		Condition: `new_entry.status == 'queued'`,
		Action:    Steps{{Command: Command{Tool: "queue", Action: "enqueue"}}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Valid rule rejected: %v", err)
	}

	bad := good
	bad.Condition = `__import__('os')`
	if err := bad.Validate(); err == nil {
		t.Error("Non-grammar condition should fail validation")
	}

	bad = good
	bad.Action = nil
	if err := bad.Validate(); err == nil {
		t.Error("Rule without action should fail validation")
	}

	bad = good
	bad.PostAction = &PostAction{Command: Command{Tool: "notify", Action: "send"}}
	if err := bad.Validate(); err == nil {
		t.Error("post_action without field should fail validation")
	}
}

func TestStepsUnmarshalBothForms(t *testing.T) {
	var single Steps
	if err := json.Unmarshal([]byte(`{"tool": "queue", "action": "enqueue"}`), &single); err != nil {
		t.Fatalf("Single-step form failed: %v", err)
	}
	if len(single) != 1 || single[0].Tool != "queue" {
		t.Errorf("Single form parsed to %+v", single)
	}

	var many Steps
	data := `[{"tool": "queue", "action": "enqueue"}, {"tool": "notify", "action": "send"}]`
	if err := json.Unmarshal([]byte(data), &many); err != nil {
		t.Fatalf("Sequence form failed: %v", err)
	}
	if len(many) != 2 || many[1].Tool != "notify" {
		t.Errorf("Sequence form parsed to %+v", many)
	}
}

func TestResolveParams(t *testing.T) {
	env := map[string]interface{}{
		"key": "task_abc",
		"new_entry": map[string]interface{}{
			"description": "send report",
			"priority":    float64(3),
			"tags":        []interface{}{"email", "urgent"},
		},
		"prev": map[string]interface{}{"path": "/tmp/out.md"},
	}

	params := map[string]interface{}{
		"id":       "{key}",
		"priority": "{new_entry.priority}",
		"first":    "{new_entry.tags[0]}",
		"message":  "finished {new_entry.description} at {prev.path}",
		"fixed":    42,
		"nested":   map[string]interface{}{"inner": "{key}"},
	}

	got := ResolveParams(params, env)
	want := map[string]interface{}{
		"id":       "task_abc",
		"priority": float64(3),
		"first":    "email",
		"message":  "finished send report at /tmp/out.md",
		"fixed":    42,
		"nested":   map[string]interface{}{"inner": "task_abc"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveParams = %#v, want %#v", got, want)
	}
}

func TestResolveParamsDropsUnresolvable(t *testing.T) {
	env := map[string]interface{}{"key": "task_abc"}
	params := map[string]interface{}{
		"good": "{key}",
		"bad":  "{new_entry.missing}",
		"part": "prefix {nope} suffix",
	}
	got := ResolveParams(params, env)
	if _, ok := got["bad"]; ok {
		t.Error("Unresolvable whole-value placeholder should drop the param")
	}
	if _, ok := got["part"]; ok {
		t.Error("Unresolvable embedded placeholder should drop the param")
	}
	if got["good"] != "task_abc" {
		t.Errorf("good = %v, want task_abc", got["good"])
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var gotCmd Command
	err := r.Register("queue", func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		gotCmd = cmd
		return map[string]interface{}{"ok": true}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := r.Dispatch(context.Background(), Command{Tool: "queue", Action: "enqueue"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result["ok"] != true || gotCmd.Action != "enqueue" {
		t.Errorf("Handler not invoked correctly: %v %v", result, gotCmd)
	}
}

func TestRegistryDuplicateAndMissing(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, cmd Command) (map[string]interface{}, error) { return nil, nil }

	if err := r.Register("queue", noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("queue", noop); !errors.Is(err, errors.ErrCodeDuplicate) {
		t.Errorf("Duplicate register = %v, want DUPLICATE", err)
	}

	if _, err := r.Dispatch(context.Background(), Command{Tool: "ghost"}); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Dispatch to unknown tool without fallback = %v, want NOT_FOUND", err)
	}
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	called := false
	r.SetFallback(func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		called = true
		return map[string]interface{}{"tool": cmd.Tool}, nil
	})

	result, err := r.Dispatch(context.Background(), Command{Tool: "external-script", Action: "run"})
	if err != nil {
		t.Fatal(err)
	}
	if !called || result["tool"] != "external-script" {
		t.Error("Fallback not routed")
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("explosive", func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		panic("boom")
	})
	_, err := r.Dispatch(context.Background(), Command{Tool: "explosive"})
	if !errors.Is(err, errors.ErrCodePanic) {
		t.Errorf("Panicking handler should surface PANIC, got %v", err)
	}
}
