package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/autokit/errors"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	s, err := m.Inspect(resource)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if s == nil || s.PID != os.Getpid() {
		t.Errorf("Sentinel should record our pid, got %+v", s)
	}

	if err := held.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if s, _ := m.Inspect(resource); s != nil {
		t.Error("Sentinel should be removed after release")
	}

	// Idempotent release
	if err := held.Release(); err != nil {
		t.Errorf("Second release should be a no-op, got %v", err)
	}
}

func TestAcquireContentionTimesOut(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithRetryInterval(10 * time.Millisecond))
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	_, err = m.Acquire(ctx, resource, 50*time.Millisecond)
	if !errors.Is(err, errors.ErrCodeLockTimeout) {
		t.Errorf("Expected LOCK_TIMEOUT, got %v", err)
	}
}

func TestStaleByAgeIsCleared(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithStaleness(time.Minute), WithRetryInterval(10*time.Millisecond))
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	// Forge an old sentinel from a live pid.
	old := Sentinel{CreatedAt: time.Now().Add(-2 * time.Hour), PID: os.Getpid()}
	data, _ := json.Marshal(&old)
	if err := os.WriteFile(SentinelPath(resource), data, 0644); err != nil {
		t.Fatal(err)
	}

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatalf("Stale sentinel should be cleared before acquisition: %v", err)
	}
	held.Release()
}

func TestStaleByDeadPidIsCleared(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithRetryInterval(10 * time.Millisecond))
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	// Pid 1 is alive but unlikely ours; use an absurd pid instead.
	dead := Sentinel{CreatedAt: time.Now(), PID: 1 << 22}
	data, _ := json.Marshal(&dead)
	if err := os.WriteFile(SentinelPath(resource), data, 0644); err != nil {
		t.Fatal(err)
	}

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatalf("Dead-holder sentinel should be cleared: %v", err)
	}
	held.Release()
}

func TestUnreadableSentinelIsCleared(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithRetryInterval(10 * time.Millisecond))
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	if err := os.WriteFile(SentinelPath(resource), []byte("{garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatalf("Unreadable sentinel should not deadlock acquisition: %v", err)
	}
	held.Release()
}

func TestRefreshExtendsLease(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	held, err := m.Acquire(ctx, resource, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	before, _ := m.Inspect(resource)
	time.Sleep(20 * time.Millisecond)
	if err := held.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	after, _ := m.Inspect(resource)

	if !after.CreatedAt.After(before.CreatedAt) {
		t.Error("Refresh should advance created_at")
	}
	if after.PID != os.Getpid() {
		t.Errorf("Refresh should keep our pid, got %d", after.PID)
	}
}

func TestSetPIDHandsOffHolder(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	n := 2
	held, err := m.AcquireWithCount(ctx, resource, time.Second, &n)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	if err := held.SetPID(424242); err != nil {
		t.Fatalf("SetPID failed: %v", err)
	}
	s, _ := m.Inspect(resource)
	if s.PID != 424242 {
		t.Errorf("Sentinel pid = %d, want 424242", s.PID)
	}
	if s.TaskCount == nil || *s.TaskCount != 2 {
		t.Errorf("SetPID should keep task_count, got %+v", s.TaskCount)
	}

	held.Release()
	if err := held.SetPID(1); err == nil {
		t.Error("SetPID after release should fail")
	}
}

func TestWithLockSerializes(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithTimeout(time.Second))
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	ran := false
	err := m.WithLock(ctx, resource, func() error {
		ran = true
		if s, _ := m.Inspect(resource); s == nil {
			t.Error("Lock should be held inside WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Error("fn should run")
	}
	if s, _ := m.Inspect(resource); s != nil {
		t.Error("Lock should be released after WithLock")
	}
}

func TestSentinelTaskCountRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	ctx := context.Background()
	resource := filepath.Join(dir, "queue.json")

	n := 4
	held, err := m.AcquireWithCount(ctx, resource, time.Second, &n)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	s, _ := m.Inspect(resource)
	if s.TaskCount == nil || *s.TaskCount != 4 {
		t.Errorf("Expected task_count 4, got %+v", s.TaskCount)
	}
}
