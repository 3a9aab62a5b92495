package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/logging"
)

// Sentinel is the persisted lock record. Its presence means the
// resource is owned; the fields identify the holder.
type Sentinel struct {
	CreatedAt time.Time `json:"created_at"`
	PID       int       `json:"pid"`
	TaskCount *int      `json:"task_count,omitempty"`
}

// Age returns how long ago the sentinel was written.
func (s *Sentinel) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// HolderAlive reports whether the recorded pid still exists.
func (s *Sentinel) HolderAlive() bool {
	return pidAlive(s.PID)
}

// Manager acquires and recovers sentinel-file locks.
type Manager struct {
	staleness     time.Duration
	timeout       time.Duration
	retryInterval time.Duration
	log           *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleness sets the age past which a sentinel is abandoned.
func WithStaleness(d time.Duration) Option {
	return func(m *Manager) { m.staleness = d }
}

// WithTimeout sets the default acquisition timeout used by WithLock.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithRetryInterval sets the contention retry sleep.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// WithLogger sets the logger used for staleness recovery lines.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		staleness:     30 * time.Minute,
		timeout:       30 * time.Second,
		retryInterval: 100 * time.Millisecond,
		log:           logging.New().WithComponent("lock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SentinelPath returns the sentinel file for a resource.
func SentinelPath(resource string) string {
	return resource + ".lock"
}

// Inspect reads the sentinel for a resource, or nil if unlocked.
func (m *Manager) Inspect(resource string) (*Sentinel, error) {
	data, err := os.ReadFile(SentinelPath(resource))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading lock sentinel")
	}
	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		// An unreadable sentinel is treated as abandoned.
		return nil, errors.StoreCorrupt(SentinelPath(resource), err)
	}
	return &s, nil
}

// Stale reports whether a sentinel should be treated as abandoned:
// older than the staleness bound, or its holder is no longer alive.
func (m *Manager) Stale(s *Sentinel) bool {
	if s == nil {
		return false
	}
	if s.Age() > m.staleness {
		return true
	}
	if s.PID > 0 && !s.HolderAlive() {
		return true
	}
	return false
}

// clearIfStale removes an abandoned or unreadable sentinel.
func (m *Manager) clearIfStale(resource string) {
	s, err := m.Inspect(resource)
	if err != nil {
		// Unreadable sentinel: clear it rather than deadlock forever.
		os.Remove(SentinelPath(resource))
		return
	}
	if m.Stale(s) {
		m.log.LockStale(resource, s.PID, s.Age())
		os.Remove(SentinelPath(resource))
	}
}

// Acquire attempts exclusive ownership of a resource, retrying on
// contention until timeout elapses. The acquirer clears stale sentinels
// before each attempt.
func (m *Manager) Acquire(ctx context.Context, resource string, timeout time.Duration) (*Held, error) {
	return m.AcquireWithCount(ctx, resource, timeout, nil)
}

// AcquireWithCount acquires with an optional task_count recorded in the
// sentinel (used by the spawn boundary).
func (m *Manager) AcquireWithCount(ctx context.Context, resource string, timeout time.Duration, taskCount *int) (*Held, error) {
	deadline := time.Now().Add(timeout)
	path := SentinelPath(resource)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "acquiring lock")
		}

		m.clearIfStale(resource)

		held, err := m.tryAcquire(path, taskCount)
		if err == nil {
			return held, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "writing lock sentinel")
		}

		if time.Now().After(deadline) {
			return nil, errors.LockTimeout(resource, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "acquiring lock")
		case <-time.After(m.retryInterval):
		}
	}
}

// tryAcquire makes one O_EXCL attempt on the sentinel path.
func (m *Manager) tryAcquire(path string, taskCount *int) (*Held, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	s := Sentinel{
		CreatedAt: time.Now().UTC(),
		PID:       os.Getpid(),
		TaskCount: taskCount,
	}
	data, merr := json.Marshal(&s)
	if merr != nil {
		f.Close()
		os.Remove(path)
		return nil, merr
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Held{path: path, taskCount: taskCount}, nil
}

// WithLock acquires the resource with the default timeout, runs fn,
// and releases. Implements the store package's Locker.
func (m *Manager) WithLock(ctx context.Context, resource string, fn func() error) error {
	held, err := m.Acquire(ctx, resource, m.timeout)
	if err != nil {
		return err
	}
	defer held.Release()
	return fn()
}

// Held represents an acquired lock.
type Held struct {
	path      string
	taskCount *int
	released  atomic.Bool
}

// Path returns the sentinel file path.
func (h *Held) Path() string {
	return h.path
}

// Release removes the sentinel. Idempotent.
func (h *Held) Release() error {
	if h.released.Swap(true) {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "releasing lock")
	}
	return nil
}

// Refresh rewrites the sentinel's created_at as a lease heartbeat so a
// long-held lock never trips the staleness bound.
func (h *Held) Refresh() error {
	if h.released.Load() {
		return errors.Internal("refresh on released lock")
	}
	s := Sentinel{
		CreatedAt: time.Now().UTC(),
		PID:       os.Getpid(),
		TaskCount: h.taskCount,
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return errors.Wrap(err, "refreshing lock sentinel")
	}
	return nil
}

// SetPID rewrites the sentinel to name a different holder, typically a
// process spawned under this claim. Staleness tracking then follows
// that pid instead of the acquirer's.
func (h *Held) SetPID(pid int) error {
	if h.released.Load() {
		return errors.Internal("set pid on released lock")
	}
	s := Sentinel{
		CreatedAt: time.Now().UTC(),
		PID:       pid,
		TaskCount: h.taskCount,
	}
	data, err := json.Marshal(&s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return errors.Wrap(err, "rewriting lock sentinel")
	}
	return nil
}

// HoldWithLease refreshes the lock every interval until ctx is done or
// the lock is released. Runs in its own goroutine.
func (h *Held) HoldWithLease(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if h.released.Load() {
					return
				}
				h.Refresh()
			}
		}
	}()
}

// pidAlive probes a pid with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but is owned by someone else.
	return err == syscall.EPERM
}

// Describe formats a sentinel for health-check output.
func Describe(s *Sentinel) string {
	if s == nil {
		return "unlocked"
	}
	return fmt.Sprintf("pid=%d age=%s", s.PID, s.Age().Round(time.Second))
}
