package spawn

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/lock"
	"github.com/vinayprograms/autokit/logging"
)

// Spawner launches a worker process and returns its pid.
type Spawner interface {
	Spawn(ctx context.Context, taskCount int) (int, error)
}

// FuncSpawner adapts a function to the Spawner interface for tests.
type FuncSpawner func(ctx context.Context, taskCount int) (int, error)

// Spawn calls the function.
func (f FuncSpawner) Spawn(ctx context.Context, taskCount int) (int, error) {
	return f(ctx, taskCount)
}

// ExecSpawner launches the configured worker command detached, with
// the guard variable set so the child can never spawn another worker
// under itself.
type ExecSpawner struct {
	// Command is the worker argv.
	Command []string

	// GuardVar is the env var marking a process as the worker.
	GuardVar string
}

// Spawn starts the worker in its own session and releases the process
// handle; the sentinel, not the parent, tracks its lifetime.
func (e *ExecSpawner) Spawn(ctx context.Context, taskCount int) (int, error) {
	if len(e.Command) == 0 {
		return 0, errors.InvalidInput("no worker command configured")
	}

	cmd := exec.Command(e.Command[0], e.Command[1:]...)
	cmd.Env = append(os.Environ(), e.GuardVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "starting worker")
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}

// Handle is a worker claim: the execute-queue lock sentinel naming the
// spawned worker's pid. The claim outlives the spawning process; the
// next acquirer clears it once that pid dies or the age bound passes.
type Handle struct {
	PID       int
	TaskCount int

	held *lock.Held
}

// Release clears the worker claim. Idempotent.
func (h *Handle) Release() error {
	return h.held.Release()
}

// Manager guards worker spawning: at most one live worker, no
// self-nesting, stale claims cleared before refusing.
type Manager struct {
	locks    *lock.Manager
	spawner  Spawner
	resource string
	guardVar string
	log      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockManager sets the sentinel lock manager.
func WithLockManager(m *lock.Manager) Option {
	return func(s *Manager) { s.locks = m }
}

// WithLogger sets the manager's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Manager) { s.log = l }
}

// NewManager creates a spawn manager. The resource names the
// execute-queue claim; guardVar is the env var marking the worker
// process itself.
func NewManager(spawner Spawner, resource, guardVar string, opts ...Option) *Manager {
	m := &Manager{
		locks:    lock.NewManager(),
		spawner:  spawner,
		resource: resource,
		guardVar: guardVar,
		log:      logging.New().WithComponent("spawn"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Launch spawns a worker for taskCount queued tasks. Refused when this
// process is itself the worker, or when a live claim already exists.
// A stale claim (dead pid or past the staleness bound) is cleared and
// does not block.
func (m *Manager) Launch(ctx context.Context, taskCount int) (*Handle, error) {
	if m.guardVar != "" && os.Getenv(m.guardVar) != "" {
		return nil, errors.SpawnBlocked("process is the worker; refusing to nest")
	}

	count := taskCount
	held, err := m.locks.AcquireWithCount(ctx, m.resource, 0, &count)
	if err != nil {
		if errors.Is(err, errors.ErrCodeLockTimeout) {
			return nil, errors.SpawnBlocked("a worker claim is already live", errors.WithCause(err))
		}
		return nil, err
	}

	pid, err := m.spawner.Spawn(ctx, taskCount)
	if err != nil {
		held.Release()
		return nil, err
	}

	// The sentinel must name the worker, not this process: staleness
	// clears the claim when the worker dies, and a live worker keeps it
	// held after the spawner exits.
	if err := held.SetPID(pid); err != nil {
		held.Release()
		return nil, err
	}

	m.log.SpawnStarted(pid, taskCount)
	return &Handle{PID: pid, TaskCount: taskCount, held: held}, nil
}

// Inspect returns the current claim sentinel, or nil when no worker
// claim exists.
func (m *Manager) Inspect() (*lock.Sentinel, error) {
	return m.locks.Inspect(m.resource)
}
