package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/logging"
)

// handler is one registered cleanup step.
type handler struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator runs registered cleanup steps in reverse registration
// order when the process stops, each under a shared deadline. The
// run-engine loop registers its engine stop, lease release, and index
// close here so a SIGTERM drains cleanly.
type Coordinator struct {
	mu       sync.Mutex
	handlers []handler
	timeout  time.Duration
	log      *logging.Logger
	done     atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds the whole shutdown sequence.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: 10 * time.Second,
		log:     logging.New().WithComponent("shutdown"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a cleanup step. Steps run last-registered first, the
// reverse of startup order.
func (c *Coordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler{name: name, fn: fn})
}

// Shutdown runs all registered steps under the timeout. Idempotent;
// only the first call does work. Step failures are collected, not
// short-circuited: later steps still run.
func (c *Coordinator) Shutdown() error {
	if c.done.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.mu.Lock()
	steps := make([]handler, len(c.handlers))
	copy(steps, c.handlers)
	c.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.fn(ctx); err != nil {
			c.log.Error("shutdown_step_failed", map[string]interface{}{
				"step":  step.name,
				"error": err.Error(),
			})
			errs = append(errs, errors.Wrapf(err, "shutdown step %s", step.name))
			continue
		}
		c.log.Debug("shutdown_step_done", map[string]interface{}{"step": step.name})
	}
	return errors.Join(errs...)
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
// The returned stop function releases the signal hookup.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
