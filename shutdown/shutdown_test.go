package shutdown

import (
	"context"
	"io"
	"testing"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/logging"
)

func quietCoordinator(opts ...Option) *Coordinator {
	l := logging.New()
	l.SetOutput(io.Discard)
	return NewCoordinator(append([]Option{WithLogger(l)}, opts...)...)
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	c := quietCoordinator()
	var order []string
	for _, name := range []string{"store", "engine", "lease"} {
		n := name
		c.Register(n, func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	want := []string{"lease", "engine", "store"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("Order = %v, want %v", order, want)
		}
	}
}

func TestShutdownIdempotent(t *testing.T) {
	c := quietCoordinator()
	calls := 0
	c.Register("once", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Shutdown()
	c.Shutdown()
	if calls != 1 {
		t.Errorf("Handler ran %d times, want 1", calls)
	}
}

func TestShutdownCollectsFailures(t *testing.T) {
	c := quietCoordinator()
	ran := false
	c.Register("early", func(ctx context.Context) error {
		ran = true
		return nil
	})
	c.Register("failing", func(ctx context.Context) error {
		return errors.Internal("flush failed")
	})

	err := c.Shutdown()
	if err == nil {
		t.Fatal("Shutdown should report the failing step")
	}
	if !ran {
		t.Error("A failing step must not stop later steps")
	}
}
