package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/vinayprograms/autokit/errors"
)

// Handler executes one command for a registered tool and returns the
// action's result object.
type Handler func(ctx context.Context, cmd Command) (map[string]interface{}, error)

// Registry maps tool names to handlers. Dispatch through the registry
// is the only way a rule's action touches the outside world.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a tool name to a handler.
func (r *Registry) Register(tool string, h Handler) error {
	if tool == "" {
		return errors.InvalidInput("tool name must not be empty")
	}
	if h == nil {
		return errors.InvalidInput("handler must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[tool]; exists {
		return errors.Duplicate(tool)
	}
	r.handlers[tool] = h
	return nil
}

// SetFallback installs the handler used for unregistered tools.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Tools returns the registered tool names.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		tools = append(tools, name)
	}
	return tools
}

// Dispatch routes a command to its tool's handler, or to the fallback
// when the tool is unregistered. A panicking handler surfaces as an
// error rather than taking the engine loop down.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) (result map[string]interface{}, err error) {
	r.mu.RLock()
	h, ok := r.handlers[cmd.Tool]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return nil, errors.NotFound(fmt.Sprintf("no handler for tool %q", cmd.Tool))
		}
		h = fallback
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = errors.RecoverPanic(recovered)
		}
	}()
	return h(ctx, cmd)
}

// ExecFallback returns a handler that runs the tool name as an
// external command: `<tool> <action> <params-json>`. If stdout parses
// as a JSON object it becomes the result; otherwise the raw text is
// returned under "output".
func ExecFallback() Handler {
	return func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		paramsJSON, err := json.Marshal(cmd.Params)
		if err != nil {
			return nil, errors.InvalidInput("params are not serializable", errors.WithCause(err))
		}

		proc := exec.CommandContext(ctx, cmd.Tool, cmd.Action, string(paramsJSON))
		var stdout, stderr bytes.Buffer
		proc.Stdout = &stdout
		proc.Stderr = &stderr
		if err := proc.Run(); err != nil {
			return nil, errors.Wrapf(err, "tool %s failed: %s", cmd.Tool, stderr.String())
		}

		var result map[string]interface{}
		if err := json.Unmarshal(stdout.Bytes(), &result); err == nil {
			return result, nil
		}
		return map[string]interface{}{"output": stdout.String()}, nil
	}
}
