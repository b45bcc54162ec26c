package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrToolNotFound = errors.New("tool not found")

// Registry dispatches tool calls to registered tools by exact name match.
// Registration order is preserved so declarations reach the provider in a
// stable order.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(toolList ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range toolList {
		r.Register(t)
	}
	return r
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if name == "" {
		return
	}
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all registered tools in registration order, suitable
// for declaring to the provider.
func (r *Registry) Definitions() []Tool {
	defs := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// Invoke looks up a tool by name and executes it. Unknown names fail with
// ErrToolNotFound; an already-cancelled context fails before the handler
// runs. Handler failures are returned as errors; the caller decides whether
// they are structural or get reported back to the model as text.
func (r *Registry) Invoke(ctx context.Context, call ToolCall) (*ToolCallResult, error) {
	name := call.Function.Name
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", name)
	}

	slog.Debug("Invoking tool", "tool", name, "call_id", call.ID)
	result, err := tool.Handler(ctx, call)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = ResultSuccess("")
	}
	return result, nil
}
