package oxy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ToolFunc is a registered tool function. Arguments arrive resolved:
// declared defaults substituted, and any request-kind parameter bound
// to the in-flight *Request.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// FunctionHub is a reflection-free registry of callable functions.
// Registration is explicit and fail-fast; each registered function is
// exposed to the MAS as a first-class FunctionTool component.
type FunctionHub struct {
	mu     sync.RWMutex
	tools  map[string]*FunctionTool
	order  []string
	logger *slog.Logger
}

// HubOption configures a FunctionHub.
type HubOption func(*FunctionHub)

// WithHubLogger sets the hub's structured logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *FunctionHub) { h.logger = l }
}

// NewFunctionHub creates an empty hub.
func NewFunctionHub(opts ...HubOption) *FunctionHub {
	h := &FunctionHub{
		tools:  make(map[string]*FunctionTool),
		logger: nopLogger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds a function under name. It rejects blank names, empty
// descriptions, nil functions, and duplicates, protecting
// already-registered tools from being silently replaced.
func (h *FunctionHub) Register(name, description string, fn ToolFunc, params []ParamMeta, opts ...Option) error {
	if strings.TrimSpace(name) == "" {
		return &ErrConfiguration{Message: "register tool: blank name"}
	}
	if description == "" {
		return &ErrConfiguration{Component: name, Message: "register tool: empty description"}
	}
	if fn == nil {
		return &ErrConfiguration{Component: name, Message: "register tool: nil function"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[name]; exists {
		return &ErrConfiguration{Component: name, Message: "register tool: duplicate name"}
	}

	cfg := buildConfig(opts)
	if cfg.description == "" {
		cfg.description = description
	}
	t := &FunctionTool{
		Base: newBase(name, CategoryTool, cfg),
		meta: ToolMeta{Name: name, Description: description, Params: params},
		fn:   fn,
	}
	h.tools[name] = t
	h.order = append(h.order, name)
	h.logger.Debug("tool registered", "name", name, "params", len(params))
	return nil
}

// MustRegister is Register that panics on error, for wiring code.
func (h *FunctionHub) MustRegister(name, description string, fn ToolFunc, params []ParamMeta, opts ...Option) {
	if err := h.Register(name, description, fn, params, opts...); err != nil {
		panic(err)
	}
}

// Call invokes a registered function directly, outside the dispatch
// pipeline. Failures are wrapped with the tool name.
func (h *FunctionHub) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	h.mu.RLock()
	t, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return nil, &ErrConfiguration{Component: name, Message: "tool not registered"}
	}
	return t.invoke(ctx, nil, args)
}

// Tools returns the registered tools in registration order.
func (h *FunctionHub) Tools() []*FunctionTool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*FunctionTool, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.tools[name])
	}
	return out
}

// Names returns the registered tool names, sorted.
func (h *FunctionHub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := append([]string(nil), h.order...)
	sort.Strings(out)
	return out
}

// FunctionTool adapts one registered function to the Component
// contract. Exec maps request arguments onto the declared parameters,
// substituting defaults when absent and injecting the request itself
// for request-kind parameters.
type FunctionTool struct {
	Base
	meta ToolMeta
	fn   ToolFunc
}

var _ Component = (*FunctionTool)(nil)
var _ Describable = (*FunctionTool)(nil)

// Meta returns the tool's static metadata.
func (t *FunctionTool) Meta() ToolMeta { return t.meta }

// Definition implements Describable.
func (t *FunctionTool) Definition() ToolDefinition {
	def := t.meta.Definition()
	if def.Description == "" {
		def.Description = t.Description()
	}
	return def
}

// Exec implements Component.
func (t *FunctionTool) Exec(ctx context.Context, req *Request) (*Response, error) {
	out, err := t.invoke(ctx, req, req.Arguments)
	if err != nil {
		return nil, err
	}
	return &Response{State: StateCompleted, Output: out, Req: req}, nil
}

// invoke resolves arguments against the declared parameters and calls
// the function. A panic inside the function is converted into a tool
// invocation error rather than taking down the dispatch worker.
func (t *FunctionTool) invoke(ctx context.Context, req *Request, args map[string]any) (out any, err error) {
	resolved := make(map[string]any, len(t.meta.Params))
	for _, p := range t.meta.Params {
		if p.Kind == ParamRequest {
			resolved[p.Name] = req
			continue
		}
		if v, ok := args[p.Name]; ok {
			resolved[p.Name] = v
			continue
		}
		if p.Default != nil {
			resolved[p.Name] = p.Default
			continue
		}
		if p.Required {
			return nil, &ErrToolInvocation{Tool: t.meta.Name, Message: "missing required argument " + p.Name}
		}
	}
	if len(t.meta.Params) == 0 {
		// Undeclared tools receive the raw argument map.
		resolved = args
	}

	defer func() {
		if p := recover(); p != nil {
			err = &ErrToolInvocation{Tool: t.meta.Name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	out, err = t.fn(ctx, resolved)
	if err != nil {
		return nil, &ErrToolInvocation{Tool: t.meta.Name, Message: err.Error()}
	}
	return out, nil
}
