package oxy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oxyrun/oxy/store"
	"github.com/oxyrun/oxy/vector"
)

// MAS is the component registry and the owner of all cross-cutting
// state: global data, active call-tree tokens, group scopes, and the
// persistence/messaging side channel. The component map is read-mostly
// after Start; lookups take a read lock only.
type MAS struct {
	name string

	mu         sync.RWMutex
	components map[string]Component
	started    bool

	global  *Scope
	store   store.Store
	vectors vector.Store
	logger  *slog.Logger
	tracer  Tracer
	metrics Metrics

	bus    *messageBus
	audit  *Pool    // single worker, best-effort async audit logging
	active sync.Map // trace id -> *CancelToken
	groups sync.Map // group id -> *Scope

	topology *AgentNode
}

// MASOption configures a registry at construction time.
type MASOption func(*MAS)

// WithStore sets the trace/history/message document store. Without
// one, persistence side effects are skipped.
func WithStore(s store.Store) MASOption {
	return func(m *MAS) { m.store = s }
}

// WithVectorStore sets the vector-search backend handed to components
// that need it.
func WithVectorStore(v vector.Store) MASOption {
	return func(m *MAS) { m.vectors = v }
}

// WithGlobalData seeds the process-wide global scope. Set once here;
// read-only to requests afterwards.
func WithGlobalData(data map[string]any) MASOption {
	return func(m *MAS) { m.global = ScopeFrom(data) }
}

// WithMASLogger sets the registry's structured logger, inherited by
// components that were not given their own.
func WithMASLogger(l *slog.Logger) MASOption {
	return func(m *MAS) { m.logger = l }
}

// WithTracer sets the registry's span tracer, inherited by components
// that were not given their own.
func WithTracer(t Tracer) MASOption {
	return func(m *MAS) { m.tracer = t }
}

// WithMetrics sets the registry's measurement sink. Without one,
// recording is skipped.
func WithMetrics(mt Metrics) MASOption {
	return func(m *MAS) { m.metrics = mt }
}

// NewMAS creates a registry. Register components, then call Start.
func NewMAS(name string, opts ...MASOption) *MAS {
	m := &MAS{
		name:       name,
		components: make(map[string]Component),
		global:     NewScope(),
		logger:     nopLogger,
		bus:        newMessageBus(),
	}
	for _, o := range opts {
		o(m)
	}
	m.audit = NewPool(1, 64, PolicyReject)
	return m
}

// Name returns the registry name; store index names are derived from
// it ("<name>_trace", "<name>_history", ...).
func (m *MAS) Name() string { return m.name }

// Store returns the configured document store, or nil.
func (m *MAS) Store() store.Store { return m.store }

// Vectors returns the configured vector store, or nil.
func (m *MAS) Vectors() vector.Store { return m.vectors }

// GlobalData returns the process-wide global scope.
func (m *MAS) GlobalData() *Scope { return m.global }

// Register adds a component under its name. Registration fails fast on
// blank names and duplicates so an existing component is never
// silently replaced.
func (m *MAS) Register(c Component) error {
	name := c.Name()
	if name == "" {
		return &ErrConfiguration{Message: "register: blank component name"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.components[name]; exists {
		return &ErrConfiguration{Component: name, Message: "already registered"}
	}
	if b := baseOf(c); b != nil {
		b.attach(m)
	}
	m.components[name] = c
	m.logger.Debug("component registered", "name", name, "category", c.Category())
	return nil
}

// MustRegister is Register that panics on error; for wiring code where
// a duplicate is a programming bug.
func (m *MAS) MustRegister(c Component) {
	if err := m.Register(c); err != nil {
		panic(err)
	}
}

// RegisterHub registers every function of a FunctionHub as a
// first-class FunctionTool component.
func (m *MAS) RegisterHub(h *FunctionHub) error {
	for _, t := range h.Tools() {
		if err := m.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a component by name.
func (m *MAS) Get(name string) (Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	return c, ok
}

// Components returns a snapshot of registered component names.
func (m *MAS) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.components))
	for n := range m.components {
		names = append(names, n)
	}
	return names
}

// Start finalizes the registry: builds the static organizational
// topology (including remote sub-trees) and starts serving. Components
// may still be registered afterwards, but the topology reflects the
// Start-time view.
func (m *MAS) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.topology = m.buildTopology(ctx)
	m.logger.Info("registry started", "name", m.name, "components", len(m.Components()))
	return nil
}

// Close shuts down the message bus and drains the audit pool. The
// document and vector stores are owned by the caller and closed there.
func (m *MAS) Close() {
	m.bus.close()
	m.audit.Close()
	m.logger.Info("registry closed", "name", m.name)
}

// NewRequest builds a user-originated request bound to this registry.
func (m *MAS) NewRequest(callee, query string, args map[string]any) *Request {
	r := &Request{
		RequestID:      NewID(),
		Caller:         string(CategoryUser),
		CallerCategory: CategoryUser,
		Callee:         callee,
		Query:          query,
		Arguments:      copyArgs(args),
		Global:         m.global,
		mas:            m,
	}
	r.normalize()
	return r
}

// Chat is the one-line convenience entry: build a user request and run
// it to completion.
func (m *MAS) Chat(ctx context.Context, callee, query string) *Response {
	return m.NewRequest(callee, query, nil).Start(ctx)
}

// BreakTrace fires the cancel token of an active call tree. Returns
// false when no task with that trace id is in flight.
func (m *MAS) BreakTrace(traceID string) bool {
	v, ok := m.active.Load(traceID)
	if !ok {
		return false
	}
	v.(*CancelToken).Cancel()
	return true
}

// ActiveTraces returns the trace ids of in-flight call trees.
func (m *MAS) ActiveTraces() []string {
	var out []string
	m.active.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// Topology returns the organizational tree built at Start, or nil.
func (m *MAS) Topology() *AgentNode { return m.topology }

func (m *MAS) trackTask(traceID string, t *CancelToken) {
	m.active.Store(traceID, t)
}

func (m *MAS) untrackTask(traceID string) {
	m.active.Delete(traceID)
}

// groupScope returns the in-process shared scope for a group, creating
// it on first use. All concurrent requests carrying the same group id
// observe the same scope.
func (m *MAS) groupScope(groupID string) *Scope {
	v, _ := m.groups.LoadOrStore(groupID, NewScope())
	return v.(*Scope)
}

// auditLog submits a log record to the single-worker audit pool so a
// slow sink never sits on the dispatch path. Records are dropped when
// the pool is saturated.
func (m *MAS) auditLog(msg string, args ...any) {
	logger := m.logger
	_ = m.audit.Submit(func() { logger.Info(msg, args...) })
}

func (m *MAS) indexName(suffix string) string {
	return m.name + "_" + suffix
}
