package oxy

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Category classifies a registered component. The permission check and
// the trace-lineage algorithm key off the caller's category; "user"
// marks a top-level, externally-originated call.
type Category string

const (
	CategoryUser  Category = "user"
	CategoryAgent Category = "agent"
	CategoryTool  Category = "tool"
	CategoryLLM   Category = "llm"
	CategoryFlow  Category = "flow"
)

// Component is a named, callable unit registered with a MAS. Every
// call to it runs through the full dispatch pipeline.
type Component interface {
	Name() string
	Description() string
	Category() Category
	// Exec performs the component-specific work. A returned error is
	// converted to a FAILED response at the pipeline boundary; it never
	// escapes past Start.
	Exec(ctx context.Context, req *Request) (*Response, error)
}

// PreProcessor is an optional hook run after the base pre-processing
// (node stamping, trace lineage) and before execution. An error fails
// the call.
type PreProcessor interface {
	PreProcess(ctx context.Context, req *Request) error
}

// PostProcessor is an optional hook run after execution with the
// assembled response. Errors are logged, not fatal.
type PostProcessor interface {
	PostProcess(ctx context.Context, req *Request, resp *Response) error
}

// Describable components expose an LLM-consumable tool definition so
// agents can offer them to a model for selection.
type Describable interface {
	Definition() ToolDefinition
}

// Default execution timeouts by category.
const (
	DefaultLLMTimeout   = 300 * time.Second
	DefaultToolTimeout  = 60 * time.Second
	DefaultAgentTimeout = 600 * time.Second
)

// config holds shared construction-time settings for all component
// kinds. Options only need to be wired here once.
type config struct {
	description   string
	permits       int
	admissionWait time.Duration
	timeout       time.Duration
	logger        *slog.Logger
	tracer        Tracer

	// agent settings
	tools   []string
	prompt  string
	maxIter int

	// parallel settings
	workers int
	policy  SaturationPolicy

	// transport settings
	maxRetries     int
	retryDelay     time.Duration
	shareCallStack bool
	sendAnswer     bool
	httpClient     *http.Client
	streamWait     time.Duration
	topologyURL    string
}

// Option configures a component at construction time.
type Option func(*config)

// WithDescription sets the human-readable component description used
// in tool definitions and topology output.
func WithDescription(d string) Option {
	return func(c *config) { c.description = d }
}

// WithPermits bounds concurrent in-flight executions of the component.
// Zero (the default) means unbounded.
func WithPermits(n int) Option {
	return func(c *config) { c.permits = n }
}

// WithAdmissionWait caps how long a call waits for a permit before
// failing with a semaphore timeout. Zero waits until the call's
// context is done.
func WithAdmissionWait(d time.Duration) Option {
	return func(c *config) { c.admissionWait = d }
}

// WithTimeout sets the per-call execution timeout, replacing the
// category default.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLogger sets a structured logger. If not set, the component
// inherits the registry's logger at registration.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithComponentTracer sets a span tracer. If not set, the component
// inherits the registry's tracer at registration.
func WithComponentTracer(t Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// WithTools sets the permitted tool/sub-agent names an agent may call.
// The permission check enforces this list on every sub-call.
func WithTools(names ...string) Option {
	return func(c *config) { c.tools = append(c.tools, names...) }
}

// WithPrompt sets the agent's system prompt.
func WithPrompt(p string) Option {
	return func(c *config) { c.prompt = p }
}

// WithMaxIter bounds an agent's reasoning loop iterations.
func WithMaxIter(n int) Option {
	return func(c *config) { c.maxIter = n }
}

// WithWorkers sets the fan-out worker count for a ParallelAgent.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithSaturationPolicy sets the fan-out pool's saturation policy.
func WithSaturationPolicy(p SaturationPolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithMaxRetries sets how many times a transport adapter retries after
// a failed first attempt (1 allows one retry, two tries total).
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithRetryDelay sets the fixed delay between transport attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) { c.retryDelay = d }
}

// WithShareCallStack propagates the local call stack to a remote agent
// so it continues the distributed trace instead of starting a fresh
// top-level call.
func WithShareCallStack(share bool) Option {
	return func(c *config) { c.shareCallStack = share }
}

// WithSendAnswer forwards remote answer events to the local message
// bus as they arrive.
func WithSendAnswer(send bool) Option {
	return func(c *config) { c.sendAnswer = send }
}

// WithHTTPClient sets the HTTP client used by a transport adapter.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithStreamWait caps how long a transport waits for stream completion
// after connecting.
func WithStreamWait(d time.Duration) Option {
	return func(c *config) { c.streamWait = d }
}

// WithTopologyURL sets the endpoint a remote agent fetches the far
// side's organizational tree from at Start. Without it the remote
// agent appears as a leaf in the topology.
func WithTopologyURL(u string) Option {
	return func(c *config) { c.topologyURL = u }
}

func buildConfig(opts []Option) config {
	var c config
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Base carries the settings every component kind shares: identity,
// category, admission control, timeout, logging, tracing, and the
// owning registry. Concrete components embed it.
type Base struct {
	name        string
	description string
	category    Category
	permits     int
	wait        time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	tracer      Tracer
	sem         *Semaphore
	mas         *MAS
}

func newBase(name string, category Category, cfg config) Base {
	b := Base{
		name:        name,
		description: cfg.description,
		category:    category,
		permits:     cfg.permits,
		wait:        cfg.admissionWait,
		timeout:     cfg.timeout,
		logger:      cfg.logger,
		tracer:      cfg.tracer,
	}
	if b.timeout <= 0 {
		switch category {
		case CategoryLLM:
			b.timeout = DefaultLLMTimeout
		case CategoryTool:
			b.timeout = DefaultToolTimeout
		default:
			b.timeout = DefaultAgentTimeout
		}
	}
	if b.permits > 0 {
		b.sem = NewSemaphore(name, b.permits)
	}
	if b.logger == nil {
		b.logger = nopLogger
	}
	return b
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Description() string { return b.description }
func (b *Base) Category() Category  { return b.category }

// MAS returns the registry the component is attached to, or nil before
// registration.
func (b *Base) MAS() *MAS { return b.mas }

// based is implemented by every component embedding Base; the dispatch
// pipeline reads admission and timeout settings through it.
type based interface {
	base() *Base
}

func (b *Base) base() *Base { return b }

// attach wires registry-level defaults into the component.
func (b *Base) attach(m *MAS) {
	b.mas = m
	if b.logger == nopLogger && m.logger != nopLogger {
		b.logger = m.logger
	}
	if b.tracer == nil {
		b.tracer = m.tracer
	}
}

// baseOf extracts the Base of a component, or nil for components that
// do not embed one.
func baseOf(c Component) *Base {
	if bc, ok := c.(based); ok {
		return bc.base()
	}
	return nil
}

// permittedLister is implemented by agents that restrict which
// components they may call. The permission check and the topology
// builder both consume it.
type permittedLister interface {
	PermittedTools() []string
}
