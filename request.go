package oxy

import (
	"context"
)

// FileRef describes one attachment carried with a request.
type FileRef struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Request is one in-flight invocation: who is calling whom, with what
// payload, under which trace lineage and data scopes. Requests are
// per-call and short-lived; each dispatch gets its own instance, so
// concurrency safety rests on the Scope maps and the registry's shared
// stores, not on the Request itself.
type Request struct {
	// Identity.
	RequestID    string
	TraceID      string
	FromTraceID  string
	RootTraceIDs []string // ordered trace lineage, append-only
	NodeID       string
	NodeIDStack  []string // ancestor node ids
	GroupID      string
	ParallelID   string // correlates sibling branches of one fan-out

	// Routing.
	Caller         string
	CallerCategory Category
	Callee         string
	CalleeCategory Category
	CallStack      []string // ordered caller->callee hops from the tree root

	// Payload.
	Arguments map[string]any
	Query     string

	// Data scopes. Never nil once the request enters the pipeline.
	Shared *Scope
	Group  *Scope
	Global *Scope

	// Behavior flags.
	SaveHistory bool
	Session     string
	Attachments []FileRef

	mas    *MAS
	cancel *CancelToken
}

// normalize defaults nil scopes and missing identifiers so the
// pipeline never sees a nil map or an empty request id.
func (r *Request) normalize() {
	if r.RequestID == "" {
		r.RequestID = NewID()
	}
	if r.Arguments == nil {
		r.Arguments = make(map[string]any)
	}
	if r.Shared == nil {
		r.Shared = NewScope()
	}
	if r.Group == nil {
		r.Group = NewScope()
	}
	if r.Global == nil {
		r.Global = NewScope()
	}
	if r.cancel == nil {
		r.cancel = NewCancelToken()
	}
}

// Start is the top-level entry point. It seeds a new trace id when
// absent, registers the call tree's cancel token with the registry,
// and runs the dispatch pipeline. Errors never escape: the worst
// outcome is a FAILED response.
func (r *Request) Start(ctx context.Context) *Response {
	r.normalize()
	if r.TraceID == "" {
		r.TraceID = NewID()
	}
	if r.Caller == "" {
		r.Caller = string(CategoryUser)
	}
	if r.CallerCategory == "" {
		r.CallerCategory = CategoryUser
	}
	if r.mas == nil {
		return failedResponse(r, &ErrConfiguration{Message: "request not bound to a registry"})
	}

	r.mas.trackTask(r.TraceID, r.cancel)
	defer r.mas.untrackTask(r.TraceID)

	return r.mas.dispatch(ctx, r)
}

// Call builds a child request from callRequest and executes it
// synchronously through the full pipeline. Recognized keys:
//
//	"callee"      string          - required target component name
//	"arguments"   map[string]any  - child payload
//	"query"       string          - child query (defaults to parent's)
//	"parallel_id" string          - fan-out correlation tag
//
// The child inherits the trace identity, node-id stack, group and
// global scopes, and a copy of the shared scope (mutations by the
// child do not flow back). The call stack is trimmed by one level so
// pre-processing re-appends the immediate caller without duplication.
func (r *Request) Call(ctx context.Context, callRequest map[string]any) *Response {
	callee, _ := callRequest["callee"].(string)
	if callee == "" {
		return failedResponse(r, &ErrConfiguration{Message: "call: missing callee"})
	}
	if r.mas == nil {
		return failedResponse(r, &ErrConfiguration{Component: callee, Message: "request not bound to a registry"})
	}

	args, _ := callRequest["arguments"].(map[string]any)
	child := &Request{
		RequestID:    NewID(),
		TraceID:      r.TraceID,
		FromTraceID:  r.FromTraceID,
		RootTraceIDs: append([]string(nil), r.RootTraceIDs...),
		GroupID:      r.GroupID,

		Caller:         r.Callee,
		CallerCategory: r.CalleeCategory,
		Callee:         callee,

		Arguments: copyArgs(args),
		Query:     r.Query,

		Shared: r.Shared.Clone(),
		Group:  r.Group,
		Global: r.Global,

		SaveHistory: false,
		Session:     r.Session,
		Attachments: r.Attachments,

		mas:    r.mas,
		cancel: r.cancel,
	}
	if q, ok := callRequest["query"].(string); ok && q != "" {
		child.Query = q
	}
	if pid, ok := callRequest["parallel_id"].(string); ok {
		child.ParallelID = pid
	}
	child.CallStack = trimLast(r.CallStack)
	child.NodeIDStack = append([]string(nil), r.NodeIDStack...)
	child.normalize()

	return r.mas.dispatch(ctx, child)
}

// SendMessage forwards an event to the registry's message channel,
// tagged with the current trace and node identifiers. Two flags in the
// payload control routing: "_is_stored" persists the message to the
// message store and "_is_send" streams it to subscribers. Both default
// to true; the four combinations are honored exactly.
func (r *Request) SendMessage(ctx context.Context, payload map[string]any) {
	if r.mas == nil {
		return
	}
	r.mas.sendMessage(ctx, r, payload)
}

// Break fires the call tree's cooperative cancellation token. Tool
// implementations observe it via Canceled or Done; the framework skips
// remaining message bookkeeping for the canceled call.
func (r *Request) Break() {
	if r.cancel != nil {
		r.cancel.Cancel()
	}
}

// Canceled reports whether the call tree has been broken.
func (r *Request) Canceled() bool {
	return r.cancel != nil && r.cancel.Canceled()
}

// Done returns the cancellation channel for select loops.
func (r *Request) Done() <-chan struct{} {
	if r.cancel == nil {
		r.cancel = NewCancelToken()
	}
	return r.cancel.Done()
}

// Value looks key up across scopes with the fixed precedence:
// local arguments > shared > group > global.
func (r *Request) Value(key string) (any, bool) {
	if v, ok := r.Arguments[key]; ok {
		return v, true
	}
	if r.Shared != nil {
		if v, ok := r.Shared.Get(key); ok {
			return v, true
		}
	}
	if r.Group != nil {
		if v, ok := r.Group.Get(key); ok {
			return v, true
		}
	}
	if r.Global != nil {
		if v, ok := r.Global.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// StringValue is Value narrowed to strings, with a default.
func (r *Request) StringValue(key, def string) string {
	if v, ok := r.Value(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func copyArgs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// trimLast returns a copy of s without its final element.
func trimLast(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s[:len(s)-1]...)
}
