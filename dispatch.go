package oxy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// dispatch runs the full pipeline for one request: permission check,
// pre-processing (node stamping, trace lineage, group binding),
// pre-save, semaphore-gated timeout-wrapped execution, and
// post-processing (message emission, trace/node/history persistence).
//
// Every failure below this boundary is converted into a FAILED
// response; nothing is rethrown past Start, so sibling branches of a
// fan-out are unaffected by one failing leaf.
func (m *MAS) dispatch(ctx context.Context, req *Request) (resp *Response) {
	req.normalize()
	req.Global = m.global

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("dispatch panic", "callee", req.Callee, "panic", p)
			resp = failedResponse(req, &ErrToolInvocation{Tool: req.Callee, Message: fmt.Sprintf("panic: %v", p)})
		}
	}()

	comp, ok := m.Get(req.Callee)
	if !ok {
		return failedResponse(req, &ErrConfiguration{Component: req.Callee, Message: "callee not found in registry"})
	}
	req.CalleeCategory = comp.Category()

	var span Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "dispatch",
			StringAttr("oxy.callee", req.Callee),
			StringAttr("oxy.caller", req.Caller),
			StringAttr("oxy.trace_id", req.TraceID),
		)
		defer span.End()
	}

	// 1. Permission check.
	if err := m.checkPermission(req); err != nil {
		m.auditLog("permission denied", "caller", req.Caller, "callee", req.Callee, "trace_id", req.TraceID)
		if span != nil {
			span.Error(err)
		}
		return failedResponse(req, err)
	}

	// 2. Pre-processing: stamp this hop, then lineage and group.
	m.preProcess(ctx, req)
	if pp, ok := comp.(PreProcessor); ok {
		if err := pp.PreProcess(ctx, req); err != nil {
			if span != nil {
				span.Error(err)
			}
			return failedResponse(req, err)
		}
	}

	// 3. Pre-save: make the call traceable before it runs.
	m.preSave(ctx, req)

	// 4-6. Admission gate + execution under the component timeout.
	start := time.Now()
	resp = m.runGated(ctx, comp, req)
	resp.Req = req

	m.auditLog("dispatched",
		"caller", req.Caller, "callee", req.Callee,
		"trace_id", req.TraceID, "state", resp.State.String(),
		"took", time.Since(start).String())
	if span != nil {
		span.SetAttr(StringAttr("oxy.state", resp.State.String()))
	}
	if m.metrics != nil {
		m.metrics.Dispatch(ctx, req.Callee, req.CalleeCategory, resp.State, time.Since(start))
	}

	// 7. Post-processing hooks, message emission, persistence.
	if pp, ok := comp.(PostProcessor); ok {
		if err := pp.PostProcess(ctx, req, resp); err != nil {
			m.logger.Warn("post-process hook failed", "callee", req.Callee, "error", err)
		}
	}
	m.postSendMessage(ctx, req, resp)
	m.postSave(ctx, req, resp)

	return resp
}

// preProcess stamps the node identity and hop onto the request and
// applies the lineage and group inheritance rules. A parent's
// pre-processing always precedes any child's: children are built from
// the already-stamped parent.
func (m *MAS) preProcess(ctx context.Context, req *Request) {
	req.NodeID = NewID()
	req.NodeIDStack = append(req.NodeIDStack, req.NodeID)
	// The call stack holds component names from the tree root down.
	// Call trims the inherited stack by one level, so re-appending the
	// caller here never duplicates it.
	req.CallStack = append(req.CallStack, req.Caller, req.Callee)

	prior := m.adoptLineage(ctx, req)
	if req.CallerCategory == CategoryUser {
		m.bindGroup(req, prior)
	}
}

// checkPermission enforces the category-based ACL: an agent may only
// call components on its permitted list. User-originated calls and
// callers without a permitted list pass.
func (m *MAS) checkPermission(req *Request) error {
	if req.CallerCategory == CategoryUser {
		return nil
	}
	caller, ok := m.Get(req.Caller)
	if !ok {
		return nil
	}
	pl, ok := caller.(permittedLister)
	if !ok {
		return nil
	}
	for _, name := range pl.PermittedTools() {
		if name == req.Callee {
			return nil
		}
	}
	return &ErrPermission{Caller: req.Caller, Callee: req.Callee}
}

// runGated acquires the component's semaphore (when configured) and
// runs Exec, the whole of it bounded by the component timeout. The
// timeout cancels the execution context best-effort; blocking native
// I/O cannot be preempted.
func (m *MAS) runGated(ctx context.Context, comp Component, req *Request) *Response {
	b := baseOf(comp)

	var timeout time.Duration
	if b != nil && b.timeout > 0 {
		timeout = b.timeout
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var sem *Semaphore
	if b != nil && b.sem != nil {
		waitStart := time.Now()
		err := b.sem.Acquire(ctx, b.wait)
		if m.metrics != nil {
			var st *ErrSemaphoreTimeout
			m.metrics.AdmissionWait(ctx, comp.Name(), time.Since(waitStart), errors.As(err, &st))
		}
		if err != nil {
			var st *ErrSemaphoreTimeout
			if errors.As(err, &st) {
				return failedResponse(req, err)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return failedResponse(req, &ErrExecutionTimeout{Component: comp.Name(), Limit: timeout})
			}
			return failedResponse(req, err)
		}
		sem = b.sem
	}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		// The permit is held until Exec actually returns. On a timeout
		// the caller moves on, but a non-cooperative component keeps its
		// slot occupied, so the admission bound stays exact.
		if sem != nil {
			defer sem.Release()
		}
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &ErrToolInvocation{Tool: comp.Name(), Message: fmt.Sprintf("panic: %v", p)}}
			}
		}()
		r, err := comp.Exec(ctx, req)
		done <- result{resp: r, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return failedResponse(req, res.err)
		}
		if res.resp == nil {
			return &Response{State: StateCompleted, Req: req}
		}
		return res.resp
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failedResponse(req, &ErrExecutionTimeout{Component: comp.Name(), Limit: timeout})
		}
		return failedResponse(req, ctx.Err())
	}
}

// postSendMessage emits the per-hop message for agent-category
// callees: "answer" for the user-facing top of the tree, "observation"
// for intermediate hops. Skipped entirely for a broken call tree so a
// stopping tool does not trigger further bookkeeping.
func (m *MAS) postSendMessage(ctx context.Context, req *Request, resp *Response) {
	if req.Canceled() {
		return
	}
	if req.CalleeCategory != CategoryAgent && req.CalleeCategory != CategoryFlow {
		return
	}
	msgType := "observation"
	if req.CallerCategory == CategoryUser {
		msgType = "answer"
	}
	m.sendMessage(ctx, req, map[string]any{
		"type":    msgType,
		"content": resp.OutputString(),
		"state":   resp.State.String(),
	})
}
