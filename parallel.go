package oxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ParallelAgent invokes every permitted tool concurrently with the
// same arguments, tagged with one shared parallel id, then asks its
// LLM to summarize the enumerated branch outputs. A branch that fails
// contributes an empty string rather than aborting the join: partial
// fan-out degradation is data, not an error.
type ParallelAgent struct {
	Base
	agentCore
	pool *Pool
}

var _ Component = (*ParallelAgent)(nil)
var _ permittedLister = (*ParallelAgent)(nil)

// NewParallelAgent creates a ParallelAgent. Fan-out runs on a bounded
// per-instance worker pool with direct handoff; the default saturation
// policy is caller-runs, so an oversubscribed fan-out slows down
// instead of queueing unboundedly. Worker count defaults to the
// semaphore permit count, or 4.
func NewParallelAgent(name, llm string, opts ...Option) *ParallelAgent {
	cfg := buildConfig(opts)
	workers := cfg.workers
	if workers <= 0 {
		workers = cfg.permits
	}
	if workers <= 0 {
		workers = 4
	}
	return &ParallelAgent{
		Base:      newBase(name, CategoryAgent, cfg),
		agentCore: newAgentCore(llm, cfg),
		pool:      NewPool(workers, 0, cfg.policy),
	}
}

// Close releases the fan-out pool.
func (a *ParallelAgent) Close() { a.pool.Close() }

// Exec implements Component: fan out, join all, summarize.
func (a *ParallelAgent) Exec(ctx context.Context, req *Request) (*Response, error) {
	if len(a.tools) == 0 {
		return nil, &ErrConfiguration{Component: a.Name(), Message: "parallel agent has no permitted tools"}
	}

	parallelID := NewID()
	results := make([]string, len(a.tools))
	var wg sync.WaitGroup

	for i, name := range a.tools {
		i, name := i, name
		wg.Add(1)
		branch := func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					a.MAS().auditLog("parallel branch panic", "agent", a.Name(), "branch", name, "panic", fmt.Sprint(p))
					results[i] = ""
				}
			}()
			resp := req.Call(ctx, map[string]any{
				"callee":      name,
				"arguments":   copyArgs(req.Arguments),
				"parallel_id": parallelID,
			})
			if resp.Failed() {
				a.MAS().auditLog("parallel branch degraded", "agent", a.Name(), "branch", name, "error", resp.OutputString())
				results[i] = ""
				return
			}
			results[i] = resp.OutputString()
		}
		if err := a.pool.Submit(branch); err != nil {
			// Closed pool: run inline so the join still completes.
			branch()
		}
	}

	// Join-all barrier: the summary only reads results after every
	// branch has returned, success or degraded-empty.
	wg.Wait()

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	enumerated := b.String()

	if a.llm == "" {
		return &Response{State: StateCompleted, Output: enumerated, Req: req}, nil
	}

	mem := a.buildMemory(req)
	mem = append(mem, UserMessage(enumerated))
	resp, content, _ := a.callLLM(ctx, req, mem, nil)
	if resp.Failed() {
		return &Response{State: StateFailed, Output: resp.OutputString(), Req: req}, nil
	}
	out := &Response{State: StateCompleted, Output: content, Req: req}
	out.Extra = resp.Extra
	return out, nil
}
