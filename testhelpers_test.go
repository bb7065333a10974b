package oxy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oxyrun/oxy/store/memory"
)

// newTestMAS builds a registry backed by an in-memory store.
func newTestMAS(t interface{ Cleanup(func()) }) *MAS {
	m := NewMAS("test", WithStore(memory.New()))
	t.Cleanup(m.Close)
	return m
}

// scriptedProvider returns canned responses in order, then repeats the
// last one. Thread-safe.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	errs      []error
	calls     int
	requests  []ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return ChatResponse{}, p.errs[i]
	}
	if len(p.responses) == 0 {
		return ChatResponse{Content: "ok"}, nil
	}
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// textResponse is a convenience for a plain-content completion.
func textResponse(content string) ChatResponse {
	return ChatResponse{Content: content}
}

// toolCallResponse is a completion that calls one tool.
func toolCallResponse(tool string, args map[string]any) ChatResponse {
	raw, _ := json.Marshal(args)
	return ChatResponse{ToolCalls: []ToolCall{{ID: "call_1", Name: tool, Args: raw}}}
}

// recordingComponent captures the requests it executes and returns a
// fixed output. fn, when set, runs inside Exec.
type recordingComponent struct {
	Base
	mu       sync.Mutex
	requests []*Request
	output   any
	err      error
	delay    time.Duration
	fn       func(ctx context.Context, req *Request) (*Response, error)
}

func newRecorder(name string, output any, opts ...Option) *recordingComponent {
	return &recordingComponent{
		Base:   newBase(name, CategoryTool, buildConfig(opts)),
		output: output,
	}
}

func (c *recordingComponent) Exec(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fn != nil {
		return c.fn(ctx, req)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &Response{State: StateCompleted, Output: c.output, Req: req}, nil
}

func (c *recordingComponent) recorded() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Request(nil), c.requests...)
}
