package oxy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/oxyrun/oxy/store"
)

func TestDispatch_UnknownCallee(t *testing.T) {
	m := newTestMAS(t)

	resp := m.Chat(context.Background(), "nobody", "hi")

	if !resp.Failed() {
		t.Fatalf("expected failed response, got %v", resp.State)
	}
	if !strings.Contains(resp.OutputString(), "callee not found in registry") {
		t.Errorf("unexpected output: %q", resp.OutputString())
	}
}

func TestDispatch_ComponentErrorBecomesFailedResponse(t *testing.T) {
	m := newTestMAS(t)
	rec := newRecorder("boom", nil)
	rec.err = errors.New("it broke")
	m.MustRegister(rec)

	resp := m.Chat(context.Background(), "boom", "hi")

	if !resp.Failed() {
		t.Fatalf("expected failed response, got %v", resp.State)
	}
	if !strings.Contains(resp.OutputString(), "it broke") {
		t.Errorf("output should carry the error, got %q", resp.OutputString())
	}
}

func TestDispatch_PanicBecomesFailedResponse(t *testing.T) {
	m := newTestMAS(t)
	rec := newRecorder("panicky", nil)
	rec.fn = func(ctx context.Context, req *Request) (*Response, error) {
		panic("oops")
	}
	m.MustRegister(rec)

	resp := m.Chat(context.Background(), "panicky", "hi")

	if !resp.Failed() {
		t.Fatalf("expected failed response, got %v", resp.State)
	}
	if !strings.Contains(resp.OutputString(), "oops") {
		t.Errorf("output should carry the panic value, got %q", resp.OutputString())
	}
}

func TestDispatch_ExecutionTimeout(t *testing.T) {
	m := newTestMAS(t)
	rec := newRecorder("slow", "done", WithTimeout(30*time.Millisecond))
	rec.delay = 500 * time.Millisecond
	m.MustRegister(rec)

	start := time.Now()
	resp := m.Chat(context.Background(), "slow", "hi")

	if !resp.Failed() {
		t.Fatalf("expected failed response, got %v", resp.State)
	}
	if !strings.Contains(resp.OutputString(), "execution timeout") {
		t.Errorf("expected timeout diagnostic, got %q", resp.OutputString())
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Errorf("dispatch did not return at the timeout")
	}
}

func TestDispatch_TimeoutKeepsPermitUntilExecReturns(t *testing.T) {
	m := newTestMAS(t)
	block := make(chan struct{})
	rec := newRecorder("guarded", nil,
		WithPermits(1),
		WithAdmissionWait(20*time.Millisecond),
		WithTimeout(60*time.Millisecond))
	rec.fn = func(ctx context.Context, req *Request) (*Response, error) {
		// Ignores the context on purpose: a non-cooperative component.
		<-block
		return &Response{State: StateCompleted, Output: "late", Req: req}, nil
	}
	m.MustRegister(rec)
	ctx := context.Background()

	resp := m.Chat(ctx, "guarded", "first")
	if !resp.Failed() || !strings.Contains(resp.OutputString(), "execution timeout") {
		t.Fatalf("first call should time out, got %v %q", resp.State, resp.OutputString())
	}

	// The first Exec is still running, so its permit must not be free.
	resp = m.Chat(ctx, "guarded", "second")
	if !resp.Failed() || !strings.Contains(resp.OutputString(), "semaphore timeout") {
		t.Fatalf("second call should hit admission control, got %v %q", resp.State, resp.OutputString())
	}

	// Once the component actually returns, the permit frees.
	close(block)
	deadline := time.Now().Add(time.Second)
	for {
		resp = m.Chat(ctx, "guarded", "third")
		if !resp.Failed() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("permit never freed after Exec returned: %q", resp.OutputString())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatch_PermissionDenied(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		toolCallResponse("forbidden", nil),
		textResponse("done"),
	}}
	m.MustRegister(NewLLM("llm", provider))
	m.MustRegister(newRecorder("allowed", "fine"))
	m.MustRegister(newRecorder("forbidden", "secret"))
	m.MustRegister(NewReActAgent("agent", "llm", WithTools("allowed")))

	resp := m.Chat(context.Background(), "agent", "do it")

	// The agent survives; the denied sub-call comes back as an error
	// observation the model reacts to.
	if resp.Failed() {
		t.Fatalf("agent should degrade, not fail: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "done" {
		t.Errorf("output = %q, want %q", got, "done")
	}

	// The forbidden component must never have executed.
	forbidden := mustGet(t, m, "forbidden").(*recordingComponent)
	if n := len(forbidden.recorded()); n != 0 {
		t.Errorf("forbidden component executed %d times", n)
	}
}

func TestDispatch_UserCallerBypassesACL(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "ok"))

	resp := m.Chat(context.Background(), "tool", "hi")
	if resp.Failed() {
		t.Fatalf("user call should pass: %q", resp.OutputString())
	}
}

func TestLineage_AdoptsStoredRootIDs(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "ok"))
	ctx := context.Background()

	// Seed a prior trace with its own lineage.
	err := m.Store().Index(ctx, "test_trace", "trace-b", map[string]any{
		"trace_id":       "trace-b",
		"root_trace_ids": "trace-a|trace-b0",
	})
	if err != nil {
		t.Fatal(err)
	}

	req := m.NewRequest("tool", "hi", nil)
	req.FromTraceID = "trace-b"
	resp := req.Start(ctx)
	if resp.Failed() {
		t.Fatalf("dispatch failed: %q", resp.OutputString())
	}

	want := []string{"trace-a", "trace-b0", "trace-b"}
	if !reflect.DeepEqual(req.RootTraceIDs, want) {
		t.Errorf("RootTraceIDs = %v, want %v", req.RootTraceIDs, want)
	}
}

func TestLineage_MissedLookupYieldsFromTraceOnly(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "ok"))

	req := m.NewRequest("tool", "hi", nil)
	req.FromTraceID = "gone"
	req.Start(context.Background())

	want := []string{"gone"}
	if !reflect.DeepEqual(req.RootTraceIDs, want) {
		t.Errorf("RootTraceIDs = %v, want %v", req.RootTraceIDs, want)
	}
}

func TestLineage_ExistingRootIDsAppendWithoutLookup(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "ok"))

	req := m.NewRequest("tool", "hi", nil)
	req.RootTraceIDs = []string{"r1"}
	req.FromTraceID = "r2"
	req.Start(context.Background())

	want := []string{"r1", "r2"}
	if !reflect.DeepEqual(req.RootTraceIDs, want) {
		t.Errorf("RootTraceIDs = %v, want %v", req.RootTraceIDs, want)
	}
}

func TestDispatch_TracePersisted(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "the answer"))
	ctx := context.Background()

	req := m.NewRequest("tool", "hi", nil)
	resp := req.Start(ctx)
	if resp.Failed() {
		t.Fatalf("dispatch failed: %q", resp.OutputString())
	}

	res, err := m.Store().Search(ctx, "test_trace", store.Term("trace_id", req.TraceID))
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := res.First()
	if !ok {
		t.Fatal("trace record not written")
	}
	if doc["output"] != "the answer" {
		t.Errorf("trace output = %v, want %q", doc["output"], "the answer")
	}
	if doc["callee"] != "tool" {
		t.Errorf("trace callee = %v", doc["callee"])
	}
}

func TestDispatch_NodeRecordPerHop(t *testing.T) {
	m := newTestMAS(t)
	inner := newRecorder("inner", "leaf")
	var outer *recordingComponent
	outer = newRecorder("outer", nil)
	outer.fn = func(ctx context.Context, req *Request) (*Response, error) {
		sub := req.Call(ctx, map[string]any{"callee": "inner"})
		return &Response{State: StateCompleted, Output: sub.Output, Req: req}, nil
	}
	m.MustRegister(outer)
	m.MustRegister(inner)
	ctx := context.Background()

	req := m.NewRequest("outer", "hi", nil)
	req.Start(ctx)

	res, err := m.Store().Search(ctx, "test_node", store.Term("trace_id", req.TraceID))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 2 {
		t.Fatalf("node records = %d, want 2", got)
	}

	// The child's father must be the parent's node id.
	childReq := inner.recorded()[0]
	var childDoc map[string]any
	for _, h := range res.Hits.Hits {
		if h.Source["node_id"] == childReq.NodeID {
			childDoc = h.Source
		}
	}
	if childDoc == nil {
		t.Fatal("child node record missing")
	}
	if childDoc["father_node_id"] != req.NodeID {
		t.Errorf("father_node_id = %v, want %v", childDoc["father_node_id"], req.NodeID)
	}
}

func TestHistory_SavedAndReadable(t *testing.T) {
	m := newTestMAS(t)
	m.MustRegister(newRecorder("tool", "final answer"))
	ctx := context.Background()

	req := m.NewRequest("tool", "what?", nil)
	req.SaveHistory = true
	req.Session = "s1"
	req.Start(ctx)

	mem, ok := m.History(ctx, req.TraceID, "s1")
	if !ok {
		t.Fatal("history record missing")
	}
	if mem["query"] != "what?" || mem["answer"] != "final answer" {
		t.Errorf("history memory = %v", mem)
	}
}

func TestBreakTrace_CancelsActiveTree(t *testing.T) {
	m := newTestMAS(t)
	started := make(chan string)
	rec := newRecorder("looper", nil)
	rec.fn = func(ctx context.Context, req *Request) (*Response, error) {
		started <- req.TraceID
		select {
		case <-req.Done():
			return &Response{State: StateCanceled, Output: "stopped", Req: req}, nil
		case <-time.After(2 * time.Second):
			return &Response{State: StateCompleted, Output: "ran long", Req: req}, nil
		}
	}
	m.MustRegister(rec)

	done := make(chan *Response, 1)
	go func() {
		done <- m.Chat(context.Background(), "looper", "go")
	}()

	traceID := <-started
	if !m.BreakTrace(traceID) {
		t.Fatal("trace not found among active tasks")
	}

	resp := <-done
	if resp.State != StateCanceled {
		t.Errorf("state = %v, want canceled", resp.State)
	}
	if m.BreakTrace(traceID) {
		t.Error("finished trace should no longer be active")
	}
}

func mustGet(t *testing.T, m *MAS, name string) Component {
	t.Helper()
	c, ok := m.Get(name)
	if !ok {
		t.Fatalf("component %s not registered", name)
	}
	return c
}
