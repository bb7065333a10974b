package oxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
	}
}

func TestSSEAgent_StreamsFinalAnswer(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"heartbeat"}`,
		`{"type":"answer","content":"thinking..."}`,
		`{"type":"answer","content":"final answer"}`,
		`{"type":"DONE"}`,
	))
	defer srv.Close()

	m := newTestMAS(t)
	if err := m.Register(NewSSEAgent("remote", srv.URL)); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "remote", "hi")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	// Last answer wins, and the done sentinel matches case-insensitively.
	if got := resp.OutputString(); got != "final answer" {
		t.Errorf("output = %q, want %q", got, "final answer")
	}
}

func TestSSEAgent_AnswerFieldPriority(t *testing.T) {
	cases := []struct {
		name  string
		event string
		want  string
	}{
		{"content wins", `{"type":"answer","content":"from content","message":"from message","data":"from data"}`, "from content"},
		{"message next", `{"type":"answer","message":"from message","data":"from data"}`, "from message"},
		{"string data", `{"type":"answer","data":"from data"}`, "from data"},
		{"object data serialized", `{"type":"answer","data":{"k":"v"}}`, `{"k":"v"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(sseHandler(tc.event, `{"type":"done"}`))
			defer srv.Close()

			m := newTestMAS(t)
			if err := m.Register(NewSSEAgent("remote", srv.URL)); err != nil {
				t.Fatal(err)
			}
			resp := m.Chat(context.Background(), "remote", "q")
			if got := resp.OutputString(); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSSEAgent_StreamCloseWithoutDoneCompletes(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`{"type":"answer","content":"partial but fine"}`))
	defer srv.Close()

	m := newTestMAS(t)
	if err := m.Register(NewSSEAgent("remote", srv.URL)); err != nil {
		t.Fatal(err)
	}
	resp := m.Chat(context.Background(), "remote", "q")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "partial but fine" {
		t.Errorf("output = %q", got)
	}
}

func TestSSEAgent_RetrySucceedsWithinBudget(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		sseHandler(`{"type":"answer","content":"third time lucky"}`, `{"type":"done"}`)(w, r)
	}))
	defer srv.Close()

	m := newTestMAS(t)
	agent := NewSSEAgent("remote", srv.URL,
		WithMaxRetries(3), WithRetryDelay(10*time.Millisecond))
	if err := m.Register(agent); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "remote", "q")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "third time lucky" {
		t.Errorf("output = %q", got)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hit %d times, want 3", n)
	}
}

func TestSSEAgent_RetryExhaustionFails(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no luck", http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestMAS(t)
	agent := NewSSEAgent("remote", srv.URL,
		WithMaxRetries(1), WithRetryDelay(10*time.Millisecond))
	if err := m.Register(agent); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "remote", "q")
	if !resp.Failed() {
		t.Fatalf("state = %s, want failed", resp.State)
	}
	// One retry beyond the first try: two attempts total.
	if n := hits.Load(); n != 2 {
		t.Errorf("server hit %d times, want 2", n)
	}
	if !strings.Contains(resp.OutputString(), "after 2 attempts") {
		t.Errorf("output = %q, want attempt count", resp.OutputString())
	}
}

func TestSSEAgent_ForwardsRemoteToolCalls(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		// Top-level remote echo: dropped, or it would loop back.
		`{"type":"tool_call","caller":"user","callee":"remote_master"}`,
		// Inner hop: forwarded with the remote stack spliced past the
		// hops the local stack already covers.
		`{"type":"tool_call","caller":"remote_master","callee":"remote_tool","call_stack":["user","remote_master","remote_tool"]}`,
		`{"type":"answer","content":"ok"}`,
		`{"type":"done"}`,
	))
	defer srv.Close()

	m := newTestMAS(t)
	if err := m.Register(NewSSEAgent("remote", srv.URL)); err != nil {
		t.Fatal(err)
	}

	events, cancel := m.Subscribe(16)
	defer cancel()

	resp := m.Chat(context.Background(), "remote", "q")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}

	var forwarded []MessageEvent
drain:
	for {
		select {
		case ev := <-events:
			if ev.Type == "tool_call" {
				forwarded = append(forwarded, ev)
			}
		case <-time.After(200 * time.Millisecond):
			break drain
		}
	}

	if len(forwarded) != 1 {
		t.Fatalf("forwarded %d tool_call events, want 1", len(forwarded))
	}
	body := forwarded[0].Body
	if body["callee"] != "remote_tool" {
		t.Errorf("callee = %v", body["callee"])
	}
	want := []string{"user", "remote", "remote_tool"}
	if got, ok := body["call_stack"].([]string); !ok || !reflect.DeepEqual(got, want) {
		t.Errorf("call_stack = %v, want %v", body["call_stack"], want)
	}
}

func TestSSEAgent_RemoteTopology(t *testing.T) {
	topo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"far_master","category":"agent","children":[{"name":"far_tool","category":"tool"}]}`)
	}))
	defer topo.Close()

	agent := NewSSEAgent("remote", "http://unused.invalid", WithTopologyURL(topo.URL))
	node, err := agent.RemoteTopology(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if node.Name != "far_master" || len(node.Children) != 1 {
		t.Errorf("node = %+v", node)
	}

	bare := NewSSEAgent("remote2", "http://unused.invalid")
	if _, err := bare.RemoteTopology(context.Background()); err == nil {
		t.Error("missing topology url should error")
	}
}
