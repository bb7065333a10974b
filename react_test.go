package oxy

import (
	"context"
	"strings"
	"testing"
)

func TestReActAgent_ToolLoop(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		toolCallResponse("lookup", map[string]any{"query": "weather"}),
		textResponse("It is sunny."),
	}}
	m.MustRegister(NewLLM("llm", provider))
	lookup := newRecorder("lookup", "sunny in Jakarta")
	m.MustRegister(lookup)
	m.MustRegister(NewReActAgent("agent", "llm", WithTools("lookup")))

	resp := m.Chat(context.Background(), "agent", "weather?")

	if resp.Failed() {
		t.Fatalf("agent failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "It is sunny." {
		t.Errorf("output = %q", got)
	}
	if n := len(lookup.recorded()); n != 1 {
		t.Fatalf("tool executed %d times, want 1", n)
	}
	if q := lookup.recorded()[0].Query; q != "weather" {
		t.Errorf("tool query = %q, want %q", q, "weather")
	}

	// Second LLM turn must carry the observation back.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "sunny in Jakarta") {
		t.Errorf("observation not fed back: %+v", last)
	}
}

func TestReActAgent_EmitsToolCallAndObservationMessages(t *testing.T) {
	m := newTestMAS(t)
	events, cancel := m.Subscribe(16)
	defer cancel()

	provider := &scriptedProvider{responses: []ChatResponse{
		toolCallResponse("lookup", map[string]any{"query": "x"}),
		textResponse("done"),
	}}
	m.MustRegister(NewLLM("llm", provider))
	m.MustRegister(newRecorder("lookup", "found"))
	m.MustRegister(NewReActAgent("agent", "llm", WithTools("lookup")))

	m.Chat(context.Background(), "agent", "go")

	var types []string
	for {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			continue
		default:
		}
		break
	}

	var sawCall, sawObs bool
	for _, ty := range types {
		if ty == "tool_call" {
			sawCall = true
		}
		if ty == "observation" {
			sawObs = true
		}
	}
	if !sawCall || !sawObs {
		t.Errorf("message types = %v, want tool_call and observation", types)
	}
}

func TestReActAgent_IterationBound(t *testing.T) {
	m := newTestMAS(t)
	// The model never stops calling tools.
	provider := &scriptedProvider{responses: []ChatResponse{
		toolCallResponse("lookup", map[string]any{"query": "again"}),
	}}
	m.MustRegister(NewLLM("llm", provider))
	m.MustRegister(newRecorder("lookup", "more"))
	m.MustRegister(NewReActAgent("agent", "llm", WithTools("lookup"), WithMaxIter(3)))

	resp := m.Chat(context.Background(), "agent", "go")

	if !resp.Failed() {
		t.Fatal("unterminated loop should fail at the bound")
	}
	if !strings.Contains(resp.OutputString(), "after 3 iterations") {
		t.Errorf("output = %q", resp.OutputString())
	}
	if provider.callCount() != 3 {
		t.Errorf("llm calls = %d, want 3", provider.callCount())
	}
}

func TestReActAgent_FailedToolBecomesErrorObservation(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		toolCallResponse("missing_tool", nil),
		textResponse("recovered"),
	}}
	m.MustRegister(NewLLM("llm", provider))
	m.MustRegister(NewReActAgent("agent", "llm", WithTools("missing_tool")))

	resp := m.Chat(context.Background(), "agent", "go")

	if resp.Failed() {
		t.Fatalf("agent should recover from a failed tool: %q", resp.OutputString())
	}
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.HasPrefix(last.Content, "error: ") {
		t.Errorf("failed sub-call should observe as error, got %q", last.Content)
	}
}

func TestChatAgent_SingleTurn(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{textResponse("hello there")}}
	m.MustRegister(NewLLM("llm", provider))
	m.MustRegister(NewChatAgent("chat", "llm", WithPrompt("Be brief.")))

	resp := m.Chat(context.Background(), "chat", "hi")

	if resp.Failed() {
		t.Fatalf("chat failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "hello there" {
		t.Errorf("output = %q", got)
	}
	first := provider.requests[0]
	if first.Messages[0].Role != "system" || first.Messages[0].Content != "Be brief." {
		t.Errorf("system prompt not sent: %+v", first.Messages[0])
	}
}
