package oxy

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestParsePlan(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			"dot numbering",
			"1. gather data\n2. analyze it\n3. write summary",
			[]string{"gather data", "analyze it", "write summary"},
		},
		{
			"paren numbering with preamble",
			"Here is my plan:\n 1) first thing\n 2) second thing\nGood luck!",
			[]string{"first thing", "second thing"},
		},
		{
			"no steps",
			"I cannot break this down.",
			nil,
		},
		{
			"trailing whitespace trimmed",
			"1.   padded step   ",
			[]string{"padded step"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parsePlan(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parsePlan(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestPlanAndSolve_DelegatesStepsToTool(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("1. look up population\n2. compare numbers"),
		textResponse("Jakarta is larger."),
	}}
	if err := m.Register(NewLLM("llm", provider)); err != nil {
		t.Fatal(err)
	}
	worker := newRecorder("worker", "step done")
	if err := m.Register(worker); err != nil {
		t.Fatal(err)
	}
	agent := NewPlanAndSolveAgent("planner", "llm", WithTools("worker"))
	if err := m.Register(agent); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "planner", "Which city is larger?")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "Jakarta is larger." {
		t.Errorf("output = %q", got)
	}

	calls := worker.recorded()
	if len(calls) != 2 {
		t.Fatalf("worker called %d times, want 2", len(calls))
	}
	if calls[0].Query != "look up population" {
		t.Errorf("step 1 query = %q", calls[0].Query)
	}
	// Step 2 sees step 1's result in its context argument.
	ctxArg, _ := calls[1].Arguments["context"].(string)
	if !strings.Contains(ctxArg, "step done") {
		t.Errorf("step 2 context = %q, want prior result in it", ctxArg)
	}
}

func TestPlanAndSolve_UnstructuredReplyIsAnswer(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("That needs no plan: the answer is 4."),
	}}
	if err := m.Register(NewLLM("llm", provider)); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(NewPlanAndSolveAgent("planner", "llm")); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "planner", "2+2?")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "That needs no plan: the answer is 4." {
		t.Errorf("output = %q", got)
	}
	if n := provider.callCount(); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestPlanAndSolve_StepCountBoundedByMaxIter(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("1. a\n2. b\n3. c\n4. d\n5. e"),
		textResponse("done"),
	}}
	if err := m.Register(NewLLM("llm", provider)); err != nil {
		t.Fatal(err)
	}
	worker := newRecorder("worker", "ok")
	if err := m.Register(worker); err != nil {
		t.Fatal(err)
	}
	agent := NewPlanAndSolveAgent("planner", "llm", WithTools("worker"), WithMaxIter(2))
	if err := m.Register(agent); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "planner", "task")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := len(worker.recorded()); got != 2 {
		t.Errorf("worker called %d times, want 2", got)
	}
}

func TestPlanAndSolve_NoToolsSolvesViaLLM(t *testing.T) {
	m := newTestMAS(t)
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("1. only step"),
		textResponse("step result"),
		textResponse("final synthesis"),
	}}
	if err := m.Register(NewLLM("llm", provider)); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(NewPlanAndSolveAgent("planner", "llm")); err != nil {
		t.Fatal(err)
	}

	resp := m.Chat(context.Background(), "planner", "task")
	if resp.Failed() {
		t.Fatalf("call failed: %q", resp.OutputString())
	}
	if got := resp.OutputString(); got != "final synthesis" {
		t.Errorf("output = %q", got)
	}
	if n := provider.callCount(); n != 3 {
		t.Errorf("provider called %d times, want 3", n)
	}
}
