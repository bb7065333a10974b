package oxy

import (
	"context"
	"encoding/json"
)

// LLM exposes a Provider as a registry component. Agents call it by
// name through the dispatch pipeline like any other component, so the
// permission check, semaphore, and 300s default timeout all apply.
type LLM struct {
	Base
	provider Provider
}

var _ Component = (*LLM)(nil)

// NewLLM creates an LLM component wrapping p.
func NewLLM(name string, p Provider, opts ...Option) *LLM {
	cfg := buildConfig(opts)
	return &LLM{
		Base:     newBase(name, CategoryLLM, cfg),
		provider: p,
	}
}

// Exec builds a ChatRequest from the request arguments and runs one
// completion. Arguments:
//
//	"messages" - Memory / []ChatMessage transcript; when absent the
//	             request query becomes a single user message
//	"tools"    - []ToolDefinition offered to the model
//	"system"   - optional system prompt prepended to the transcript
//
// Output is a map with "content" and, when the model called tools,
// "tool_calls". Token usage lands on the response Extra.
func (l *LLM) Exec(ctx context.Context, req *Request) (*Response, error) {
	mem := MemoryFromArguments(req.Arguments)
	if len(mem) == 0 {
		mem = Memory{UserMessage(req.Query)}
	}
	if sys, ok := req.Arguments["system"].(string); ok && sys != "" {
		mem = append(Memory{SystemMessage(sys)}, mem...)
	}

	cr := ChatRequest{
		Messages: []ChatMessage(mem),
		Tools:    toolDefsFromArguments(req.Arguments),
	}

	resp, err := l.provider.Chat(ctx, cr)
	if err != nil {
		return nil, err
	}

	output := map[string]any{"content": resp.Content}
	if len(resp.ToolCalls) > 0 {
		output["tool_calls"] = resp.ToolCalls
	}

	out := &Response{State: StateCompleted, Output: output, Req: req}
	out.SetExtra("input_tokens", resp.Usage.InputTokens)
	out.SetExtra("output_tokens", resp.Usage.OutputTokens)
	return out, nil
}

// toolDefsFromArguments extracts the "tools" argument in either its
// typed or JSON-decoded generic form.
func toolDefsFromArguments(args map[string]any) []ToolDefinition {
	v, ok := args["tools"]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []ToolDefinition:
		return t
	case []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		var out []ToolDefinition
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

// chatFromOutput decodes the output map an LLM component produces back
// into content and tool calls. Agents use it after a sub-call.
func chatFromOutput(resp *Response) (string, []ToolCall) {
	m, ok := resp.Output.(map[string]any)
	if !ok {
		return resp.OutputString(), nil
	}
	content, _ := m["content"].(string)
	switch tc := m["tool_calls"].(type) {
	case []ToolCall:
		return content, tc
	case []any:
		raw, err := json.Marshal(tc)
		if err != nil {
			return content, nil
		}
		var out []ToolCall
		if err := json.Unmarshal(raw, &out); err != nil {
			return content, nil
		}
		return content, out
	}
	return content, nil
}
