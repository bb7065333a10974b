package oxy

import (
	"context"
	"fmt"
)

// ReActAgent drives the reasoning loop: call the LLM with the tool
// schema, execute the tool calls it produces through the dispatch
// pipeline, feed the observations back, and repeat until the model
// answers without tools or the iteration bound is hit.
type ReActAgent struct {
	Base
	agentCore
}

var _ Component = (*ReActAgent)(nil)
var _ permittedLister = (*ReActAgent)(nil)
var _ Describable = (*ReActAgent)(nil)

// NewReActAgent creates a ReActAgent driving the named LLM component.
// Give it tools with WithTools.
func NewReActAgent(name, llm string, opts ...Option) *ReActAgent {
	cfg := buildConfig(opts)
	return &ReActAgent{
		Base:      newBase(name, CategoryAgent, cfg),
		agentCore: newAgentCore(llm, cfg),
	}
}

// Definition lets a ReActAgent be offered to another agent's model as
// a callable tool.
func (a *ReActAgent) Definition() ToolDefinition {
	return genericDef(a.Name(), a.Description())
}

// Exec implements Component.
func (a *ReActAgent) Exec(ctx context.Context, req *Request) (*Response, error) {
	mem := a.buildMemory(req)
	defs := a.toolDefs(a.MAS())

	for i := 0; i < a.maxIter; i++ {
		if req.Canceled() {
			return &Response{State: StateCanceled, Output: "task break", Req: req}, nil
		}

		llmResp, content, calls := a.callLLM(ctx, req, mem, defs)
		if llmResp.Failed() {
			return &Response{State: StateFailed, Output: llmResp.OutputString(), Req: req}, nil
		}

		if len(calls) == 0 {
			out := &Response{State: StateCompleted, Output: content, Req: req}
			out.Extra = llmResp.Extra
			return out, nil
		}

		mem = append(mem, ChatMessage{Role: "assistant", Content: content, ToolCalls: calls})
		for _, tc := range calls {
			observation := a.runTool(ctx, req, tc)
			mem = append(mem, ToolResultMessage(tc.ID, observation))
		}
	}

	return &Response{
		State:  StateFailed,
		Output: fmt.Sprintf("no final answer after %d iterations", a.maxIter),
		Req:    req,
	}, nil
}

// runTool executes one model-produced tool call as a sub-call,
// emitting the tool_call/observation message pair around it. A FAILED
// sub-response becomes an error observation the model can react to.
func (a *ReActAgent) runTool(ctx context.Context, req *Request, tc ToolCall) string {
	args := decodeToolArgs(tc)
	req.SendMessage(ctx, map[string]any{
		"type":      "tool_call",
		"tool_name": tc.Name,
		"arguments": args,
	})

	call := map[string]any{"callee": tc.Name, "arguments": args}
	if q, ok := args["query"].(string); ok && q != "" {
		call["query"] = q
	}
	resp := req.Call(ctx, call)

	observation := resp.OutputString()
	if resp.Failed() {
		observation = "error: " + observation
	}
	req.SendMessage(ctx, map[string]any{
		"type":      "observation",
		"tool_name": tc.Name,
		"content":   observation,
	})
	a.logger.Debug("tool observed", "agent", a.Name(), "tool", tc.Name, "state", resp.State.String())
	return observation
}
