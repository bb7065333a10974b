package oxy

import (
	"context"
	"encoding/json"
)

// agentCore holds the fields every agent kind shares: the LLM
// component it drives, its permitted tools, prompt, and loop bound.
// Concrete agents embed it alongside Base.
type agentCore struct {
	llm     string
	tools   []string
	prompt  string
	maxIter int
}

const defaultMaxIter = 10

func newAgentCore(llm string, cfg config) agentCore {
	c := agentCore{
		llm:     llm,
		tools:   append([]string(nil), cfg.tools...),
		prompt:  cfg.prompt,
		maxIter: defaultMaxIter,
	}
	if cfg.maxIter > 0 {
		c.maxIter = cfg.maxIter
	}
	return c
}

// PermittedTools implements the ACL surface: the agent may call its
// tools and its LLM, nothing else.
func (c *agentCore) PermittedTools() []string {
	out := append([]string(nil), c.tools...)
	if c.llm != "" {
		out = append(out, c.llm)
	}
	return out
}

// toolDefs resolves the agent's permitted tools into LLM-consumable
// definitions. Components without a Definition get a generic
// single-query schema built from their description, so sub-agents are
// offered to the model the same way plain tools are.
func (c *agentCore) toolDefs(m *MAS) []ToolDefinition {
	var defs []ToolDefinition
	for _, name := range c.tools {
		comp, ok := m.Get(name)
		if !ok {
			continue
		}
		if d, ok := comp.(Describable); ok {
			defs = append(defs, d.Definition())
			continue
		}
		defs = append(defs, genericDef(name, comp.Description()))
	}
	return defs
}

func genericDef(name, description string) ToolDefinition {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The task to hand to this component.",
			},
		},
		"required": []string{"query"},
	})
	if description == "" {
		description = name
	}
	return ToolDefinition{Name: name, Description: description, Parameters: schema}
}

// buildMemory assembles the transcript for an LLM call: system prompt,
// any history embedded in the arguments, then the query.
func (c *agentCore) buildMemory(req *Request) Memory {
	var mem Memory
	if c.prompt != "" {
		mem = append(mem, SystemMessage(c.prompt))
	}
	mem = append(mem, MemoryFromArguments(req.Arguments)...)
	if req.Query != "" {
		mem = append(mem, UserMessage(req.Query))
	}
	return mem
}

// callLLM issues the chat sub-call through the dispatch pipeline and
// decodes the output. A FAILED sub-response comes back as data, not an
// error: the caller decides how to degrade.
func (c *agentCore) callLLM(ctx context.Context, req *Request, mem Memory, defs []ToolDefinition) (*Response, string, []ToolCall) {
	args := map[string]any{"messages": mem}
	if len(defs) > 0 {
		args["tools"] = defs
	}
	resp := req.Call(ctx, map[string]any{"callee": c.llm, "arguments": args})
	if resp.Failed() {
		return resp, "", nil
	}
	content, calls := chatFromOutput(resp)
	return resp, content, calls
}

// decodeToolArgs unpacks a model-produced tool call's argument blob.
func decodeToolArgs(tc ToolCall) map[string]any {
	if len(tc.Args) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(tc.Args, &out); err != nil {
		return map[string]any{"query": string(tc.Args)}
	}
	return out
}

// --- ChatAgent ---

// ChatAgent is the simplest agent: one LLM turn over the request query
// and any supplied history, no tools.
type ChatAgent struct {
	Base
	agentCore
}

var _ Component = (*ChatAgent)(nil)
var _ permittedLister = (*ChatAgent)(nil)

// NewChatAgent creates a ChatAgent driving the named LLM component.
func NewChatAgent(name, llm string, opts ...Option) *ChatAgent {
	cfg := buildConfig(opts)
	return &ChatAgent{
		Base:      newBase(name, CategoryAgent, cfg),
		agentCore: newAgentCore(llm, cfg),
	}
}

// Exec implements Component.
func (a *ChatAgent) Exec(ctx context.Context, req *Request) (*Response, error) {
	resp, content, _ := a.callLLM(ctx, req, a.buildMemory(req), nil)
	if resp.Failed() {
		return &Response{State: StateFailed, Output: resp.OutputString(), Req: req}, nil
	}
	out := &Response{State: StateCompleted, Output: content, Req: req}
	out.Extra = resp.Extra
	return out, nil
}
