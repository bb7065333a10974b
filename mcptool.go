package oxy

import (
	"context"
	"encoding/json"

	"github.com/oxyrun/oxy/mcp"
)

// MCPTool exposes one tool of an MCP server subprocess as a registered
// component. Several MCPTools typically share one client; the client's
// id-correlated pipe makes concurrent calls safe.
type MCPTool struct {
	Base
	client *mcp.Client
	tool   string
	schema json.RawMessage
}

var _ Component = (*MCPTool)(nil)
var _ Describable = (*MCPTool)(nil)

// NewMCPTool wraps one remote tool. The component name is the local
// registry name; tool is the name the server knows it by.
func NewMCPTool(name string, client *mcp.Client, def mcp.ToolDefinition, opts ...Option) *MCPTool {
	cfg := buildConfig(opts)
	if cfg.description == "" {
		cfg.description = def.Description
	}
	return &MCPTool{
		Base:   newBase(name, CategoryTool, cfg),
		client: client,
		tool:   def.Name,
		schema: def.InputSchema,
	}
}

// Definition implements Describable using the server-declared schema.
func (t *MCPTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.schema}
}

// Exec implements Component.
func (t *MCPTool) Exec(ctx context.Context, req *Request) (*Response, error) {
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := t.client.CallTool(ctx, t.tool, args)
	if err != nil {
		return nil, &ErrToolInvocation{Tool: t.Name(), Message: err.Error()}
	}
	return &Response{State: StateCompleted, Output: out, Req: req}, nil
}

// RegisterMCP spawns an MCP server subprocess, lists its tools, and
// registers each as an MCPTool named "<name>_<tool>". The registry
// does not own the client; callers close it after Close on the
// registry.
func (m *MAS) RegisterMCP(ctx context.Context, name, command string, args []string, opts ...Option) (*mcp.Client, error) {
	client, err := mcp.Dial(ctx, name, command, args, mcp.WithLogger(m.logger))
	if err != nil {
		return nil, &ErrConfiguration{Component: name, Message: "mcp dial: " + err.Error()}
	}
	defs, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, &ErrConfiguration{Component: name, Message: "mcp list tools: " + err.Error()}
	}
	for _, def := range defs {
		tool := NewMCPTool(name+"_"+def.Name, client, def, opts...)
		if err := m.Register(tool); err != nil {
			client.Close()
			return nil, err
		}
	}
	m.logger.Info("mcp server registered", "name", name, "tools", len(defs))
	return client, nil
}
