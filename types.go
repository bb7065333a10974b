package oxy

import "encoding/json"

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition is the LLM-consumable description of one callable
// tool: name, description, and a JSON-Schema parameter object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}

// --- Memory ---

// Memory is an ordered chat transcript carried inside request
// arguments under the "messages" key.
type Memory []ChatMessage

// MemoryFromArguments extracts a Memory embedded in request arguments.
// Accepts either a Memory/[]ChatMessage value directly or the generic
// []any form produced by JSON decoding. Returns nil when absent or
// malformed.
func MemoryFromArguments(args map[string]any) Memory {
	v, ok := args["messages"]
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case Memory:
		return m
	case []ChatMessage:
		return Memory(m)
	case []any:
		raw, err := json.Marshal(m)
		if err != nil {
			return nil
		}
		var out Memory
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

// --- Tool metadata ---

// ParamKind selects how a declared parameter is filled at call time.
type ParamKind int

const (
	// ParamValue is a normal argument taken from the request payload.
	ParamValue ParamKind = iota
	// ParamRequest injects the in-flight request itself, giving tool
	// functions access to trace and session context without it being a
	// visible argument.
	ParamRequest
)

// ParamMeta describes one declared parameter of a registered function.
// Immutable after registration.
type ParamMeta struct {
	Name        string
	Description string
	Type        string // JSON-Schema type: "string", "number", "boolean", "object", "array"
	Required    bool
	Default     any
	Kind        ParamKind
}

// ToolMeta is the static metadata attached to a registered function.
// Immutable after registration.
type ToolMeta struct {
	Name        string
	Description string
	Params      []ParamMeta
}

// Definition builds the LLM-consumable JSON-Schema form of the tool.
// Request-injected parameters are omitted: they are framework plumbing,
// not arguments the model should produce.
func (m ToolMeta) Definition() ToolDefinition {
	props := map[string]any{}
	var required []string
	for _, p := range m.Params {
		if p.Kind == ParamRequest {
			continue
		}
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return ToolDefinition{Name: m.Name, Description: m.Description, Parameters: raw}
}
