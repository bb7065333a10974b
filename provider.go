package oxy

import "context"

// Provider is an LLM backend speaking the generic chat-message schema.
// Wire formats beyond this schema live in provider subpackages.
type Provider interface {
	// Name identifies the provider for logs and retry reporting.
	Name() string
	// Chat runs one completion over the given messages and tools.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// StreamingProvider is an optional capability for providers that emit
// incremental events. Check via type assertion.
type StreamingProvider interface {
	Provider
	// ChatStream runs like Chat but sends StreamEvent values into ch
	// throughout the completion. The channel is closed when streaming
	// completes.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
}

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text chunk from the LLM.
	EventTextDelta StreamEventType = "text-delta"
	// EventToolCallStart signals a tool call has been produced.
	EventToolCallStart StreamEventType = "tool-call-start"
)

// StreamEvent is a typed event emitted during provider streaming.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Name    string          `json:"name,omitempty"`
	Content string          `json:"content,omitempty"`
}
