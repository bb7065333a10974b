package httpchat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	oxy "github.com/oxyrun/oxy"
)

// streamSSE reads an SSE stream from body, sends text-delta events to
// ch, and returns the fully accumulated response (content + tool calls
// + usage).
//
// The channel is closed when streaming completes. Callers should read
// from ch in a separate goroutine.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func (p *Provider) streamSSE(ctx context.Context, body io.Reader, ch chan<- oxy.StreamEvent) (oxy.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var fullContent strings.Builder
	var total oxy.Usage

	// Tool calls stream incrementally: each chunk carries an index and
	// argument fragments that accumulate into the final call.
	type partialToolCall struct {
		ID   string
		Name string
		Args strings.Builder
	}
	var toolCalls []partialToolCall

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			total.InputTokens = chunk.Usage.PromptTokens
			total.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			fullContent.WriteString(delta.Content)
			select {
			case ch <- oxy.StreamEvent{Type: oxy.EventTextDelta, Content: delta.Content}:
			case <-ctx.Done():
				return oxy.ChatResponse{}, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, partialToolCall{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
				select {
				case ch <- oxy.StreamEvent{Type: oxy.EventToolCallStart, Name: tc.Function.Name}:
				case <-ctx.Done():
					return oxy.ChatResponse{}, ctx.Err()
				}
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return oxy.ChatResponse{}, &oxy.ErrTransport{Endpoint: p.baseURL, Message: err.Error()}
	}

	var calls []oxy.ToolCall
	for _, tc := range toolCalls {
		args := json.RawMessage(tc.Args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, oxy.ToolCall{ID: tc.ID, Name: tc.Name, Args: args})
	}

	return oxy.ChatResponse{
		Content:   fullContent.String(),
		ToolCalls: calls,
		Usage:     total,
	}, nil
}
