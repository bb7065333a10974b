// Package httpchat implements oxy.Provider for any OpenAI-compatible
// chat completions API (OpenAI, OpenRouter, Groq, DeepSeek, Ollama,
// vLLM, and the rest of that family).
package httpchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	oxy "github.com/oxyrun/oxy"
)

// Provider speaks the OpenAI chat completions wire format.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	logger  *slog.Logger

	temperature *float64
	maxTokens   int
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name used in logs and errors.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the provider's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithTemperature sets the sampling temperature sent on every request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended
// automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the provider name (default "openai").
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete
// response. When req.Tools is non-empty, the response may contain
// ToolCalls.
func (p *Provider) Chat(ctx context.Context, req oxy.ChatRequest) (oxy.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, p.buildBody(req, false))
	if err != nil {
		return oxy.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oxy.ChatResponse{}, p.httpErr(resp)
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return oxy.ChatResponse{}, &oxy.ErrParse{Input: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wire)
}

// ChatStream streams text-delta events into ch, then returns the final
// accumulated response. The channel is closed when streaming
// completes or on error.
func (p *Provider) ChatStream(ctx context.Context, req oxy.ChatRequest, ch chan<- oxy.StreamEvent) (oxy.ChatResponse, error) {
	body := p.buildBody(req, true)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return oxy.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return oxy.ChatResponse{}, p.httpErr(resp)
	}

	// streamSSE closes ch when done.
	return p.streamSSE(ctx, resp.Body, ch)
}

func (p *Provider) buildBody(req oxy.ChatRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:       p.model,
		Stream:      stream,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, m := range req.Messages {
		wm := message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, toolCallRequest{
				ID:       tc.ID,
				Type:     "function",
				Function: functionCall{Name: tc.Name, Arguments: string(tc.Args)},
			})
		}
		body.Messages = append(body.Messages, wm)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return body
}

// sendHTTP marshals the request body and posts it to the chat
// completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &oxy.ErrConfiguration{Component: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &oxy.ErrConfiguration{Component: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &oxy.ErrTransport{Endpoint: url, Message: err.Error()}
	}
	return resp, nil
}

// httpErr drains the response body into a transport error so the retry
// decorator can classify the status.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &oxy.ErrTransport{
		Endpoint: p.baseURL,
		Status:   resp.StatusCode,
		Message:  string(body),
	}
}

// parseResponse maps the wire response onto the generic schema.
func parseResponse(wire chatResponse) (oxy.ChatResponse, error) {
	out := oxy.ChatResponse{}
	if wire.Usage != nil {
		out.Usage = oxy.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		}
	}
	if len(wire.Choices) == 0 {
		return out, &oxy.ErrParse{Input: wire.ID, Message: "response has no choices"}
	}
	msg := wire.Choices[0].Message
	if msg == nil {
		return out, &oxy.ErrParse{Input: wire.ID, Message: "choice has no message"}
	}
	out.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, oxy.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ oxy.Provider          = (*Provider)(nil)
	_ oxy.StreamingProvider = (*Provider)(nil)
)
