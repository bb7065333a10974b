package oxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SSEAgent proxies a request to a remote agent system over a
// server-sent-event stream. The remote side emits JSON events on the
// stream's data lines; answer events accumulate into the final output
// (last write wins), tool_call and observation events are forwarded to
// the local message bus so a distributed call tree streams as one.
//
// Wire format per event:
//
//	data: {"type":"answer","content":"..."}\n
//
// with "type" falling back to "message_type", and a case-insensitive
// "done" terminating the stream.
type SSEAgent struct {
	Base

	endpoint       string
	topologyURL    string
	client         *http.Client
	maxRetries     int
	retryDelay     time.Duration
	streamWait     time.Duration
	shareCallStack bool
	sendAnswer     bool
}

var _ Component = (*SSEAgent)(nil)
var _ remoteTopologer = (*SSEAgent)(nil)

const defaultStreamWait = 300 * time.Second

// NewSSEAgent creates a remote agent speaking the SSE chat protocol at
// endpoint. By default one retry is allowed (two tries total), with a
// one second fixed delay, and only transport failures retry.
func NewSSEAgent(name, endpoint string, opts ...Option) *SSEAgent {
	cfg := buildConfig(opts)
	a := &SSEAgent{
		Base:           newBase(name, CategoryAgent, cfg),
		endpoint:       endpoint,
		topologyURL:    cfg.topologyURL,
		client:         cfg.httpClient,
		maxRetries:     cfg.maxRetries,
		retryDelay:     cfg.retryDelay,
		streamWait:     cfg.streamWait,
		shareCallStack: cfg.shareCallStack,
		sendAnswer:     cfg.sendAnswer,
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.maxRetries <= 0 {
		a.maxRetries = 1
	}
	if a.retryDelay <= 0 {
		a.retryDelay = time.Second
	}
	if a.streamWait <= 0 {
		a.streamWait = defaultStreamWait
	}
	return a
}

// Exec implements Component. Transport failures retry with a fixed
// delay, up to maxRetries retries beyond the first try; a clean done
// or an application-level error event never retries. Exhaustion comes
// back as a FAILED response carrying the attempt count.
func (a *SSEAgent) Exec(ctx context.Context, req *Request) (*Response, error) {
	payload, err := a.buildPayload(req)
	if err != nil {
		return nil, &ErrConfiguration{Component: a.Name(), Message: "encode payload: " + err.Error()}
	}

	attempts := a.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(a.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if m := a.MAS(); m != nil && m.metrics != nil {
				m.metrics.TransportRetry(ctx, a.Name())
			}
		}
		answer, err := a.attemptOnce(ctx, req, payload, attempt)
		if err == nil {
			return &Response{State: StateCompleted, Output: answer, Req: req}, nil
		}
		lastErr = err
		a.logger.Warn("sse attempt failed",
			"agent", a.Name(), "endpoint", a.endpoint, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	terr := &ErrTransport{Endpoint: a.endpoint, Attempts: attempts, Message: lastErr.Error()}
	var prev *ErrTransport
	if errors.As(lastErr, &prev) {
		terr.Status = prev.Status
	}
	return failedResponse(req, terr), nil
}

// attemptOnce wraps a single connect-and-drain attempt in a span when
// a tracer is configured.
func (a *SSEAgent) attemptOnce(ctx context.Context, req *Request, payload []byte, attempt int) (string, error) {
	if a.tracer == nil {
		return a.streamOnce(ctx, req, payload)
	}
	ctx, span := a.tracer.Start(ctx, "sse.attempt",
		StringAttr("oxy.agent", a.Name()),
		StringAttr("oxy.endpoint", a.endpoint),
		IntAttr("oxy.attempt", attempt),
	)
	defer span.End()
	answer, err := a.streamOnce(ctx, req, payload)
	if err != nil {
		span.Error(err)
	}
	return answer, err
}

// buildPayload assembles the remote chat request. When sharing the
// call stack the remote continues this trace, so the stacks go over
// minus their last element (the hop onto this agent). When not
// sharing, the remote sees a fresh top-level call from "user".
func (a *SSEAgent) buildPayload(req *Request) ([]byte, error) {
	body := map[string]any{
		"query":            req.Query,
		"current_trace_id": req.TraceID,
		"node_id":          req.NodeID,
		"session_name":     req.Session,
	}
	for k, v := range req.Arguments {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	if a.shareCallStack {
		body["caller"] = req.Caller
		body["call_stack"] = trimLast(req.CallStack)
		body["node_id_stack"] = trimLast(req.NodeIDStack)
	} else {
		body["caller"] = string(CategoryUser)
	}
	return json.Marshal(body)
}

// streamOnce runs one connect-and-drain attempt. The scan loop runs on
// its own goroutine; the caller waits on a completion latch with a
// hard ceiling so a stalled stream cannot hang the dispatch forever.
func (a *SSEAgent) streamOnce(ctx context.Context, req *Request, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &ErrTransport{Endpoint: a.endpoint, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", &ErrTransport{Endpoint: a.endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &ErrTransport{Endpoint: a.endpoint, Status: resp.StatusCode, Message: resp.Status}
	}

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := a.scanEvents(ctx, req, resp.Body)
		done <- result{answer, err}
	}()

	select {
	case r := <-done:
		return r.answer, r.err
	case <-time.After(a.streamWait):
		resp.Body.Close()
		<-done
		return "", &ErrExecutionTimeout{Component: a.Name(), Limit: a.streamWait}
	case <-ctx.Done():
		resp.Body.Close()
		<-done
		return "", ctx.Err()
	}
}

// scanEvents drains the event stream, accumulating the final answer
// and forwarding intermediate events. Blank, heartbeat, and non-JSON
// data lines are skipped, not errors.
func (a *SSEAgent) scanEvents(ctx context.Context, req *Request, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var answer string
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		evType, _ := event["type"].(string)
		if evType == "" {
			evType, _ = event["message_type"].(string)
		}

		switch {
		case strings.EqualFold(evType, "done"):
			return answer, nil
		case evType == "heartbeat":
			continue
		case evType == "answer":
			answer = answerText(event)
			if a.sendAnswer {
				req.SendMessage(ctx, map[string]any{
					"type":    "answer",
					"content": answer,
					"agent":   a.Name(),
				})
			}
		case evType == "tool_call" || evType == "observation":
			a.forwardEvent(ctx, req, event)
		default:
			req.SendMessage(ctx, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &ErrTransport{Endpoint: a.endpoint, Message: err.Error()}
	}
	// Stream closed without a done event. Treat as complete: some
	// servers end the response body instead of emitting a sentinel.
	return answer, nil
}

// answerText extracts the answer body, preferring content over message
// over data. Non-string data is serialized back to JSON.
func answerText(event map[string]any) string {
	if s, ok := event["content"].(string); ok && s != "" {
		return s
	}
	if s, ok := event["message"].(string); ok && s != "" {
		return s
	}
	switch d := event["data"].(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(raw)
	}
}

// forwardEvent relays a remote tool_call/observation to the local bus.
// Events where either side of the call is the synthetic "user" party
// are dropped, otherwise a remote top-level echo would loop back into
// the local stream. When the call stack was not shared, the remote's
// reported stack is spliced from its third element onto the local one
// so the distributed stack stays continuous; the first two remote
// elements repeat hops the local stack already holds.
func (a *SSEAgent) forwardEvent(ctx context.Context, req *Request, event map[string]any) {
	caller, _ := event["caller"].(string)
	callee, _ := event["callee"].(string)
	if caller == string(CategoryUser) || callee == string(CategoryUser) {
		return
	}
	if !a.shareCallStack {
		if remote, ok := event["call_stack"].([]any); ok && len(remote) > 2 {
			stack := append([]string(nil), req.CallStack...)
			for _, hop := range remote[2:] {
				if s, ok := hop.(string); ok {
					stack = append(stack, s)
				}
			}
			event["call_stack"] = stack
		} else {
			event["call_stack"] = req.CallStack
		}
	}
	req.SendMessage(ctx, event)
}

// RemoteTopology fetches the far side's organizational tree for the
// Start-time topology merge. Without a configured topology URL the
// agent stays a leaf.
func (a *SSEAgent) RemoteTopology(ctx context.Context) (*AgentNode, error) {
	if a.topologyURL == "" {
		return nil, fmt.Errorf("no topology url configured")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.topologyURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ErrTransport{Endpoint: a.topologyURL, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrTransport{Endpoint: a.topologyURL, Status: resp.StatusCode, Message: resp.Status}
	}
	var node AgentNode
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return nil, &ErrParse{Input: a.topologyURL, Message: err.Error()}
	}
	return &node, nil
}

