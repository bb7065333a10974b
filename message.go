package oxy

import (
	"context"
	"encoding/json"
	"sync"
)

// Message flag keys carried inside a SendMessage payload. Both default
// to true when absent; the four combinations (neither / stream-only /
// persist-only / both) are honored exactly.
const (
	FlagStored = "_is_stored"
	FlagSend   = "_is_send"
)

// MessageEvent is one emitted message, tagged with the trace and node
// identity of the request that produced it.
type MessageEvent struct {
	MessageID      string         `json:"message_id"`
	TraceID        string         `json:"trace_id"`
	FromTraceID    string         `json:"from_trace_id,omitempty"`
	GroupID        string         `json:"group_id,omitempty"`
	NodeID         string         `json:"node_id,omitempty"`
	Type           string         `json:"message_type"`
	Caller         string         `json:"caller"`
	Callee         string         `json:"callee"`
	CallerCategory string         `json:"caller_category"`
	CalleeCategory string         `json:"callee_category"`
	Body           map[string]any `json:"body"`
	CreateTime     int64          `json:"create_time"`
}

// messageBus fan-outs events to subscribers. Sends are non-blocking: a
// subscriber that falls behind loses events rather than stalling the
// dispatch path.
type messageBus struct {
	mu     sync.RWMutex
	subs   map[int]chan MessageEvent
	nextID int
	closed bool
}

func newMessageBus() *messageBus {
	return &messageBus{subs: make(map[int]chan MessageEvent)}
}

func (b *messageBus) subscribe(buffer int) (<-chan MessageEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan MessageEvent, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *messageBus) publish(ev MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *messageBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribe registers a message listener. Events flow for every
// message whose payload carries _is_send (default true). The returned
// cancel func must be called to release the subscription.
func (m *MAS) Subscribe(buffer int) (<-chan MessageEvent, func()) {
	return m.bus.subscribe(buffer)
}

// sendMessage builds a MessageEvent from payload, then persists and/or
// streams it depending on the payload's _is_stored/_is_send flags.
func (m *MAS) sendMessage(ctx context.Context, req *Request, payload map[string]any) {
	stored := boolFlag(payload, FlagStored, true)
	send := boolFlag(payload, FlagSend, true)

	body := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == FlagStored || k == FlagSend {
			continue
		}
		body[k] = v
	}

	msgType, _ := body["type"].(string)
	if msgType == "" {
		msgType, _ = body["message_type"].(string)
	}

	ev := MessageEvent{
		MessageID:      NewID(),
		TraceID:        req.TraceID,
		FromTraceID:    req.FromTraceID,
		GroupID:        req.GroupID,
		NodeID:         req.NodeID,
		Type:           msgType,
		Caller:         req.Caller,
		Callee:         req.Callee,
		CallerCategory: string(req.CallerCategory),
		CalleeCategory: string(req.CalleeCategory),
		Body:           body,
		CreateTime:     NowUnix(),
	}

	if send {
		m.bus.publish(ev)
	}
	if m.metrics != nil {
		m.metrics.Message(ctx, ev.Type)
	}
	if stored && m.store != nil {
		if err := m.store.Index(ctx, m.indexName("message"), ev.MessageID, messageDoc(ev)); err != nil {
			m.logger.Warn("message store write failed", "message_id", ev.MessageID, "error", err)
		}
	}
}

// messageDoc renders the stored document shape: one row per message.
func messageDoc(ev MessageEvent) map[string]any {
	raw, _ := json.Marshal(ev.Body)
	return map[string]any{
		"message_id":      ev.MessageID,
		"trace_id":        ev.TraceID,
		"from_trace_id":   ev.FromTraceID,
		"group_id":        ev.GroupID,
		"node_id":         ev.NodeID,
		"message":         string(raw),
		"message_type":    ev.Type,
		"caller":          ev.Caller,
		"callee":          ev.Callee,
		"caller_category": ev.CallerCategory,
		"callee_category": ev.CalleeCategory,
		"body":            ev.Body,
		"create_time":     ev.CreateTime,
	}
}

func boolFlag(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
