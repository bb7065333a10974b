package oxy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry_TransientErrorRetriesThenSucceeds(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{
			&ErrTransport{Endpoint: "api", Status: 429, Message: "rate limited"},
			&ErrTransport{Endpoint: "api", Message: "connection refused"},
		},
		responses: []ChatResponse{{}, {}, textResponse("finally")},
	}
	r := WithRetry(p, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	resp, err := r.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "finally" {
		t.Errorf("content = %q", resp.Content)
	}
	if n := p.callCount(); n != 3 {
		t.Errorf("inner called %d times, want 3", n)
	}
}

func TestWithRetry_NonTransientErrorFailsFast(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{&ErrTransport{Endpoint: "api", Status: 401, Message: "bad key"}},
	}
	r := WithRetry(p, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	_, err := r.Chat(context.Background(), ChatRequest{})
	var terr *ErrTransport
	if !errors.As(err, &terr) || terr.Status != 401 {
		t.Fatalf("err = %v", err)
	}
	if n := p.callCount(); n != 1 {
		t.Errorf("inner called %d times, want 1", n)
	}
}

func TestWithRetry_ExhaustionReturnsLastError(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{
			&ErrTransport{Endpoint: "api", Status: 503, Message: "down"},
			&ErrTransport{Endpoint: "api", Status: 503, Message: "still down"},
		},
	}
	r := WithRetry(p, RetryMaxAttempts(2), RetryBaseDelay(time.Millisecond))

	_, err := r.Chat(context.Background(), ChatRequest{})
	if err == nil || err.Error() == "" {
		t.Fatal("expected error after exhaustion")
	}
	var terr *ErrTransport
	if !errors.As(err, &terr) || terr.Message != "still down" {
		t.Errorf("err = %v, want last attempt's error", err)
	}
	if n := p.callCount(); n != 2 {
		t.Errorf("inner called %d times, want 2", n)
	}
}

func TestWithRetry_ContextCancelStopsBackoff(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{&ErrTransport{Endpoint: "api", Status: 429, Message: "limited"}},
	}
	r := WithRetry(p, RetryMaxAttempts(3), RetryBaseDelay(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancel did not interrupt the backoff")
	}
}
