package oxy

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSemaphore_SerializesSinglePermit(t *testing.T) {
	m := newTestMAS(t)

	type window struct{ start, end time.Time }
	var mu sync.Mutex
	var windows []window

	rec := newRecorder("gated", "ok", WithPermits(1))
	rec.fn = func(ctx context.Context, req *Request) (*Response, error) {
		w := window{start: time.Now()}
		time.Sleep(50 * time.Millisecond)
		w.end = time.Now()
		mu.Lock()
		windows = append(windows, w)
		mu.Unlock()
		return &Response{State: StateCompleted, Output: "ok", Req: req}, nil
	}
	m.MustRegister(rec)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := m.Chat(context.Background(), "gated", "go"); resp.Failed() {
				t.Errorf("call failed: %q", resp.OutputString())
			}
		}()
	}
	wg.Wait()

	if len(windows) != 2 {
		t.Fatalf("executions = %d, want 2", len(windows))
	}
	first, second := windows[0], windows[1]
	if second.start.Before(first.start) {
		first, second = second, first
	}
	if second.start.Before(first.end) {
		t.Errorf("executions overlapped: second started %v before first ended",
			first.end.Sub(second.start))
	}
}

func TestSemaphore_AdmissionWaitTimeout(t *testing.T) {
	sem := NewSemaphore("comp", 1)
	ctx := context.Background()

	if err := sem.Acquire(ctx, 0); err != nil {
		t.Fatal(err)
	}

	err := sem.Acquire(ctx, 20*time.Millisecond)
	if _, ok := err.(*ErrSemaphoreTimeout); !ok {
		t.Fatalf("err = %v, want *ErrSemaphoreTimeout", err)
	}

	sem.Release()
	if err := sem.Acquire(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestSemaphore_ContextCancel(t *testing.T) {
	sem := NewSemaphore("comp", 1)
	if err := sem.Acquire(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sem.Acquire(ctx, 0) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("acquire should fail on canceled context")
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel; possible deadlock")
	}
}

func TestSemaphore_InFlightAccounting(t *testing.T) {
	sem := NewSemaphore("comp", 2)
	ctx := context.Background()

	sem.Acquire(ctx, 0)
	sem.Acquire(ctx, 0)
	if got := sem.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}
	sem.Release()
	if got := sem.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
	if got := sem.Cap(); got != 2 {
		t.Errorf("Cap = %d, want 2", got)
	}
}
