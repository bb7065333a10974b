package oxy

import (
	"context"
	"time"
)

// Semaphore is a bounded admission gate limiting concurrent in-flight
// executions of one component. Acquisition blocks until a permit frees,
// the wait limit elapses, or the context is done.
type Semaphore struct {
	component string
	permits   chan struct{}
}

// NewSemaphore creates a semaphore with n permits for the named
// component. n must be positive.
func NewSemaphore(component string, n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{component: component, permits: make(chan struct{}, n)}
}

// Acquire takes a permit, waiting up to maxWait (0 means wait until the
// context is done). Returns *ErrSemaphoreTimeout when the wait limit
// elapses first.
func (s *Semaphore) Acquire(ctx context.Context, maxWait time.Duration) error {
	select {
	case s.permits <- struct{}{}:
		return nil
	default:
	}

	if maxWait <= 0 {
		select {
		case s.permits <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case s.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &ErrSemaphoreTimeout{Component: s.component, Waited: maxWait}
	}
}

// Release returns a permit. Must be paired with a successful Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.permits:
	default:
		// Release without Acquire is a programming error; dropping it
		// keeps the permit count consistent.
	}
}

// InFlight returns the number of permits currently held.
func (s *Semaphore) InFlight() int {
	return len(s.permits)
}

// Cap returns the configured permit count.
func (s *Semaphore) Cap() int {
	return cap(s.permits)
}
