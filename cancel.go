package oxy

import "sync"

// CancelToken is a cooperative early-termination signal shared by every
// request in one call tree. Long-running tools check it at convenient
// points and stop; the framework skips remaining message bookkeeping
// for a canceled call but never force-terminates work.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates an uncanceled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel fires the token. Idempotent.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Canceled reports whether Cancel has been called.
func (t *CancelToken) Canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token fires, for use in
// select loops.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
