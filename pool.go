package oxy

import (
	"errors"
	"sync"
)

// SaturationPolicy selects what Submit does when every worker is busy
// and the queue (if any) is full.
type SaturationPolicy int

const (
	// PolicyCallerRuns executes the task on the submitting goroutine.
	// This is the default: saturation slows producers down instead of
	// queueing unboundedly.
	PolicyCallerRuns SaturationPolicy = iota
	// PolicyReject makes Submit return ErrPoolSaturated immediately.
	PolicyReject
	// PolicyBlock makes Submit wait until a worker or queue slot frees.
	PolicyBlock
)

// ErrPoolSaturated is returned by Submit under PolicyReject when no
// worker or queue slot is available.
var ErrPoolSaturated = errors.New("worker pool saturated")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a bounded worker pool with a first-class saturation policy.
// A queue size of zero gives direct handoff: Submit only succeeds
// without falling back to the policy when an idle worker is waiting.
type Pool struct {
	tasks  chan func()
	quit   chan struct{}
	policy SaturationPolicy

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool starts a pool with the given worker count, queue capacity,
// and saturation policy.
func NewPool(workers, queue int, policy SaturationPolicy) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		tasks:  make(chan func(), queue),
		quit:   make(chan struct{}),
		policy: policy,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case task := <-p.tasks:
					task()
				case <-p.quit:
					// Drain anything already queued before exiting.
					for {
						select {
						case task := <-p.tasks:
							task()
						default:
							return
						}
					}
				}
			}
		}()
	}
	return p
}

// Submit schedules task. On saturation the configured policy applies.
func (p *Pool) Submit(task func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	switch p.policy {
	case PolicyReject:
		return ErrPoolSaturated
	case PolicyBlock:
		select {
		case p.tasks <- task:
			return nil
		case <-p.quit:
			return ErrPoolClosed
		}
	default: // PolicyCallerRuns
		task()
		return nil
	}
}

// Close stops accepting tasks, drains queued work, and waits for
// workers to exit. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
