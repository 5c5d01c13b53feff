package execution

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many Responder calls run at once. Calls run on their own
// goroutine so the caller can stop waiting when its context ends; the call
// itself keeps its slot until it returns.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with size slots. size <= 0 yields a single slot.
func NewPool(size int64) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Acquire reserves a slot. The returned release must be called exactly once.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

type result struct {
	out string
	err error
}

// Run executes fn on a pooled goroutine and waits for its result or for ctx
// to end, whichever comes first. A panic in fn is returned as an error.
func (p *Pool) Run(ctx context.Context, fn func() (string, error)) (string, error) {
	release, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}

	done := make(chan result, 1)
	go func() {
		defer release()
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("responder panicked: %v", p)}
			}
		}()
		out, err := fn()
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
