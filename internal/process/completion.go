package process

import (
	"context"
	"sync"
)

// completion is a one-shot resolve/reject signal, recreated fresh by
// prepare_for_restart. Settling after it has already settled is a no-op, so
// a losing side of a timer/event race never corrupts state.
type completion struct {
	mu      sync.Mutex
	done    chan struct{}
	err     error
	settled bool
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// settle resolves (err == nil) or rejects (err != nil) the completion. Only
// the first call has any effect.
func (c *completion) settle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return
	}
	c.settled = true
	c.err = err
	close(c.done)
}

// isSettled reports whether the completion has already resolved or rejected.
func (c *completion) isSettled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Wait blocks until the completion settles or ctx is done, returning its
// terminal error (nil on resolve).
func (c *completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the underlying channel for select-based waiting.
func (c *completion) Done() <-chan struct{} {
	return c.done
}
