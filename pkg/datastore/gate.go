package datastore

import (
	"context"
	"sync"
)

// gate bounds concurrent checkouts on one pool and caps how many callers may
// wait for a free slot. Wakeup order among blocked senders is up to the
// runtime scheduler; only the concurrency and wait-queue bounds are
// guaranteed.
type gate struct {
	slots chan struct{}

	mu      sync.Mutex
	waiting int
	maxWait int
}

func newGate(size, maxWait int) *gate {
	return &gate{
		slots:   make(chan struct{}, size),
		maxWait: maxWait,
	}
}

// acquire takes a slot, waiting if the pool is saturated. It fails with
// ErrBackpressure when the wait queue is already full, and with ctx.Err()
// when the context expires while waiting.
func (g *gate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	default:
	}

	g.mu.Lock()
	if g.waiting >= g.maxWait {
		g.mu.Unlock()
		return ErrBackpressure
	}
	g.waiting++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() {
	<-g.slots
}

// waiters reports how many callers are currently queued.
func (g *gate) waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

// inUse reports how many slots are currently held.
func (g *gate) inUse() int {
	return len(g.slots)
}
