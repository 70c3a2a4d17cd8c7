// Package execlock serializes trade commitment. Everything upstream of the
// lock (quote ingestion, spread evaluation, risk checks) may run freely and
// repeatedly; everything between acquisition and release is strictly
// sequential, so two opportunities maturing in the same tick can never spend
// the same balance figure between its read and its write.
package execlock

import (
	"context"
	"sync"
)

// TradeLock is a non-reentrant mutex with two access modes: TryAcquire for
// price-driven commits where skipping a busy tick is expected, and Acquire
// for callers that must not silently skip. Blocked Acquire callers are served
// in strict FIFO order.
type TradeLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// State is a point-in-time view of the lock for status reporting.
type State struct {
	Held    bool
	Waiters int
}

// New creates an unheld TradeLock.
func New() *TradeLock {
	return &TradeLock{}
}

// TryAcquire takes the lock without blocking. It returns false when the lock
// is held or has queued waiters.
func (l *TradeLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

// Acquire blocks until the lock is free, queueing behind earlier callers.
// It returns ctx.Err() if the context is cancelled while waiting.
func (l *TradeLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Release already handed the lock to us; pass it along.
		l.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter if one is queued, otherwise
// frees it. Releasing an unheld lock is a no-op.
func (l *TradeLock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	if len(l.waiters) > 0 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		// The lock stays held across the handoff.
		close(ch)
		return
	}
	l.held = false
	l.mu.Unlock()
}

// State returns whether the lock is held and how many callers are queued.
func (l *TradeLock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{Held: l.held, Waiters: len(l.waiters)}
}
