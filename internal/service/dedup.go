package service

import (
	"context"
	"sync"
	"time"
)

// Dedup remembers the result of an operation by key for a TTL, so a client
// that retries with the same Idempotency-Key gets the first answer back
// instead of repeating the operation. Failed operations are not remembered.
// It is safe for concurrent use.
type Dedup[T any] struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

type dedupEntry[T any] struct {
	done   chan struct{}
	val    T
	err    error
	stored time.Time
}

// NewDedup creates a Dedup whose results live for ttl.
func NewDedup[T any](ttl time.Duration) *Dedup[T] {
	return &Dedup[T]{
		entries: make(map[string]*dedupEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Do returns the remembered result for key, or runs fn and remembers its
// result. Concurrent calls with the same key wait for the first one. shared
// reports whether the result came from an earlier call.
func (d *Dedup[T]) Do(ctx context.Context, key string, fn func() (T, error)) (val T, shared bool, err error) {
	d.mu.Lock()
	if e, ok := d.entries[key]; ok && d.live(e) {
		d.mu.Unlock()
		select {
		case <-e.done:
			if e.err != nil {
				// The first call failed; run again.
				return d.Do(ctx, key, fn)
			}
			return e.val, true, nil
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
	e := &dedupEntry[T]{done: make(chan struct{})}
	d.entries[key] = e
	d.mu.Unlock()

	e.val, e.err = fn()

	d.mu.Lock()
	e.stored = d.now()
	if e.err != nil && d.entries[key] == e {
		delete(d.entries, key)
	}
	d.mu.Unlock()
	close(e.done)

	return e.val, false, e.err
}

// live reports whether e is in flight or younger than the TTL. Caller holds mu.
func (d *Dedup[T]) live(e *dedupEntry[T]) bool {
	select {
	case <-e.done:
		return d.now().Sub(e.stored) < d.ttl
	default:
		return true
	}
}

// Cleanup drops expired results. Call it periodically to bound memory.
func (d *Dedup[T]) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, e := range d.entries {
		select {
		case <-e.done:
			if d.now().Sub(e.stored) >= d.ttl {
				delete(d.entries, k)
			}
		default:
		}
	}
}

// Len returns the number of remembered keys.
func (d *Dedup[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
