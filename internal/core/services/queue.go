package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded channel between two pipeline stages. It records the
// deepest buffer it has seen so tests and progress views can check that
// producers never run further ahead than the capacity allows.
//
// Only the owning producer may call Close, after its last Send.
type Queue[T any] struct {
	name      string
	ch        chan T
	peak      atomic.Int64
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity items.
// A capacity below one is raised to one.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		name: name,
		ch:   make(chan T, capacity),
	}
}

// Send blocks until there is room for v or ctx is done.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	return q.SendUnless(ctx, v, nil)
}

// SendUnless is Send that also gives up when stop is closed, returning
// errStopped. A nil stop channel never fires.
func (q *Queue[T]) SendUnless(ctx context.Context, v T, stop <-chan struct{}) error {
	select {
	case q.ch <- v:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	}
}

// Receive blocks until an item is available, the queue is closed and
// drained (ok is false), or ctx is done.
func (q *Queue[T]) Receive(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-q.ch:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// C exposes the receive side for use in select statements.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Close marks the end of input. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.ch)
	})
}

// Name returns the queue name used in logs.
func (q *Queue[T]) Name() string {
	return q.name
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Peak returns the largest number of items ever buffered at once.
func (q *Queue[T]) Peak() int {
	return int(q.peak.Load())
}

func (q *Queue[T]) observe() {
	depth := int64(len(q.ch))
	for {
		cur := q.peak.Load()
		if depth <= cur || q.peak.CompareAndSwap(cur, depth) {
			return
		}
	}
}
