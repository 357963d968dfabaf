// Package queue provides a bounded, lossy FIFO used to hand values from a
// producer that must never block to a consumer running at its own cadence.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Policy selects what happens when a value is offered to a full queue.
type Policy int

const (
	// DropNewest rejects the offered value and leaves the queued values
	// untouched. TryPut reports false.
	DropNewest Policy = iota

	// DropOldest evicts the value at the head of the queue to make room for
	// the offered one. TryPut reports true.
	DropOldest
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration name to a [Policy]. The empty string
// selects [DropNewest].
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop-newest":
		return DropNewest, nil
	case "drop-oldest":
		return DropOldest, nil
	default:
		return 0, fmt.Errorf("queue: unknown overflow policy %q; valid values: drop-newest, drop-oldest", s)
	}
}

// Bounded is a fixed-capacity FIFO. Producers use the non-blocking
// [Bounded.TryPut]; consumers choose between non-blocking ([Bounded.TryGet],
// [Bounded.Drain]) and blocking ([Bounded.Get], [Bounded.C]) reads.
//
// The number of queued values never exceeds the capacity. Values that are
// accepted are delivered in the order they were accepted.
//
// All methods are safe for concurrent use.
type Bounded[T any] struct {
	ch     chan T
	policy Policy

	// putMu serialises producers so that evict-then-send under DropOldest
	// cannot interleave with another producer's send.
	putMu sync.Mutex

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a queue holding at most capacity values.
func New[T any](capacity int, policy Policy) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue: capacity must be > 0, got %d", capacity)
	}
	if policy != DropNewest && policy != DropOldest {
		return nil, fmt.Errorf("queue: unknown overflow policy %d", policy)
	}
	return &Bounded[T]{
		ch:     make(chan T, capacity),
		policy: policy,
	}, nil
}

// TryPut offers v without blocking and reports whether v was enqueued.
//
// Under [DropNewest] a full queue rejects v. Under [DropOldest] the oldest
// queued value is discarded instead and v is always enqueued. Either way the
// drop is counted in [Bounded.Dropped].
func (q *Bounded[T]) TryPut(v T) bool {
	q.putMu.Lock()
	defer q.putMu.Unlock()

	for {
		select {
		case q.ch <- v:
			q.accepted.Add(1)
			return true
		default:
		}

		if q.policy == DropNewest {
			q.dropped.Add(1)
			return false
		}

		// Full: evict the head. A concurrent consumer may have emptied a slot
		// first, in which case nothing is evicted and the send is retried.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// TryGet returns the oldest queued value without blocking. ok is false when
// the queue is empty.
func (q *Bounded[T]) TryGet() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// Get blocks until a value is available or ctx is done.
func (q *Bounded[T]) Get(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain appends every currently queued value to dst in FIFO order and returns
// the extended slice. It never blocks.
func (q *Bounded[T]) Drain(dst []T) []T {
	for {
		select {
		case v := <-q.ch:
			dst = append(dst, v)
		default:
			return dst
		}
	}
}

// C exposes the receive side for use in select statements. The channel is
// never closed.
func (q *Bounded[T]) C() <-chan T { return q.ch }

// Len returns the number of queued values.
func (q *Bounded[T]) Len() int { return len(q.ch) }

// Cap returns the capacity fixed at construction.
func (q *Bounded[T]) Cap() int { return cap(q.ch) }

// Policy returns the overflow policy.
func (q *Bounded[T]) Policy() Policy { return q.policy }

// Accepted returns the number of values enqueued so far.
func (q *Bounded[T]) Accepted() uint64 { return q.accepted.Load() }

// Dropped returns the number of values discarded by the overflow policy.
func (q *Bounded[T]) Dropped() uint64 { return q.dropped.Load() }
