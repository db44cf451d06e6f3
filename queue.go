package cakemail

import (
	"context"
	"sync/atomic"
)

// QueueStats is a point-in-time snapshot of the request queue.
type QueueStats struct {
	InFlight int
	Waiting  int
	Capacity int
}

// RequestQueue bounds the number of concurrently in-flight operations for a
// client. It is the canonical backpressure mechanism: no call reaches the
// network without holding a slot.
type RequestQueue struct {
	slots    chan struct{}
	inFlight int64
	waiting  int64
}

// NewRequestQueue creates a queue admitting at most maxConcurrent operations.
func NewRequestQueue(maxConcurrent int) *RequestQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RequestQueue{slots: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (q *RequestQueue) Acquire(ctx context.Context) error {
	atomic.AddInt64(&q.waiting, 1)
	defer atomic.AddInt64(&q.waiting, -1)

	select {
	case q.slots <- struct{}{}:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must be called exactly once per successful Acquire,
// on every completion path.
func (q *RequestQueue) Release() {
	<-q.slots
	atomic.AddInt64(&q.inFlight, -1)
}

// Stats reports current in-flight and waiting counts. Observability only; it
// enforces nothing.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		InFlight: int(atomic.LoadInt64(&q.inFlight)),
		Waiting:  int(atomic.LoadInt64(&q.waiting)),
		Capacity: cap(q.slots),
	}
}
