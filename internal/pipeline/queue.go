package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// BoundedQueue is a fixed capacity FIFO shared by one producer and the
// pushers. Every record put on the queue is received by exactly one Poll.
type BoundedQueue struct {
	ch        chan *models.Record
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBoundedQueue creates a queue holding at most capacity records. A
// capacity below 1 is raised to 1; LoaderConfig.Validate rejects such
// values before a Loader builds its queue.
func NewBoundedQueue(capacity int) *BoundedQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedQueue{
		ch:     make(chan *models.Record, capacity),
		closed: make(chan struct{}),
	}
}

// Put blocks until there is room for rec, ctx is done or the queue is
// closed. An interrupted put returns an interrupted error and rec is not
// enqueued.
func (q *BoundedQueue) Put(ctx context.Context, rec *models.Record) error {
	// Prefer the interruption when both cases are ready.
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInterrupted, "put interrupted")
	}
	if q.IsClosed() {
		return errors.New(errors.ErrorTypeInterrupted, "put on closed queue: no consumer left")
	}

	select {
	case q.ch <- rec:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeInterrupted, "put interrupted")
	case <-q.closed:
		return errors.New(errors.ErrorTypeInterrupted, "put on closed queue: no consumer left")
	}
}

// Close wakes blocked and future puts with an interrupted error. Records
// already queued can still be polled. Close is idempotent.
func (q *BoundedQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// IsClosed reports whether Close was called.
func (q *BoundedQueue) IsClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Poll waits up to timeout for a record. It reports false if none arrived.
func (q *BoundedQueue) Poll(timeout time.Duration) (*models.Record, bool) {
	select {
	case rec := <-q.ch:
		return rec, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rec := <-q.ch:
		return rec, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of waiting records. The value is advisory.
func (q *BoundedQueue) Len() int {
	return len(q.ch)
}

// Cap returns the capacity fixed at creation.
func (q *BoundedQueue) Cap() int {
	return cap(q.ch)
}

// IsEmpty reports whether no record is waiting. The value is advisory.
func (q *BoundedQueue) IsEmpty() bool {
	return len(q.ch) == 0
}
