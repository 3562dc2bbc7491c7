// Package capture carries sample batches from the audio producer to the
// pipeline. Each stereo leg has its own bounded queue. The producer never
// blocks; the pipeline waits for one batch from each leg per cycle.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by ReceivePair once either leg has been closed.
	ErrClosed = errors.New("capture: source closed")
	// ErrStalled is returned by ReceivePair when a leg yields nothing within
	// the configured timeout.
	ErrStalled = errors.New("capture: leg stalled")
)

// DefaultCapacity is the per-leg queue depth
const DefaultCapacity = 100

// Queue is a bounded FIFO of sample batches for one leg
type Queue struct {
	name string
	ch   chan []float64

	sent    atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

// NewQueue creates a queue holding up to capacity batches
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		name: name,
		ch:   make(chan []float64, capacity),
	}
}

// Name returns the leg label.
func (q *Queue) Name() string {
	return q.name
}

// TrySend enqueues batch if there is room and drops it otherwise. It never
// blocks. Only the producer may call TrySend, and never after Close.
func (q *Queue) TrySend(batch []float64) bool {
	select {
	case q.ch <- batch:
		q.sent.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Close marks the leg as finished. Batches already queued can still be
// received. Only the producer may call Close.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len returns the number of queued batches.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many batches were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Sent returns how many batches were enqueued.
func (q *Queue) Sent() uint64 {
	return q.sent.Load()
}

// Frame is one stereo capture chunk
type Frame struct {
	Left  []float64
	Right []float64
}

// ReceivePair waits for one batch from left and then one from right.
//
// A timeout of zero waits forever. With a positive timeout each leg is given
// that long to deliver; on expiry ErrStalled is returned and any batch already
// taken from the left leg is discarded.
func ReceivePair(ctx context.Context, left, right *Queue, timeout time.Duration) (Frame, error) {
	l, err := receive(ctx, left, timeout)
	if err != nil {
		return Frame{}, err
	}

	r, err := receive(ctx, right, timeout)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Left: l, Right: r}, nil
}

func receive(ctx context.Context, q *Queue, timeout time.Duration) ([]float64, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case batch, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return batch, nil
	case <-expired:
		return nil, ErrStalled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
