// Package mailbox provides a single-slot channel for publishing the latest
// value of a stream to one slower consumer. Publishing never blocks.
package mailbox

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Policy decides what happens when a value is published into a full slot
type Policy int

const (
	// Overwrite evicts the unread value so the slot always holds the latest.
	Overwrite Policy = iota
	// DropNewest keeps the unread value and discards the new one.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "overwrite":
		return Overwrite, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("mailbox: unknown policy %q", s)
	}
}

// Mailbox holds at most one value of T. A mailbox expects a single
// publisher. Any number of goroutines may receive.
type Mailbox[T any] struct {
	name   string
	policy Policy
	slot   chan T

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty mailbox
func New[T any](name string, policy Policy) *Mailbox[T] {
	return &Mailbox[T]{
		name:   name,
		policy: policy,
		slot:   make(chan T, 1),
	}
}

// Name returns the mailbox label used in logs and metrics.
func (m *Mailbox[T]) Name() string {
	return m.name
}

// Policy returns the full-slot policy.
func (m *Mailbox[T]) Policy() Policy {
	return m.policy
}

// Publish offers v to the consumer without blocking. It returns false when
// a value was lost: the evicted stale value under Overwrite, or v itself
// under DropNewest.
func (m *Mailbox[T]) Publish(v T) bool {
	m.published.Add(1)

	select {
	case m.slot <- v:
		return true
	default:
	}

	if m.policy == DropNewest {
		m.dropped.Add(1)
		return false
	}

	// evict the stale value; the consumer may have drained it meanwhile
	evicted := false
	select {
	case <-m.slot:
		evicted = true
	default:
	}

	select {
	case m.slot <- v:
	default:
		// another publisher refilled the slot first
		evicted = true
	}

	if !evicted {
		return true
	}
	m.dropped.Add(1)
	return false
}

// C exposes the receive side for use in select statements.
func (m *Mailbox[T]) C() <-chan T {
	return m.slot
}

// TryReceive takes the pending value if there is one.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	select {
	case v := <-m.slot:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-m.slot:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Stats is a snapshot of mailbox counters
type Stats struct {
	Name      string `json:"name"`
	Policy    string `json:"policy"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Pending   bool   `json:"pending"`
}

// Dropped returns how many values were lost to a full slot.
func (m *Mailbox[T]) Dropped() uint64 {
	return m.dropped.Load()
}

// Stats returns the mailbox counters.
func (m *Mailbox[T]) Stats() Stats {
	return Stats{
		Name:      m.name,
		Policy:    m.policy.String(),
		Published: m.published.Load(),
		Dropped:   m.dropped.Load(),
		Pending:   len(m.slot) > 0,
	}
}
