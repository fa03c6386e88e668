// Package history provides the fixed-capacity rolling history the simulation
// keeps in memory between snapshots.
package history

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned by New for a zero capacity.
	ErrInvalidCapacity = errors.New("history: capacity must be > 0")
	// ErrIndexOutOfRange is returned for a logical index outside [0, Len()).
	ErrIndexOutOfRange = errors.New("history: index out of range")
	// ErrEmptyBuffer is returned by Latest on an empty ring.
	ErrEmptyBuffer = errors.New("history: buffer is empty")
)

// Ring is a circular buffer that overwrites its oldest element once full.
// Logical index 0 is the oldest retained element and Len()-1 the newest.
//
// A Ring is not safe for concurrent use; the simulation loop owns it.
type Ring[T any] struct {
	buf  []T
	head int // next physical write position
	size int
}

// New allocates a ring holding at most capacity elements.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCapacity, capacity)
	}
	return &Ring[T]{buf: make([]T, capacity)}, nil
}

// Push stores item at the head, evicting the oldest element when full.
func (r *Ring[T]) Push(item T) {
	r.buf[r.head] = item
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Get returns the element at logical index i.
func (r *Ring[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, r.size)
	}
	return r.buf[r.physical(i)], nil
}

// Latest returns the most recently pushed element.
func (r *Ring[T]) Latest() (T, error) {
	if r.size == 0 {
		var zero T
		return zero, ErrEmptyBuffer
	}
	return r.Get(r.size - 1)
}

// Rewind returns the element pushed k pushes before the latest one.
// Rewind(0) is Latest.
func (r *Ring[T]) Rewind(k int) (T, error) {
	if k < 0 || k >= r.size {
		var zero T
		return zero, fmt.Errorf("%w: cannot rewind %d (len %d)", ErrIndexOutOfRange, k, r.size)
	}
	return r.Get(r.size - 1 - k)
}

// Items copies the retained elements, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.buf[r.physical(i)]
	}
	return out
}

// Clear logically empties the ring. Storage is kept and reused.
func (r *Ring[T]) Clear() {
	r.head = 0
	r.size = 0
}

// Len returns the number of retained elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Empty reports whether no elements are retained.
func (r *Ring[T]) Empty() bool { return r.size == 0 }

// Full reports whether the next Push will evict.
func (r *Ring[T]) Full() bool { return r.size == len(r.buf) }

func (r *Ring[T]) physical(i int) int {
	if r.size < len(r.buf) {
		return i
	}
	return (r.head + i) % len(r.buf)
}
