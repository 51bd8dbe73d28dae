// Package ringbuffer provides a thread-safe, growable circular queue over a
// contiguous slice.
package ringbuffer

import (
	"errors"
	"sync"
)

// DefaultCapacity is used when a non-positive initial capacity is requested.
const DefaultCapacity = 1024

// ErrClosed is returned by mutating operations once the buffer was closed.
var ErrClosed = errors.New("ringbuffer: closed")

// RingBuffer is a FIFO queue of T backed by a single slice. It grows by a
// fixed granularity when an enqueue does not fit and never shrinks.
//
// All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	mu     sync.Mutex
	buf    []T
	growth int
	read   int // head
	write  int // tail
	count  int
	closed bool
}

// New creates a buffer holding initialCapacity elements that grows in
// multiples of growth. A non-positive growth uses initialCapacity.
func New[T any](initialCapacity, growth int) *RingBuffer[T] {
	if initialCapacity <= 0 {
		initialCapacity = DefaultCapacity
	}
	if growth <= 0 {
		growth = initialCapacity
	}
	return &RingBuffer[T]{
		buf:    make([]T, initialCapacity),
		growth: growth,
	}
}

// Len returns the number of buffered elements.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the current capacity of the backing slice.
func (r *RingBuffer[T]) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Enqueue appends items in order, growing the backing slice if needed.
func (r *RingBuffer[T]) Enqueue(items []T) error {
	n := len(items)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if n == 0 {
		return nil
	}
	if r.count+n > len(r.buf) {
		r.grow(r.count + n)
	}

	c := len(r.buf)
	right := c - r.write
	if right >= n {
		copy(r.buf[r.write:], items)
	} else {
		copy(r.buf[r.write:], items[:right])
		copy(r.buf, items[right:])
	}
	r.write = (r.write + n) % c
	r.count += n
	return nil
}

// Dequeue moves up to len(dst) elements from the head into dst and returns
// how many were moved.
func (r *RingBuffer[T]) Dequeue(dst []T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.take(dst, true)
}

// DequeueN removes and returns up to n elements from the head.
func (r *RingBuffer[T]) DequeueN(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.takeN(n, true)
}

// DequeueAll removes and returns every buffered element.
func (r *RingBuffer[T]) DequeueAll() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.takeN(r.count, true)
}

// Peek copies up to len(dst) elements from the head into dst without
// removing them.
func (r *RingBuffer[T]) Peek(dst []T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.take(dst, false)
}

// PeekN returns a copy of up to n elements from the head. A negative n
// returns every buffered element.
func (r *RingBuffer[T]) PeekN(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 {
		n = r.count
	}
	return r.takeN(n, false)
}

// PeekAt returns the element offset positions from the head. The second
// result is false when offset is past the last buffered element.
func (r *RingBuffer[T]) PeekAt(offset int) (T, bool) {
	var zero T
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= r.count {
		return zero, false
	}
	return r.buf[(r.read+offset)%len(r.buf)], true
}

// Clear discards up to n elements from the head and returns how many were
// discarded.
func (r *RingBuffer[T]) Clear(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return 0
	}
	r.advance(n)
	return n
}

// Reset discards every buffered element.
func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	r.read, r.write, r.count = 0, 0, 0
	r.mu.Unlock()
}

// Close releases the backing slice. Subsequent enqueues fail with ErrClosed
// and reads return nothing.
func (r *RingBuffer[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.buf = nil
	r.read, r.write, r.count = 0, 0, 0
	return nil
}

func (r *RingBuffer[T]) takeN(n int, consume bool) []T {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	r.take(out, consume)
	return out
}

// take must be called with mu held.
func (r *RingBuffer[T]) take(dst []T, consume bool) int {
	n := len(dst)
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return 0
	}

	right := len(r.buf) - r.read
	if right >= n {
		copy(dst, r.buf[r.read:r.read+n])
	} else {
		copy(dst, r.buf[r.read:])
		copy(dst[right:n], r.buf[:n-right])
	}
	if consume {
		r.advance(n)
	}
	return n
}

func (r *RingBuffer[T]) advance(n int) {
	r.read = (r.read + n) % len(r.buf)
	r.count -= n
	if r.count == 0 {
		r.read, r.write = 0, 0
	}
}

// grow reallocates to the smallest multiple of the growth granularity that
// holds required elements, laying out the current content from index 0.
func (r *RingBuffer[T]) grow(required int) {
	newCap := ((required + r.growth - 1) / r.growth) * r.growth
	if newCap <= len(r.buf) {
		return
	}
	next := make([]T, newCap)
	r.take(next[:r.count], false)
	r.buf = next
	r.read = 0
	r.write = r.count % newCap
}
