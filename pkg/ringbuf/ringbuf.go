// Package ringbuf provides a fixed-capacity circular buffer.
package ringbuf

import "sync"

// Buffer holds up to a fixed number of elements. Once full, each Add
// overwrites the oldest element. All methods are safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	size  int
	head  int // next write slot
	count int
}

// New creates a Buffer with the given capacity.
func New[T any](size int) *Buffer[T] {
	if size <= 0 {
		panic("ringbuf: size must be positive")
	}
	return &Buffer[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Add appends an element, overwriting the oldest one when full.
func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Len returns the number of elements currently held.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return b.size
}

// Snapshot returns the elements in the order they were added, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]T, b.count)
	if b.count < b.size {
		copy(result, b.items[:b.head])
		return result
	}
	// Full buffer: oldest element sits at head.
	copied := copy(result, b.items[b.head:])
	copy(result[copied:], b.items[:b.head])
	return result
}
