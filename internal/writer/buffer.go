package writer

import (
	"errors"
	"sync"
)

// Queue errors.
var (
	// ErrQueueClosed is returned by Send after Close.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned by Send when the buffer is full at its
	// maximum capacity.
	ErrQueueFull = errors.New("queue full")
)

// Buffer is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to an optional maximum. Neither side blocks:
// producers get an error when the buffer is full or closed, consumers
// poll with TryReceive or DrainTo.
type Buffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int // 0 = unbounded
	closed   bool

	// Stats
	enqueued int64
	dequeued int64
	resizes  int
}

// NewBuffer creates a buffer with the given initial capacity. A max of 0
// lets the buffer grow without bound; a max below initial is raised to
// initial.
func NewBuffer[T any](initial, max int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if max > 0 && max < initial {
		max = initial
	}
	return &Buffer[T]{
		buf:      make([]T, initial),
		capacity: initial,
		max:      max,
	}
}

// Send adds an item, growing the buffer when it reaches 70% capacity.
// Returns ErrQueueFull when the buffer cannot grow past its maximum, or
// ErrQueueClosed after Close.
func (b *Buffer[T]) Send(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}
	if b.count == b.capacity {
		return ErrQueueFull
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.enqueued++
	return nil
}

// TryReceive removes and returns the oldest item without blocking.
// Returns the item and true, or the zero value and false when empty.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.dequeued++

	return item, true
}

// DrainTo removes up to max items in FIFO order, or everything when
// max <= 0. Returns nil when the buffer is empty.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.dequeued++
	}

	return result
}

// Close rejects further sends. Items already queued remain receivable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the current number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Resizes:  b.resizes,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Resizes  int
}

// grow doubles the buffer capacity, clamped to max. No-op once the
// maximum is reached. Must be called with the lock held.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	if b.max > 0 && newCapacity > b.max {
		newCapacity = b.max
	}
	if newCapacity <= b.capacity {
		return
	}

	newBuf := make([]T, newCapacity)

	// Copy existing items to new buffer
	if b.count > 0 {
		if b.head < b.tail {
			// Contiguous: [head...tail)
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizes++
}
