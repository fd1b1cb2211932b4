package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Errors surfaced to the submission path.
var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
)

// MemoryQueue is the FIFO hand-off between admission and the worker pool: a
// bounded multi-producer/multi-consumer channel of task ids. Enqueue never
// blocks the submitter; Dequeue blocks workers while the queue is empty.
type MemoryQueue struct {
	ch     chan uuid.UUID
	mu     sync.Mutex
	closed bool
}

// New builds a queue with the given capacity.
func New(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan uuid.UUID, size)}
}

// Enqueue appends a task id, or reports ErrQueueFull/ErrQueueClosed without
// blocking.
func (q *MemoryQueue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the oldest id, blocking until one is available or ctx ends.
func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id, ok := <-q.ch:
		if !ok {
			return uuid.Nil, ErrQueueClosed
		}
		return id, nil
	}
}

// Depth reports how many ids are waiting.
func (q *MemoryQueue) Depth() int {
	return len(q.ch)
}

// Close stops admission. Workers drain whatever is already queued.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
