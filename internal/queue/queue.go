// Copyright 2021 Converter Systems LLC. All rights reserved.

// Package queue provides the bounded hand-off queue connecting the
// goroutines of a secure channel.
package queue

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock is returned by a non-blocking dequeue of an empty queue.
	ErrWouldBlock = errors.New("queue: would block")
	// ErrClosed is returned by every operation once the queue is closed.
	ErrClosed = errors.New("queue: closed")
	// ErrFull is returned when enqueueing to a queue at capacity.
	ErrFull = errors.New("queue: full")
)

// Queue is a bounded FIFO safe for concurrent use. Elements enqueued at
// the front are delivered before every element already queued.
// The mutex is only held for constant time deque operations.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    deque.Deque[T]
	capacity int
	closed   bool
}

// New returns a queue holding at most capacity elements, zero means unbounded.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// EnqueueBack adds an element at the tail.
func (q *Queue[T]) EnqueueBack(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkEnqueue(); err != nil {
		return err
	}
	q.items.PushBack(item)
	q.notEmpty.Signal()
	return nil
}

// EnqueueFront adds an element at the head, ahead of every queued element.
func (q *Queue[T]) EnqueueFront(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkEnqueue(); err != nil {
		return err
	}
	q.items.PushFront(item)
	q.notEmpty.Signal()
	return nil
}

func (q *Queue[T]) checkEnqueue() error {
	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && q.items.Len() >= q.capacity {
		return ErrFull
	}
	return nil
}

// DequeueBlocking removes the element at the head, waiting until one is
// available. It returns ErrClosed once the queue is closed.
func (q *Queue[T]) DequeueBlocking() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		var zero T
		return zero, ErrClosed
	}
	return q.items.PopFront(), nil
}

// DequeueNonBlocking removes the element at the head, or returns
// ErrWouldBlock if the queue is empty.
func (q *Queue[T]) DequeueNonBlocking() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.closed {
		return zero, ErrClosed
	}
	if q.items.Len() == 0 {
		return zero, ErrWouldBlock
	}
	return q.items.PopFront(), nil
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close wakes every blocked dequeuer with ErrClosed and rejects further
// enqueues. The elements still queued are returned to the caller.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var rest []T
	for q.items.Len() > 0 {
		rest = append(rest, q.items.PopFront())
	}
	q.notEmpty.Broadcast()
	return rest
}
