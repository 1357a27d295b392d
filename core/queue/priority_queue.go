// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue implements a min-heap based priority queue.
//
// This was inspired by the priority queue example in the godocs:
// https://golang.org/pkg/container/heap/
package queue

import (
	"container/heap"
)

// Entry is a PriorityQueue entry.
type Entry struct {
	Value    interface{}
	Priority uint64
}

// PriorityQueue is a priority queue instance.
type PriorityQueue struct {
	heap []*Entry
}

// Less implements sort.Interface Less method.
func (q PriorityQueue) Less(i, j int) bool {
	return q.heap[i].Priority < q.heap[j].Priority
}

// Swap implements sort.Interface Swap method.
func (q PriorityQueue) Swap(i, j int) {
	if i < 0 || j < 0 {
		return
	}
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
}

// Push implements heap.Interface Push method.
func (q *PriorityQueue) Push(x interface{}) {
	entry := x.(*Entry)
	q.heap = append(q.heap, entry)
}

// Pop implements heap.Interface Pop method.
func (q *PriorityQueue) Pop() interface{} {
	if q.Len() <= 0 {
		return nil
	}
	n := len(q.heap)
	e := q.heap[n-1]
	q.heap = q.heap[:n-1]
	return e
}

// Peek returns the 0th entry (lowest priority) if any, leaving the
// PriorityQueue unaltered.  Callers MUST NOT alter the Priority of the
// returned entry.
func (q *PriorityQueue) Peek() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return q.heap[0]
}

// Dequeue removes and returns the 0th entry (lowest priority) if any.
func (q *PriorityQueue) Dequeue() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return heap.Pop(q).(*Entry)
}

// Enqueue inserts the provided value, into the queue with the specified
// priority.
func (q *PriorityQueue) Enqueue(priority uint64, value interface{}) {
	heap.Push(q, &Entry{
		Value:    value,
		Priority: priority,
	})
}

// Len returns the current length of the priority queue.
func (q *PriorityQueue) Len() int {
	return len(q.heap)
}

// New creates a new PriorityQueue.
func New() *PriorityQueue {
	q := &PriorityQueue{
		heap: make([]*Entry, 0),
	}
	heap.Init(q)
	return q
}
