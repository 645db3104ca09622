// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import "sync"

// fifo is an unbounded first-in first-out queue with a wakeup channel.
// Producers never block. A single consumer waits on ready and then
// drains with pop until it reports empty.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{ready: make(chan struct{}, 1)}
}

func (q *fifo[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *fifo[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// outbound accumulates encoded frames for one connection. Writes
// append to a single buffer; the writer takes the whole buffer at once.
type outbound struct {
	mu    sync.Mutex
	buf   []byte
	ready chan struct{}
}

func newOutbound() *outbound {
	return &outbound{ready: make(chan struct{}, 1)}
}

func (o *outbound) write(p []byte) {
	if len(p) == 0 {
		return
	}
	o.mu.Lock()
	o.buf = append(o.buf, p...)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbound) take() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	data := o.buf
	o.buf = nil
	return data
}

func (o *outbound) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}
