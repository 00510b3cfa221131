// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package heap implements a generic min-heap.
package heap

// Queue is a min-heap ordered by a caller-supplied
// comparison function. The "smallest" element
// according to Less is always at the front.
type Queue[T any] struct {
	items []T
	less  func(x, y T) bool
}

// New returns an empty queue ordered by less.
func New[T any](less func(x, y T) bool) *Queue[T] {
	return &Queue[T]{less: less}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Push adds item while preserving the heap invariant.
func (q *Queue[T]) Push(item T) {
	q.items = append(q.items, item)
	q.up(len(q.items) - 1)
}

// Peek returns the smallest item without removing it.
// It panics if the queue is empty.
func (q *Queue[T]) Peek() T { return q.items[0] }

// Pop removes and returns the smallest item.
// It panics if the queue is empty.
func (q *Queue[T]) Pop() T {
	ret := q.items[0]
	last := len(q.items) - 1
	q.items[0] = q.items[last]
	var zero T
	q.items[last] = zero
	q.items = q.items[:last]
	if last > 0 {
		q.down(0)
	}
	return ret
}

// Drain pops every item in order and
// appends it to dst.
func (q *Queue[T]) Drain(dst []T) []T {
	for q.Len() > 0 {
		dst = append(dst, q.Pop())
	}
	return dst
}

// Items returns the queued items in heap
// order (not sorted). The returned slice
// aliases the queue and must not be modified.
func (q *Queue[T]) Items() []T { return q.items }

// Fix restores the heap invariant after the
// item at index i was changed in place.
func (q *Queue[T]) Fix(i int) {
	q.down(i)
	q.up(i)
}

// Remove deletes the item at index i
// (in Items order) and returns it.
func (q *Queue[T]) Remove(i int) T {
	ret := q.items[i]
	last := len(q.items) - 1
	if i != last {
		q.items[i] = q.items[last]
	}
	var zero T
	q.items[last] = zero
	q.items = q.items[:last]
	if i < last {
		q.Fix(i)
	}
	return ret
}

func (q *Queue[T]) up(index int) {
	x := q.items
	for index > 0 {
		p := (index - 1) / 2
		if q.less(x[p], x[index]) {
			break
		}
		x[p], x[index] = x[index], x[p]
		index = p
	}
}

func (q *Queue[T]) down(index int) {
	x := q.items
	for {
		left := (index * 2) + 1
		right := left + 1
		if left >= len(x) {
			break
		}
		c := left
		if len(x) > right && q.less(x[right], x[left]) {
			c = right
		}
		if q.less(x[index], x[c]) {
			break
		}
		x[c], x[index] = x[index], x[c]
		index = c
	}
}
