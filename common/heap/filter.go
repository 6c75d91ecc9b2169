// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heap

import "container/heap"

// TopKFilter keeps the k best elements pushed into it. The order is given by the
// ranking function: before(a, b) reports whether a ranks ahead of b. The ranking
// must be a strict total order for the output to be deterministic.
type TopKFilter[T any] struct {
	elems  []T
	before func(a, b T) bool
	k      int
}

// NewTopKFilter creates a top k filter.
func NewTopKFilter[T any](k int, before func(a, b T) bool) *TopKFilter[T] {
	return &TopKFilter[T]{k: k, before: before}
}

// Len returns the number of retained elements.
func (filter *TopKFilter[T]) Len() int {
	return len(filter.elems)
}

// Push offers x to the filter. The complexity is O(log k).
func (filter *TopKFilter[T]) Push(x T) {
	if filter.k <= 0 {
		return
	}
	if len(filter.elems) < filter.k {
		heap.Push((*worstFirst[T])(filter), x)
		return
	}
	// the root is the worst retained element
	if filter.before(x, filter.elems[0]) {
		filter.elems[0] = x
		heap.Fix((*worstFirst[T])(filter), 0)
	}
}

// PopAll pops all elements in ranking order, best first.
func (filter *TopKFilter[T]) PopAll() []T {
	items := make([]T, len(filter.elems))
	for i := len(items) - 1; i >= 0; i-- {
		items[i] = heap.Pop((*worstFirst[T])(filter)).(T)
	}
	return items
}

type worstFirst[T any] TopKFilter[T]

func (h *worstFirst[T]) Len() int {
	return len(h.elems)
}

func (h *worstFirst[T]) Less(i, j int) bool {
	return h.before(h.elems[j], h.elems[i])
}

func (h *worstFirst[T]) Swap(i, j int) {
	h.elems[i], h.elems[j] = h.elems[j], h.elems[i]
}

func (h *worstFirst[T]) Push(x any) {
	h.elems = append(h.elems, x.(T))
}

func (h *worstFirst[T]) Pop() any {
	old := h.elems
	item := old[len(old)-1]
	h.elems = old[:len(old)-1]
	return item
}
