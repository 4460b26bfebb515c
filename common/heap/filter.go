// Copyright 2025 gorse Project Authors
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

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

// Elem is a value ranked by its weight.
type Elem[T any, W constraints.Ordered] struct {
	Value  T
	Weight W
}

type entry[T any, W constraints.Ordered] struct {
	Elem[T, W]
	seq int
}

// worse reports whether a ranks below b. Equal weights rank by arrival.
func (a entry[T, W]) worse(b entry[T, W]) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	return a.seq > b.seq
}

// minHeap keeps the worst retained entry at the root.
type minHeap[T any, W constraints.Ordered] []entry[T, W]

func (h minHeap[T, W]) Len() int           { return len(h) }
func (h minHeap[T, W]) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h minHeap[T, W]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap[T, W]) Push(x any) {
	*h = append(*h, x.(entry[T, W]))
}

func (h *minHeap[T, W]) Pop() any {
	n := len(*h)
	last := (*h)[n-1]
	*h = (*h)[:n-1]
	return last
}

// TopKFilter retains the k heaviest values pushed into it. Among equal weights
// the values pushed first are retained and ranked first.
type TopKFilter[T any, W constraints.Ordered] struct {
	elems minHeap[T, W]
	k     int
	seq   int
}

// NewTopKFilter creates a filter retaining at most k values.
func NewTopKFilter[T any, W constraints.Ordered](k int) *TopKFilter[T, W] {
	return &TopKFilter[T, W]{k: k}
}

// Len returns the number of retained values.
func (filter *TopKFilter[T, W]) Len() int {
	return len(filter.elems)
}

// Push offers a value. It costs O(log k).
func (filter *TopKFilter[T, W]) Push(value T, weight W) {
	if filter.k <= 0 {
		return
	}
	e := entry[T, W]{Elem: Elem[T, W]{Value: value, Weight: weight}, seq: filter.seq}
	filter.seq++
	if len(filter.elems) < filter.k {
		heap.Push(&filter.elems, e)
		return
	}
	if e.worse(filter.elems[0]) {
		return
	}
	filter.elems[0] = e
	heap.Fix(&filter.elems, 0)
}

// PopAll drains the filter, heaviest first.
func (filter *TopKFilter[T, W]) PopAll() []Elem[T, W] {
	elems := make([]Elem[T, W], len(filter.elems))
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i] = heap.Pop(&filter.elems).(entry[T, W]).Elem
	}
	filter.seq = 0
	return elems
}

// PopAllValues drains the filter and returns only values, heaviest first.
func (filter *TopKFilter[T, W]) PopAllValues() []T {
	elems := filter.PopAll()
	values := make([]T, len(elems))
	for i, elem := range elems {
		values[i] = elem.Value
	}
	return values
}
