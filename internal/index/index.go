// Copyright 2025 Ian Lewis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package index implements a generic in-memory sorted index.
package index

import (
	"slices"
	"sort"
)

// Index is a generic sorted array index. Values with equal keys keep the
// order in which they were given to [New].
type Index[V any] struct {
	index []V
	key   func(V) string
	cmp   func(string, string) int
}

// New creates an index from the given slice, key function and comparison
// function. cmp(a, b) should return a negative number when a < b, a positive
// number when a > b and zero when a == b.
func New[V any](values []V, key func(V) string, cmp func(string, string) int) *Index[V] {
	sorted := make([]V, len(values))
	copy(sorted, values)
	slices.SortStableFunc(sorted, func(a, b V) int {
		return cmp(key(a), key(b))
	})

	return &Index[V]{
		index: sorted,
		key:   key,
		cmp:   cmp,
	}
}

// Len returns the number of values in the index.
func (idx *Index[V]) Len() int {
	return len(idx.index)
}

// Search performs a binary search over the index and returns all values
// matching the query in insertion order.
func (idx *Index[V]) Search(query string) []V {
	i, found := sort.Find(len(idx.index), func(i int) int {
		return idx.cmp(query, idx.key(idx.index[i]))
	})
	if !found {
		return nil
	}

	j := i + 1
	for j < len(idx.index) && idx.cmp(query, idx.key(idx.index[j])) == 0 {
		j++
	}
	return idx.index[i:j]
}

// Last returns the last inserted value matching the query.
func (idx *Index[V]) Last(query string) (V, bool) {
	matches := idx.Search(query)
	if len(matches) == 0 {
		var zero V
		return zero, false
	}
	return matches[len(matches)-1], true
}
