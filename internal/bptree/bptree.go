// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package bptree implements the per-node local index: a B+ tree with
// dictionary semantics over 160-bit keys and payloads of type V.
//
// All data lives in the leaves, which form a singly linked list in key
// order; internal nodes hold separator keys only. Insertion splits
// overflowing nodes at the median and propagates the split upward.
// Deletion does not rebalance: under-full leaves persist until the
// tree is rebuilt, which the testbed tolerates.
//
// The tree is not safe for concurrent use; callers serialize access.
package bptree

import (
	"iter"
	"sort"

	"github.com/dhtlab/ringleaf/internal/ident"
)

// DefaultOrder is the branching factor used when none is configured.
const DefaultOrder = 50

// minOrder is the smallest usable branching factor.
const minOrder = 3

// Map is a B+ tree mapping ident.Id keys to values of type V.
// Reinsertion of a present key overwrites its value.
type Map[V any] struct {
	root  *node[V]
	order int
	size  int
}

// node is either a leaf (keys+vals, chained via next) or an internal
// node (separator keys + children, len(children) == len(keys)+1).
type node[V any] struct {
	leaf     bool
	keys     []ident.Id
	vals     []V
	children []*node[V]
	next     *node[V]
}

// New returns an empty tree with the given order. Orders below 3 fall
// back to DefaultOrder.
func New[V any](order int) *Map[V] {
	if order < minOrder {
		order = DefaultOrder
	}
	return &Map[V]{
		root:  &node[V]{leaf: true},
		order: order,
	}
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	return m.size
}

// findLeaf descends to the leaf that owns k.
func (m *Map[V]) findLeaf(k ident.Id) *node[V] {
	n := m.root
	for !n.leaf {
		n = n.children[childIndex(n.keys, k)]
	}
	return n
}

// childIndex returns the child slot to follow for k: the number of
// separator keys <= k.
func childIndex(keys []ident.Id, k ident.Id) int {
	return sort.Search(len(keys), func(i int) bool {
		return k.Cmp(keys[i]) < 0
	})
}

// keySlot returns the position of k in keys and whether it is present.
func keySlot(keys []ident.Id, k ident.Id) (int, bool) {
	i := sort.Search(len(keys), func(i int) bool {
		return keys[i].Cmp(k) >= 0
	})
	return i, i < len(keys) && keys[i] == k
}

// Get returns the value for k.
func (m *Map[V]) Get(k ident.Id) (V, bool) {
	leaf := m.findLeaf(k)
	if i, ok := keySlot(leaf.keys, k); ok {
		return leaf.vals[i], true
	}
	var zero V
	return zero, false
}

// Contains reports whether k is present.
func (m *Map[V]) Contains(k ident.Id) bool {
	leaf := m.findLeaf(k)
	_, ok := keySlot(leaf.keys, k)
	return ok
}

// Insert adds or overwrites the entry for k.
func (m *Map[V]) Insert(k ident.Id, v V) {
	sep, sib := m.insert(m.root, k, v)
	if sib == nil {
		return
	}
	// The old root split; grow the tree by one level.
	m.root = &node[V]{
		keys:     []ident.Id{sep},
		children: []*node[V]{m.root, sib},
	}
}

// insert places (k, v) in the subtree rooted at n. If n splits, the
// promoted separator and the new right sibling are returned.
func (m *Map[V]) insert(n *node[V], k ident.Id, v V) (ident.Id, *node[V]) {
	if n.leaf {
		i, ok := keySlot(n.keys, k)
		if ok {
			n.vals[i] = v
			return ident.Id{}, nil
		}
		n.keys = insertAt(n.keys, i, k)
		n.vals = insertAt(n.vals, i, v)
		m.size++
		if len(n.keys) > m.order-1 {
			return m.splitLeaf(n)
		}
		return ident.Id{}, nil
	}

	ci := childIndex(n.keys, k)
	sep, sib := m.insert(n.children[ci], k, v)
	if sib == nil {
		return ident.Id{}, nil
	}
	i, _ := keySlot(n.keys, sep)
	n.keys = insertAt(n.keys, i, sep)
	n.children = insertAt(n.children, i+1, sib)
	if len(n.keys) > m.order-1 {
		return m.splitInternal(n)
	}
	return ident.Id{}, nil
}

// splitLeaf splits an overflowing leaf at the median. The left half
// keeps ceil(n/2) keys; the first key of the right half is promoted
// as the separator and the leaf chain is rewired.
func (m *Map[V]) splitLeaf(n *node[V]) (ident.Id, *node[V]) {
	mid := (len(n.keys) + 1) / 2
	sib := &node[V]{
		leaf: true,
		keys: append([]ident.Id(nil), n.keys[mid:]...),
		vals: append([]V(nil), n.vals[mid:]...),
		next: n.next,
	}
	n.keys = n.keys[:mid:mid]
	n.vals = n.vals[:mid:mid]
	n.next = sib
	return sib.keys[0], sib
}

// splitInternal splits an overflowing internal node. The median key
// moves up as the separator and does not remain in either half.
func (m *Map[V]) splitInternal(n *node[V]) (ident.Id, *node[V]) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	sib := &node[V]{
		keys:     append([]ident.Id(nil), n.keys[mid+1:]...),
		children: append([]*node[V](nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.children = n.children[: mid+1 : mid+1]
	return sep, sib
}

// Delete removes the entry for k and reports whether it was present.
// Leaves are not rebalanced after removal.
func (m *Map[V]) Delete(k ident.Id) bool {
	leaf := m.findLeaf(k)
	i, ok := keySlot(leaf.keys, k)
	if !ok {
		return false
	}
	leaf.keys = removeAt(leaf.keys, i)
	leaf.vals = removeAt(leaf.vals, i)
	m.size--
	return true
}

// All iterates over every entry in ascending key order by walking the
// leaf chain.
func (m *Map[V]) All() iter.Seq2[ident.Id, V] {
	return func(yield func(ident.Id, V) bool) {
		n := m.root
		for !n.leaf {
			n = n.children[0]
		}
		for ; n != nil; n = n.next {
			for i, k := range n.keys {
				if !yield(k, n.vals[i]) {
					return
				}
			}
		}
	}
}

// Clear drops every entry, resetting the tree to a single empty leaf.
func (m *Map[V]) Clear() {
	m.root = &node[V]{leaf: true}
	m.size = 0
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	copy(s[i:], s[i+1:])
	return s[:len(s)-1]
}
