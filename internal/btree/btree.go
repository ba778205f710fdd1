/*
Copyright 2025 Tempus Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package btree provides an in-memory B-tree keyed by any ordered type.
package btree

const (
	maxNodeKeys = 32
	minNodeKeys = maxNodeKeys/2 - 1
)

// Comparer is implemented by key types that define their own ordering.
type Comparer[K any] interface {
	// Compare returns negative if the receiver sorts before other, zero if
	// equal, positive if after.
	Compare(other K) int
}

// BTree maps keys implementing Comparer to values, in key order.
type BTree[K Comparer[K], V any] struct {
	root *treeNode[K, V]
	size int
}

type treeNode[K Comparer[K], V any] struct {
	keys     []K
	values   []V
	children []*treeNode[K, V]
	leaf     bool
}

// NewBTree returns an empty tree.
func NewBTree[K Comparer[K], V any]() *BTree[K, V] {
	return &BTree[K, V]{
		root: &treeNode[K, V]{leaf: true},
	}
}

// Size returns the number of keys in the tree.
func (t *BTree[K, V]) Size() int {
	return t.size
}

// Search returns the value stored under key.
func (t *BTree[K, V]) Search(key K) (V, bool) {
	node := t.root
	for {
		i := node.find(key)
		if i < len(node.keys) && node.keys[i].Compare(key) == 0 {
			return node.values[i], true
		}
		if node.leaf {
			var zero V
			return zero, false
		}
		node = node.children[i]
	}
}

// find returns the index of key in the node, or the index of the child that
// would contain it.
func (n *treeNode[K, V]) find(key K) int {
	left, right := 0, len(n.keys)-1
	for left <= right {
		mid := left + (right-left)/2
		cmp := key.Compare(n.keys[mid])
		if cmp < 0 {
			right = mid - 1
		} else if cmp > 0 {
			left = mid + 1
		} else {
			return mid
		}
	}
	return left
}

// Insert adds key with value, replacing any existing value for an equal key.
func (t *BTree[K, V]) Insert(key K, value V) {
	if len(t.root.keys) >= maxNodeKeys {
		oldRoot := t.root
		t.root = &treeNode[K, V]{children: []*treeNode[K, V]{oldRoot}}
		t.splitChild(t.root, 0)
	}
	if t.insertNonFull(t.root, key, value) {
		t.size++
	}
}

func (t *BTree[K, V]) insertNonFull(node *treeNode[K, V], key K, value V) bool {
	i := node.find(key)
	if i < len(node.keys) && node.keys[i].Compare(key) == 0 {
		node.values[i] = value
		return false
	}

	if node.leaf {
		node.keys = append(node.keys, key)
		node.values = append(node.values, value)
		if i < len(node.keys)-1 {
			copy(node.keys[i+1:], node.keys[i:len(node.keys)-1])
			copy(node.values[i+1:], node.values[i:len(node.values)-1])
			node.keys[i] = key
			node.values[i] = value
		}
		return true
	}

	if len(node.children[i].keys) >= maxNodeKeys {
		t.splitChild(node, i)
		if node.keys[i].Compare(key) < 0 {
			i++
		}
	}
	return t.insertNonFull(node.children[i], key, value)
}

func (t *BTree[K, V]) splitChild(parent *treeNode[K, V], childIndex int) {
	child := parent.children[childIndex]
	mid := len(child.keys) / 2

	right := &treeNode[K, V]{
		keys:   append([]K{}, child.keys[mid+1:]...),
		values: append([]V{}, child.values[mid+1:]...),
		leaf:   child.leaf,
	}
	if !child.leaf {
		right.children = append([]*treeNode[K, V]{}, child.children[mid+1:]...)
	}

	medianKey := child.keys[mid]
	medianValue := child.values[mid]

	child.keys = child.keys[:mid]
	child.values = child.values[:mid]
	if !child.leaf {
		child.children = child.children[:mid+1]
	}

	parent.keys = append(parent.keys, medianKey)
	parent.values = append(parent.values, medianValue)
	parent.children = append(parent.children, nil)
	if childIndex < len(parent.keys)-1 {
		copy(parent.keys[childIndex+1:], parent.keys[childIndex:len(parent.keys)-1])
		copy(parent.values[childIndex+1:], parent.values[childIndex:len(parent.values)-1])
		copy(parent.children[childIndex+2:], parent.children[childIndex+1:len(parent.children)-1])
		parent.keys[childIndex] = medianKey
		parent.values[childIndex] = medianValue
	}
	parent.children[childIndex+1] = right
}

// Delete removes key, returning true when it was present.
func (t *BTree[K, V]) Delete(key K) bool {
	deleted := t.deleteKey(t.root, key)
	if deleted {
		t.size--
		if len(t.root.keys) == 0 && !t.root.leaf {
			t.root = t.root.children[0]
		}
	}
	return deleted
}

func (t *BTree[K, V]) deleteKey(node *treeNode[K, V], key K) bool {
	i := node.find(key)
	found := i < len(node.keys) && node.keys[i].Compare(key) == 0

	if found {
		if node.leaf {
			copy(node.keys[i:], node.keys[i+1:])
			copy(node.values[i:], node.values[i+1:])
			node.keys = node.keys[:len(node.keys)-1]
			node.values = node.values[:len(node.values)-1]
			return true
		}

		// Internal node: replace with the in-order predecessor or successor,
		// merging when both children sit at the minimum.
		if len(node.children[i].keys) > minNodeKeys {
			predKey, predVal := rightmost(node.children[i])
			node.keys[i] = predKey
			node.values[i] = predVal
			return t.deleteKey(node.children[i], predKey)
		}
		if len(node.children[i+1].keys) > minNodeKeys {
			succKey, succVal := leftmost(node.children[i+1])
			node.keys[i] = succKey
			node.values[i] = succVal
			return t.deleteKey(node.children[i+1], succKey)
		}
		mergeKey := node.keys[i]
		t.mergeChildren(node, i)
		return t.deleteKey(node.children[i], mergeKey)
	}

	if node.leaf {
		return false
	}
	if len(node.children[i].keys) <= minNodeKeys {
		i = t.fillChild(node, i)
	}
	return t.deleteKey(node.children[i], key)
}

func leftmost[K Comparer[K], V any](node *treeNode[K, V]) (K, V) {
	for !node.leaf {
		node = node.children[0]
	}
	return node.keys[0], node.values[0]
}

func rightmost[K Comparer[K], V any](node *treeNode[K, V]) (K, V) {
	for !node.leaf {
		node = node.children[len(node.children)-1]
	}
	last := len(node.keys) - 1
	return node.keys[last], node.values[last]
}

// fillChild tops up a minimal child before descending into it and returns
// the index of the child that now covers the key range.
func (t *BTree[K, V]) fillChild(node *treeNode[K, V], i int) int {
	if i > 0 && len(node.children[i-1].keys) > minNodeKeys {
		t.borrowLeft(node, i)
		return i
	}
	if i < len(node.children)-1 && len(node.children[i+1].keys) > minNodeKeys {
		t.borrowRight(node, i)
		return i
	}
	if i > 0 {
		t.mergeChildren(node, i-1)
		return i - 1
	}
	t.mergeChildren(node, i)
	return i
}

func (t *BTree[K, V]) borrowLeft(node *treeNode[K, V], i int) {
	child := node.children[i]
	left := node.children[i-1]

	child.keys = append([]K{node.keys[i-1]}, child.keys...)
	child.values = append([]V{node.values[i-1]}, child.values...)

	last := len(left.keys) - 1
	node.keys[i-1] = left.keys[last]
	node.values[i-1] = left.values[last]

	if !child.leaf {
		lastChild := len(left.children) - 1
		child.children = append([]*treeNode[K, V]{left.children[lastChild]}, child.children...)
		left.children = left.children[:lastChild]
	}
	left.keys = left.keys[:last]
	left.values = left.values[:last]
}

func (t *BTree[K, V]) borrowRight(node *treeNode[K, V], i int) {
	child := node.children[i]
	right := node.children[i+1]

	child.keys = append(child.keys, node.keys[i])
	child.values = append(child.values, node.values[i])

	node.keys[i] = right.keys[0]
	node.values[i] = right.values[0]

	if !child.leaf {
		child.children = append(child.children, right.children[0])
		right.children = right.children[1:]
	}
	right.keys = right.keys[1:]
	right.values = right.values[1:]
}

func (t *BTree[K, V]) mergeChildren(node *treeNode[K, V], i int) {
	left := node.children[i]
	right := node.children[i+1]

	left.keys = append(left.keys, node.keys[i])
	left.values = append(left.values, node.values[i])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	if !left.leaf {
		left.children = append(left.children, right.children...)
	}

	copy(node.keys[i:], node.keys[i+1:])
	copy(node.values[i:], node.values[i+1:])
	copy(node.children[i+1:], node.children[i+2:])
	node.keys = node.keys[:len(node.keys)-1]
	node.values = node.values[:len(node.values)-1]
	node.children = node.children[:len(node.children)-1]
}

// iterFrame records a node and the key index the iterator has consumed.
type iterFrame[K Comparer[K], V any] struct {
	node *treeNode[K, V]
	idx  int
}

// Iterator walks keys in ascending order.
type Iterator[K Comparer[K], V any] struct {
	stack     []iterFrame[K, V]
	currKey   K
	currValue V
	valid     bool
}

// Iterate returns an iterator positioned at the smallest key.
func (t *BTree[K, V]) Iterate() *Iterator[K, V] {
	iter := &Iterator[K, V]{stack: make([]iterFrame[K, V], 0, 8)}
	iter.pushLeftEdge(t.root)
	iter.Next()
	return iter
}

func (iter *Iterator[K, V]) pushLeftEdge(node *treeNode[K, V]) {
	for node != nil {
		iter.stack = append(iter.stack, iterFrame[K, V]{node: node, idx: -1})
		if node.leaf {
			break
		}
		node = node.children[0]
	}
}

// Next advances the iterator, returning false when exhausted.
func (iter *Iterator[K, V]) Next() bool {
	for len(iter.stack) > 0 {
		top := len(iter.stack) - 1
		frame := &iter.stack[top]
		frame.idx++

		if frame.idx >= len(frame.node.keys) {
			iter.stack = iter.stack[:top]
			continue
		}

		iter.currKey = frame.node.keys[frame.idx]
		iter.currValue = frame.node.values[frame.idx]
		iter.valid = true

		if !frame.node.leaf && frame.idx+1 < len(frame.node.children) {
			iter.pushLeftEdge(frame.node.children[frame.idx+1])
		}
		return true
	}
	iter.valid = false
	return false
}

// Get returns the key and value at the iterator's position.
func (iter *Iterator[K, V]) Get() (K, V) {
	return iter.currKey, iter.currValue
}

// Valid reports whether the iterator points at an element.
func (iter *Iterator[K, V]) Valid() bool {
	return iter.valid
}

// SeekGE returns an iterator positioned at the first key >= target.
func (t *BTree[K, V]) SeekGE(target K) *Iterator[K, V] {
	iter := &Iterator[K, V]{stack: make([]iterFrame[K, V], 0, 8)}
	node := t.root
	for {
		i := node.find(target)
		if i < len(node.keys) && node.keys[i].Compare(target) == 0 {
			iter.stack = append(iter.stack, iterFrame[K, V]{node: node, idx: i - 1})
			break
		}
		iter.stack = append(iter.stack, iterFrame[K, V]{node: node, idx: i - 1})
		if node.leaf {
			break
		}
		node = node.children[i]
	}
	iter.Next()
	return iter
}

// AscendRange visits keys in [lo, hi] in order until fn returns false.
func (t *BTree[K, V]) AscendRange(lo, hi K, fn func(key K, value V) bool) {
	iter := t.SeekGE(lo)
	for iter.Valid() {
		key, value := iter.Get()
		if key.Compare(hi) > 0 {
			return
		}
		if !fn(key, value) {
			return
		}
		iter.Next()
	}
}

// ForEach visits every key in ascending order until fn returns false.
func (t *BTree[K, V]) ForEach(fn func(key K, value V) bool) {
	t.forEachNode(t.root, fn)
}

func (t *BTree[K, V]) forEachNode(node *treeNode[K, V], fn func(key K, value V) bool) bool {
	if node == nil {
		return true
	}
	for i := 0; i < len(node.keys); i++ {
		if !node.leaf && i < len(node.children) {
			if !t.forEachNode(node.children[i], fn) {
				return false
			}
		}
		if !fn(node.keys[i], node.values[i]) {
			return false
		}
	}
	if !node.leaf && len(node.children) > len(node.keys) {
		return t.forEachNode(node.children[len(node.keys)], fn)
	}
	return true
}
