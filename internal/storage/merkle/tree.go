package merkle

import (
	"bytes"
	"time"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

const noNode = -1

// node lives in Tree.nodes and refers to others by index.
type node struct {
	hash   Hash
	left   int
	right  int
	parent int
	leaf   int // index into Tree.keys, noNode for internal nodes
}

// Node is the exported view of a leaf.
type Node struct {
	Hash  Hash
	Key   []byte
	Value []byte
}

// Tree is a binary Merkle tree over a SystemState in sorted key order.
//
// Leaves pair up level by level; an unpaired trailing node is promoted to
// the next level unchanged. A Tree is not safe for concurrent Update, but
// concurrent reads of an unchanging Tree are fine.
type Tree struct {
	alg     Algorithm
	metrics *metric.Registry

	nodes  []node
	root   int
	keys   []string
	values [][]byte
	byKey  map[string]int // key -> node index
}

// Option configures a Tree.
type Option func(*Tree)

// WithAlgorithm selects the hash function. The default is SHA256.
func WithAlgorithm(a Algorithm) Option {
	return func(t *Tree) { t.alg = a }
}

// WithMetrics records build durations.
func WithMetrics(m *metric.Registry) Option {
	return func(t *Tree) { t.metrics = m }
}

// Build constructs a tree for state. An empty state yields an empty tree.
func Build(state domain.SystemState, opts ...Option) *Tree {
	t := &Tree{alg: SHA256}
	for _, opt := range opts {
		opt(t)
	}
	t.build(state)
	return t
}

// Update rebuilds the tree from scratch for a new state.
func (t *Tree) Update(state domain.SystemState) {
	t.build(state)
}

func (t *Tree) build(state domain.SystemState) {
	defer t.metrics.MerkleBuilt(time.Now())

	t.keys = state.SortedKeys()
	t.values = make([][]byte, len(t.keys))
	t.byKey = make(map[string]int, len(t.keys))
	t.nodes = make([]node, 0, 2*len(t.keys))
	t.root = noNode
	if len(t.keys) == 0 {
		return
	}

	level := make([]int, len(t.keys))
	for i, k := range t.keys {
		v := bytes.Clone(state[k])
		t.values[i] = v
		t.nodes = append(t.nodes, node{
			hash:   t.alg.LeafHash([]byte(k), v),
			left:   noNode,
			right:  noNode,
			parent: noNode,
			leaf:   i,
		})
		level[i] = len(t.nodes) - 1
		t.byKey[k] = level[i]
	}

	for len(level) > 1 {
		next := make([]int, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			l, r := level[i], level[i+1]
			t.nodes = append(t.nodes, node{
				hash:   t.alg.InternalHash(t.nodes[l].hash, t.nodes[r].hash),
				left:   l,
				right:  r,
				parent: noNode,
				leaf:   noNode,
			})
			idx := len(t.nodes) - 1
			t.nodes[l].parent = idx
			t.nodes[r].parent = idx
			next = append(next, idx)
		}
		level = next
	}
	t.root = level[0]
}

// Algorithm returns the hash function in use.
func (t *Tree) Algorithm() Algorithm {
	return t.alg
}

// Root returns the root hash, or false for an empty tree.
func (t *Tree) Root() (Hash, bool) {
	if t.root == noNode {
		return Hash{}, false
	}
	return t.nodes[t.root].hash, true
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.keys)
}

// Leaf returns the leaf for key.
func (t *Tree) Leaf(key []byte) (Node, bool) {
	idx, ok := t.byKey[string(key)]
	if !ok {
		return Node{}, false
	}
	n := t.nodes[idx]
	return Node{
		Hash:  n.hash,
		Key:   []byte(t.keys[n.leaf]),
		Value: bytes.Clone(t.values[n.leaf]),
	}, true
}

// GenerateProof returns an inclusion proof for key with siblings ordered
// from the leaf up to the root.
func (t *Tree) GenerateProof(key []byte) (*Proof, error) {
	if t.root == noNode {
		return nil, domain.ErrEmptyTree
	}
	idx, ok := t.byKey[string(key)]
	if !ok {
		return nil, domain.ErrKeyNotInTree.WithDetailsf("%q", key)
	}

	var siblings []Sibling
	for cur := idx; cur != t.root; {
		p := t.nodes[cur].parent
		if t.nodes[p].left == cur {
			siblings = append(siblings, Sibling{IsRight: true, Hash: t.nodes[t.nodes[p].right].hash})
		} else {
			siblings = append(siblings, Sibling{IsRight: false, Hash: t.nodes[t.nodes[p].left].hash})
		}
		cur = p
	}

	leaf := t.nodes[idx].leaf
	return &Proof{
		Key:       []byte(t.keys[leaf]),
		Value:     append([]byte{}, t.values[leaf]...), // never nil
		Siblings:  siblings,
		Algorithm: t.alg,
	}, nil
}

// RootOf builds a throwaway tree and returns its root.
func RootOf(state domain.SystemState, opts ...Option) (Hash, bool) {
	return Build(state, opts...).Root()
}
