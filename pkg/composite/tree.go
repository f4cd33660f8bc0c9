package composite

import (
	"fmt"

	"github.com/gridflow/gridflow/pkg/dataset"
)

// Order selects how a TreeIterator walks a multi-block tree.
type Order string

const (
	// BreadthFirst visits every node at depth d before any node at depth d+1.
	BreadthFirst Order = "bfs"

	// DepthFirst visits a node's entire subtree before its next sibling.
	DepthFirst Order = "dfs"
)

// Validate checks if the order is known.
func (o Order) Validate() error {
	switch o {
	case BreadthFirst, DepthFirst:
		return nil
	default:
		return fmt.Errorf("invalid traversal order: %q", o)
	}
}

type visit struct {
	node  *dataset.Node
	depth int
}

// TreeIterator walks a multi-block tree with an explicit order. Children are
// visited in insertion order, so both orders are deterministic.
type TreeIterator struct {
	tree  *dataset.MultiBlock
	order Order
	start *dataset.Node

	pending []visit
	cur     visit
	done    bool
}

// NewTreeIterator returns an iterator starting at the tree's declared root.
func NewTreeIterator(tree *dataset.MultiBlock, order Order) (*TreeIterator, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &TreeIterator{tree: tree, order: order, done: true}, nil
}

// SetStartNode overrides the root as the start vertex. Passing nil restores
// the default.
func (it *TreeIterator) SetStartNode(n *dataset.Node) { it.start = n }

// InitTraversal positions the iterator on the start vertex.
func (it *TreeIterator) InitTraversal() {
	start := it.start
	if start == nil && it.tree != nil {
		start = it.tree.Root()
	}
	it.pending = it.pending[:0]
	it.done = start == nil
	if start != nil {
		it.pending = append(it.pending, visit{node: start})
	}
	it.GoToNextItem()
}

// GoToNextItem moves to the next node.
func (it *TreeIterator) GoToNextItem() {
	if len(it.pending) == 0 {
		it.done = true
		it.cur = visit{}
		return
	}

	switch it.order {
	case BreadthFirst:
		it.cur = it.pending[0]
		it.pending = it.pending[1:]
		for _, c := range it.cur.node.Children() {
			it.pending = append(it.pending, visit{node: c, depth: it.cur.depth + 1})
		}
	case DepthFirst:
		last := len(it.pending) - 1
		it.cur = it.pending[last]
		it.pending = it.pending[:last]
		children := it.cur.node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			it.pending = append(it.pending, visit{node: children[i], depth: it.cur.depth + 1})
		}
	}
}

// IsDoneWithTraversal reports whether every reachable node was visited.
func (it *TreeIterator) IsDoneWithTraversal() bool { return it.done }

// Current returns the current node.
func (it *TreeIterator) Current() *dataset.Node { return it.cur.node }

// Depth returns the depth of the current node below the start vertex.
func (it *TreeIterator) Depth() int { return it.cur.depth }

// Walk visits every node reachable from the tree root in the given order.
// Returning false from fn stops the walk.
func Walk(tree *dataset.MultiBlock, order Order, fn func(n *dataset.Node, depth int) bool) error {
	it, err := NewTreeIterator(tree, order)
	if err != nil {
		return err
	}
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		if !fn(it.Current(), it.Depth()) {
			break
		}
	}
	return nil
}
