package dataset

// Node is a vertex of a multi-block tree. Leaves usually carry data; inner
// nodes may carry data too.
type Node struct {
	name     string
	data     *DataObject
	parent   *Node
	children []*Node
	tree     *MultiBlock
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Data returns the data attached to the node, possibly nil.
func (n *Node) Data() *DataObject { return n.data }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int { return len(n.children) }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// AddChild appends a child and returns it.
func (n *Node) AddChild(name string, data *DataObject) *Node {
	n.tree.checkMutable()
	c := &Node{name: name, data: data, parent: n, tree: n.tree}
	n.children = append(n.children, c)
	return c
}

// SetData attaches data to the node.
func (n *Node) SetData(d *DataObject) {
	n.tree.checkMutable()
	n.data = d
}

// Path returns the names from the root to n joined with "/".
func (n *Node) Path() string {
	if n.parent == nil {
		return n.name
	}
	return n.parent.Path() + "/" + n.name
}

// MultiBlock is a tree-shaped composite dataset.
type MultiBlock struct {
	root   *Node
	frozen bool
}

// NewMultiBlock returns a tree containing only a root node.
func NewMultiBlock(rootName string) *MultiBlock {
	mb := &MultiBlock{}
	mb.root = &Node{name: rootName, tree: mb}
	return mb
}

// Kind implements Payload.
func (mb *MultiBlock) Kind() Kind { return KindMultiBlock }

// Root returns the declared root.
func (mb *MultiBlock) Root() *Node { return mb.root }

// NumNodes returns the number of nodes including the root.
func (mb *MultiBlock) NumNodes() int {
	n := 0
	mb.walk(mb.root, func(*Node) { n++ })
	return n
}

// Leaves returns every node that carries data, in pre-order.
func (mb *MultiBlock) Leaves() []*Node {
	var out []*Node
	mb.walk(mb.root, func(n *Node) {
		if n.data != nil {
			out = append(out, n)
		}
	})
	return out
}

// CopyStructure returns a tree with the same shape and names but no data.
func (mb *MultiBlock) CopyStructure() *MultiBlock {
	out := NewMultiBlock(mb.root.name)
	copyShape(out.root, mb.root, false)
	return out
}

func (mb *MultiBlock) walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		mb.walk(c, fn)
	}
}

func copyShape(dst, src *Node, withData bool) {
	if withData && src.data != nil {
		dst.data = src.data.DeepCopy()
	}
	for _, c := range src.children {
		child := &Node{name: c.name, parent: dst, tree: dst.tree}
		dst.children = append(dst.children, child)
		copyShape(child, c, withData)
	}
}

func (mb *MultiBlock) clone() Payload {
	out := NewMultiBlock(mb.root.name)
	copyShape(out.root, mb.root, true)
	return out
}

func (mb *MultiBlock) freeze() {
	mb.frozen = true
	mb.walk(mb.root, func(n *Node) {
		if n.data != nil {
			n.data.Seal()
		}
	})
}

func (mb *MultiBlock) checkMutable() {
	if mb.frozen {
		panic("dataset: multi-block tree belongs to a published data object")
	}
}
