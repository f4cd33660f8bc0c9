package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Edge is one connection inside a pull graph: output port FromPort of From
// feeds connection Conn of input port ToPort of To.
type Edge struct {
	From     *Executive
	FromPort int
	To       *Executive
	ToPort   int
	Conn     int
}

type portKey struct {
	exec *Executive
	port int
}

// Graph is the upstream subgraph of a terminal executive, leveled so that
// every producer sits on a lower level than all of its consumers.
type Graph struct {
	// Terminal is the executive the graph was built from.
	Terminal *Executive

	// Levels holds executives per topological level, sources first. Nodes
	// within a level are ordered by creation.
	Levels [][]*Executive

	// Edges lists every connection inside the graph.
	Edges []Edge

	level     map[*Executive]int
	consumers map[portKey][]Edge
}

// Depth returns the number of levels.
func (g *Graph) Depth() int { return len(g.Levels) }

// Nodes returns every executive in ascending level order.
func (g *Graph) Nodes() []*Executive {
	var out []*Executive
	for _, l := range g.Levels {
		out = append(out, l...)
	}
	return out
}

// Level returns the level of e, or -1 when e is not in the graph.
func (g *Graph) Level(e *Executive) int {
	if l, ok := g.level[e]; ok {
		return l
	}
	return -1
}

// Consumers returns the edges leaving output port of e within the graph.
func (g *Graph) Consumers(e *Executive, port int) []Edge {
	return g.consumers[portKey{exec: e, port: port}]
}

// GraphBuilder levels the upstream subgraph of an executive.
type GraphBuilder struct {
	// nodes maps executive IDs to executives
	nodes map[uint64]*Executive

	// adjacency maps producers to their consumers
	adjacency map[uint64][]uint64

	// inDegree tracks the number of incoming edges for each node
	inDegree map[uint64]int

	edges  []Edge
	levels [][]*Executive
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:     make(map[uint64]*Executive),
		adjacency: make(map[uint64][]uint64),
		inDegree:  make(map[uint64]int),
	}
}

// BuildGraph builds the pull graph of terminal.
func BuildGraph(terminal *Executive) (*Graph, error) {
	return NewGraphBuilder().Build(terminal)
}

// Build collects everything upstream of terminal, rejects cycles and
// computes topological levels.
func (b *GraphBuilder) Build(terminal *Executive) (*Graph, error) {
	if terminal == nil {
		return nil, NewTopologyError("terminal executive is nil", nil).WithCode(ErrCodeValidation)
	}

	b.initialize(terminal)

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildGraph(terminal), nil
}

// initialize walks upstream from the terminal and records every edge.
func (b *GraphBuilder) initialize(terminal *Executive) {
	stack := []*Executive{terminal}
	b.nodes[terminal.id] = terminal
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := b.inDegree[e.id]; !ok {
			b.inDegree[e.id] = 0
		}

		for port, conns := range e.inputs {
			for conn, src := range conns {
				p := src.exec
				b.edges = append(b.edges, Edge{From: p, FromPort: src.port, To: e, ToPort: port, Conn: conn})
				b.adjacency[p.id] = append(b.adjacency[p.id], e.id)
				b.inDegree[e.id]++
				if _, seen := b.nodes[p.id]; !seen {
					b.nodes[p.id] = p
					stack = append(stack, p)
				}
			}
		}
	}
}

// detectCycles uses depth-first search to detect circular connections.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[uint64]bool)
	recStack := make(map[uint64]bool)

	for _, id := range b.sortedIDs() {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewTopologyError(
					fmt.Sprintf("circular connection detected: %s", b.formatCycle(cycle)),
					nil,
				).WithCode(ErrCodeCycle)
			}
		}
	}

	return nil
}

func (b *GraphBuilder) detectCyclesUtil(
	id uint64,
	visited map[uint64]bool,
	recStack map[uint64]bool,
	path []uint64,
) []uint64 {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, next := range b.adjacency[id] {
		if !visited[next] {
			if cycle := b.detectCyclesUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, p := range path {
				if p == next {
					return append(path[i:], next)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[uint64]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	var current []uint64
	for _, id := range b.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		level := make([]*Executive, len(current))
		for i, id := range current {
			level[i] = b.nodes[id]
		}
		b.levels = append(b.levels, level)
		processed += len(current)

		var next []uint64
		for _, id := range current {
			for _, dep := range b.adjacency[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		current = next
	}

	if processed != len(b.nodes) {
		return NewInternalError("failed to level all nodes - possible cycle", nil)
	}
	return nil
}

func (b *GraphBuilder) buildGraph(terminal *Executive) *Graph {
	g := &Graph{
		Terminal:  terminal,
		Levels:    b.levels,
		Edges:     b.edges,
		level:     make(map[*Executive]int, len(b.nodes)),
		consumers: make(map[portKey][]Edge),
	}
	for l, execs := range b.levels {
		for _, e := range execs {
			g.level[e] = l
		}
	}
	sort.SliceStable(g.Edges, func(i, j int) bool {
		if g.Edges[i].To.id != g.Edges[j].To.id {
			return g.Edges[i].To.id < g.Edges[j].To.id
		}
		if g.Edges[i].ToPort != g.Edges[j].ToPort {
			return g.Edges[i].ToPort < g.Edges[j].ToPort
		}
		return g.Edges[i].Conn < g.Edges[j].Conn
	})
	for _, edge := range g.Edges {
		k := portKey{exec: edge.From, port: edge.FromPort}
		g.consumers[k] = append(g.consumers[k], edge)
	}
	return g
}

func (b *GraphBuilder) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *GraphBuilder) formatCycle(cycle []uint64) string {
	names := make([]string, len(cycle))
	for i, id := range cycle {
		names[i] = b.nodes[id].Name()
	}
	return strings.Join(names, " -> ")
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per level.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Pipeline {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, execs := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, e := range execs {
			label := fmt.Sprintf("%s\\n%s", e.Name(), e.desc.Name)
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				e.Name(), label, stateColor(e.PortState(0))))
		}

		sb.WriteString("  }\n\n")
	}

	for _, edge := range g.Edges {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%d:%d\"];\n",
			edge.From.Name(), edge.To.Name(), edge.FromPort, edge.ToPort))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func stateColor(s PortState) string {
	switch s {
	case PortStateValid:
		return "lightgreen"
	case PortStateStale:
		return "khaki"
	case PortStateInformed:
		return "lightblue"
	default:
		return "white"
	}
}

// Validate performs consistency checks on a built graph.
func (g *Graph) Validate() error {
	for _, edge := range g.Edges {
		if _, ok := g.level[edge.From]; !ok {
			return NewInternalError(fmt.Sprintf("edge references node outside the graph: %s", edge.From.Name()), nil)
		}
		if _, ok := g.level[edge.To]; !ok {
			return NewInternalError(fmt.Sprintf("edge references node outside the graph: %s", edge.To.Name()), nil)
		}
		if g.level[edge.From] >= g.level[edge.To] {
			return NewInternalError(fmt.Sprintf("producer %s is not below consumer %s",
				edge.From.Name(), edge.To.Name()), nil)
		}
	}
	for _, root := range g.Levels[0] {
		if root.numConnections() > 0 {
			return NewInternalError(fmt.Sprintf("root node %s has inputs", root.Name()), nil)
		}
	}
	return nil
}
