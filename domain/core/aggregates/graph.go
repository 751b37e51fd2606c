package aggregates

import (
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"
)

// Graph is the in-memory chat flow: nodes plus directed connections, both
// kept in insertion order.
//
// Invariants:
//   - node ids are unique
//   - every connection's endpoints are present
//   - no self-loops and no duplicate ordered pairs
//
// Graph is not safe for concurrent use. It has a single writer: the editor
// session's event loop.
type Graph struct {
	nodes       []entities.Node
	index       map[valueobjects.NodeID]int
	connections []entities.Connection
	edgeSet     map[entities.Connection]struct{}
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		nodes:       []entities.Node{},
		index:       make(map[valueobjects.NodeID]int),
		connections: []entities.Connection{},
		edgeSet:     make(map[entities.Connection]struct{}),
	}
}

// NewGraphFromSnapshot creates a graph hydrated from a snapshot
func NewGraphFromSnapshot(snapshot GraphSnapshot) *Graph {
	g := NewGraph()
	g.ReplaceAll(snapshot)
	return g
}

// AddNode places a new node with a fresh id and the default label at the
// given position and returns it. It always succeeds.
func (g *Graph) AddNode(position valueobjects.Position) entities.Node {
	node := entities.NewNode(position)
	g.index[node.ID()] = len(g.nodes)
	g.nodes = append(g.nodes, node)
	return node
}

// RenameNode changes a node's label, keeping its id and position. Unknown
// ids are ignored. It reports whether a node was changed.
func (g *Graph) RenameNode(id valueobjects.NodeID, label string) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	if g.nodes[i].Label() == label {
		return false
	}
	g.nodes[i] = g.nodes[i].WithLabel(label)
	return true
}

// MoveNode sets a node's position. Unknown ids and non-finite coordinates are
// ignored. It reports whether a node was changed.
func (g *Graph) MoveNode(id valueobjects.NodeID, x, y float64) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	pos, err := valueobjects.NewPosition(x, y)
	if err != nil {
		return false
	}
	g.nodes[i] = g.nodes[i].WithPosition(pos)
	return true
}

// Connect adds the directed edge source -> target. It returns false without
// changing anything for self-loops, unknown endpoints, or a pair that already
// exists.
func (g *Graph) Connect(sourceID, targetID valueobjects.NodeID) bool {
	conn := entities.NewConnection(sourceID, targetID)
	if conn.IsSelfLoop() {
		return false
	}
	if !g.Has(sourceID) || !g.Has(targetID) {
		return false
	}
	if _, exists := g.edgeSet[conn]; exists {
		return false
	}
	g.edgeSet[conn] = struct{}{}
	g.connections = append(g.connections, conn)
	return true
}

// ReplaceAll swaps the whole node and connection sequences for those in
// snapshot. Entries that would break an invariant are dropped: nodes with an
// empty or repeated id, and connections that are self-loops, repeats, or
// reference a node the snapshot does not contain.
func (g *Graph) ReplaceAll(snapshot GraphSnapshot) {
	nodes := make([]entities.Node, 0, len(snapshot.Nodes))
	index := make(map[valueobjects.NodeID]int, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		if n.ID().IsZero() {
			continue
		}
		if _, dup := index[n.ID()]; dup {
			continue
		}
		index[n.ID()] = len(nodes)
		nodes = append(nodes, n)
	}

	connections := make([]entities.Connection, 0, len(snapshot.Connections))
	edgeSet := make(map[entities.Connection]struct{}, len(snapshot.Connections))
	for _, c := range snapshot.Connections {
		if c.IsSelfLoop() {
			continue
		}
		if _, ok := index[c.SourceID()]; !ok {
			continue
		}
		if _, ok := index[c.TargetID()]; !ok {
			continue
		}
		if _, dup := edgeSet[c]; dup {
			continue
		}
		edgeSet[c] = struct{}{}
		connections = append(connections, c)
	}

	g.nodes = nodes
	g.index = index
	g.connections = connections
	g.edgeSet = edgeSet
}

// Snapshot returns a copy of the current state
func (g *Graph) Snapshot() GraphSnapshot {
	return GraphSnapshot{Nodes: g.nodes, Connections: g.connections}.Clone()
}

// Has reports whether a node with the id exists
func (g *Graph) Has(id valueobjects.NodeID) bool {
	_, ok := g.index[id]
	return ok
}

// Node returns the node with the id
func (g *Graph) Node(id valueobjects.NodeID) (entities.Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return entities.Node{}, false
	}
	return g.nodes[i], true
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Outgoing returns the targets of edges leaving id, in insertion order
func (g *Graph) Outgoing(id valueobjects.NodeID) []valueobjects.NodeID {
	var out []valueobjects.NodeID
	for _, c := range g.connections {
		if c.SourceID().Equals(id) {
			out = append(out, c.TargetID())
		}
	}
	return out
}

// Incoming returns the sources of edges entering id, in insertion order
func (g *Graph) Incoming(id valueobjects.NodeID) []valueobjects.NodeID {
	var in []valueobjects.NodeID
	for _, c := range g.connections {
		if c.TargetID().Equals(id) {
			in = append(in, c.SourceID())
		}
	}
	return in
}
