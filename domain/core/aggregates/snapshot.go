package aggregates

import (
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"
)

// GraphSnapshot is the full state of a flow at one instant and the unit of
// persistence. Sequence order is kept for deterministic rendering only.
type GraphSnapshot struct {
	Nodes       []entities.Node
	Connections []entities.Connection
}

// EmptySnapshot returns a snapshot with no nodes or connections
func EmptySnapshot() GraphSnapshot {
	return GraphSnapshot{
		Nodes:       []entities.Node{},
		Connections: []entities.Connection{},
	}
}

// IsEmpty reports whether the snapshot holds no nodes
func (s GraphSnapshot) IsEmpty() bool {
	return len(s.Nodes) == 0 && len(s.Connections) == 0
}

// Clone returns a copy that shares no backing arrays with s
func (s GraphSnapshot) Clone() GraphSnapshot {
	out := GraphSnapshot{
		Nodes:       make([]entities.Node, len(s.Nodes)),
		Connections: make([]entities.Connection, len(s.Connections)),
	}
	copy(out.Nodes, s.Nodes)
	copy(out.Connections, s.Connections)
	return out
}

// Node looks up a node by id
func (s GraphSnapshot) Node(id valueobjects.NodeID) (entities.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID().Equals(id) {
			return n, true
		}
	}
	return entities.Node{}, false
}
