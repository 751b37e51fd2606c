package entities

import (
	"flowbuilder/domain/core/valueobjects"
)

// DefaultLabel is the text a node gets when it is first placed on the canvas.
const DefaultLabel = "New Node"

// Node is a positioned, labeled vertex in a chat flow.
type Node struct {
	id       valueobjects.NodeID
	position valueobjects.Position
	label    string
}

// NewNode places a fresh node with a new id and the default label
func NewNode(position valueobjects.Position) Node {
	return Node{
		id:       valueobjects.NewNodeID(),
		position: position,
		label:    DefaultLabel,
	}
}

// ReconstructNode rebuilds a node from persisted state
func ReconstructNode(id valueobjects.NodeID, position valueobjects.Position, label string) Node {
	return Node{id: id, position: position, label: label}
}

// ID returns the node's identifier
func (n Node) ID() valueobjects.NodeID {
	return n.id
}

// Position returns the node's top-left corner
func (n Node) Position() valueobjects.Position {
	return n.position
}

// Label returns the node's text
func (n Node) Label() string {
	return n.label
}

// WithLabel returns a copy of the node carrying the new label
func (n Node) WithLabel(label string) Node {
	n.label = label
	return n
}

// WithPosition returns a copy of the node at the new position
func (n Node) WithPosition(position valueobjects.Position) Node {
	n.position = position
	return n
}
