package entities

import (
	"flowbuilder/domain/core/valueobjects"
)

// Connection is a directed edge between two nodes. The reverse pair is a
// distinct connection.
type Connection struct {
	sourceID valueobjects.NodeID
	targetID valueobjects.NodeID
}

// NewConnection creates a connection from source to target
func NewConnection(sourceID, targetID valueobjects.NodeID) Connection {
	return Connection{sourceID: sourceID, targetID: targetID}
}

// SourceID returns the node the edge leaves
func (c Connection) SourceID() valueobjects.NodeID {
	return c.sourceID
}

// TargetID returns the node the edge enters
func (c Connection) TargetID() valueobjects.NodeID {
	return c.targetID
}

// IsSelfLoop reports whether both ends are the same node
func (c Connection) IsSelfLoop() bool {
	return c.sourceID.Equals(c.targetID)
}

// Equals compares the ordered pair
func (c Connection) Equals(other Connection) bool {
	return c.sourceID.Equals(other.sourceID) && c.targetID.Equals(other.targetID)
}
