package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// NodeID is a value object representing a unique node identifier.
// Ids are opaque: documents written by other clients may carry any non-empty string.
type NodeID struct {
	value string
}

// NewNodeID creates a new time-ordered NodeID
func NewNodeID() NodeID {
	id, err := uuid.NewV7()
	if err != nil {
		return NodeID{value: uuid.New().String()}
	}
	return NodeID{value: id.String()}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	if id == "" {
		return NodeID{}, errors.New("node ID cannot be empty")
	}
	return NodeID{value: id}, nil
}

// MustNodeID is NewNodeIDFromString for literals known to be valid.
func MustNodeID(id string) NodeID {
	nodeID, err := NewNodeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return nodeID
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return id.value
}

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == ""
}
