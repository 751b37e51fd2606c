package flowsync

import (
	"encoding/json"
	"fmt"

	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/go-playground/validator/v10"
)

// document is the persisted JSON shape:
//
//	{"nodes":[{"id","x","y","text"}],"connections":[{"sourceId","targetId"}]}
//
// Both arrays must be present for a document to be well formed.
type document struct {
	Nodes       *[]documentNode       `json:"nodes" validate:"required"`
	Connections *[]documentConnection `json:"connections" validate:"required"`
}

type documentNode struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type documentConnection struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

var documentValidator = validator.New()

// Encode serializes a snapshot into the persisted document shape. The output
// is deterministic for a given snapshot.
func Encode(snapshot aggregates.GraphSnapshot) ([]byte, error) {
	nodes := make([]documentNode, 0, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		nodes = append(nodes, documentNode{
			ID:   n.ID().String(),
			X:    n.Position().X(),
			Y:    n.Position().Y(),
			Text: n.Label(),
		})
	}
	connections := make([]documentConnection, 0, len(snapshot.Connections))
	for _, c := range snapshot.Connections {
		connections = append(connections, documentConnection{
			SourceID: c.SourceID().String(),
			TargetID: c.TargetID().String(),
		})
	}

	data, err := json.Marshal(document{Nodes: &nodes, Connections: &connections})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow document: %w", err)
	}
	return data, nil
}

// Decode parses a persisted document. A document that is not JSON, or lacks
// the nodes or connections array, yields a MALFORMED_DOCUMENT error. Entries
// with an empty id are skipped; invariant repair (dangling connections,
// duplicates) is left to Graph.ReplaceAll.
func Decode(key string, data []byte) (aggregates.GraphSnapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return aggregates.EmptySnapshot(), pkgerrors.NewMalformedDocumentError(key, err)
	}
	if err := documentValidator.Struct(doc); err != nil {
		return aggregates.EmptySnapshot(), pkgerrors.NewMalformedDocumentError(key, err)
	}

	snapshot := aggregates.GraphSnapshot{
		Nodes:       make([]entities.Node, 0, len(*doc.Nodes)),
		Connections: make([]entities.Connection, 0, len(*doc.Connections)),
	}
	for _, n := range *doc.Nodes {
		id, err := valueobjects.NewNodeIDFromString(n.ID)
		if err != nil {
			continue
		}
		pos, err := valueobjects.NewPosition(n.X, n.Y)
		if err != nil {
			continue
		}
		snapshot.Nodes = append(snapshot.Nodes, entities.ReconstructNode(id, pos, n.Text))
	}
	for _, c := range *doc.Connections {
		source, err := valueobjects.NewNodeIDFromString(c.SourceID)
		if err != nil {
			continue
		}
		target, err := valueobjects.NewNodeIDFromString(c.TargetID)
		if err != nil {
			continue
		}
		snapshot.Connections = append(snapshot.Connections, entities.NewConnection(source, target))
	}
	return snapshot, nil
}
