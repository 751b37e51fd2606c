// Package dto holds the JSON shapes the HTTP and websocket transports send
package dto

import (
	"flowbuilder/application/ports"
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/entities"
)

type Node struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type Connection struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

type Segment struct {
	SourceID string       `json:"sourceId"`
	TargetID string       `json:"targetId"`
	From     canvas.Point `json:"from"`
	To       canvas.Point `json:"to"`
}

type Geometry struct {
	NodeWidth     float64 `json:"nodeWidth"`
	NodeHeight    float64 `json:"nodeHeight"`
	ConnectorSize float64 `json:"connectorSize"`
}

// Frame is a renderable canvas: the graph, the precomputed edge lines, the
// gesture in progress and whether the last save reached the store
type Frame struct {
	FlowID      string           `json:"flowId"`
	Nodes       []Node           `json:"nodes"`
	Connections []Connection     `json:"connections"`
	Segments    []Segment        `json:"segments"`
	Drag        ports.DragView   `json:"drag"`
	Geometry    Geometry         `json:"geometry"`
	Sync        ports.SyncStatus `json:"sync"`
}

func FromNode(n entities.Node) Node {
	return Node{ID: n.ID().String(), X: n.Position().X(), Y: n.Position().Y(), Text: n.Label()}
}

func FromFrame(f ports.Frame) Frame {
	out := Frame{
		FlowID:      f.FlowID,
		Nodes:       make([]Node, 0, len(f.Snapshot.Nodes)),
		Connections: make([]Connection, 0, len(f.Snapshot.Connections)),
		Segments:    make([]Segment, 0, len(f.Segments)),
		Drag:        f.Drag,
		Geometry: Geometry{
			NodeWidth:     f.Geometry.NodeWidth,
			NodeHeight:    f.Geometry.NodeHeight,
			ConnectorSize: f.Geometry.ConnectorSize,
		},
		Sync: f.Sync,
	}
	for _, n := range f.Snapshot.Nodes {
		out.Nodes = append(out.Nodes, FromNode(n))
	}
	for _, c := range f.Snapshot.Connections {
		out.Connections = append(out.Connections, Connection{SourceID: c.SourceID().String(), TargetID: c.TargetID().String()})
	}
	for _, s := range f.Segments {
		out.Segments = append(out.Segments, Segment{
			SourceID: s.SourceID.String(),
			TargetID: s.TargetID.String(),
			From:     s.From,
			To:       s.To,
		})
	}
	return out
}
