package canvas

import (
	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/valueobjects"
)

// HitKind says what part of the canvas a point landed on
type HitKind int

const (
	HitEmpty HitKind = iota
	HitNode
	HitOutputConnector
	HitInputConnector
)

func (k HitKind) String() string {
	switch k {
	case HitNode:
		return "node"
	case HitOutputConnector:
		return "output_connector"
	case HitInputConnector:
		return "input_connector"
	default:
		return "empty"
	}
}

// Hit is the result of classifying a point. NodeID is zero for HitEmpty.
type Hit struct {
	Kind   HitKind
	NodeID valueobjects.NodeID
}

// OnNode reports whether the hit landed anywhere on a node, connectors included
func (h Hit) OnNode() bool {
	return h.Kind != HitEmpty
}

// Classify maps a point to the node under it and the region of that node.
// Nodes later in the snapshot are on top and win when regions overlap,
// including on shared borders. Output connectors are the one exception: they
// are drawn above every node body, so a connection can still be started from
// a node that another node was dragged over.
func Classify(p Point, snapshot aggregates.GraphSnapshot, geom Geometry) Hit {
	for i := len(snapshot.Nodes) - 1; i >= 0; i-- {
		n := snapshot.Nodes[i]
		if geom.OutputConnector(n).Contains(p) {
			return Hit{Kind: HitOutputConnector, NodeID: n.ID()}
		}
	}
	for i := len(snapshot.Nodes) - 1; i >= 0; i-- {
		n := snapshot.Nodes[i]
		switch {
		case geom.InputConnector(n).Contains(p):
			return Hit{Kind: HitInputConnector, NodeID: n.ID()}
		case geom.NodeBounds(n).Contains(p):
			return Hit{Kind: HitNode, NodeID: n.ID()}
		}
	}
	return Hit{Kind: HitEmpty}
}

// HitTester binds a geometry so callers can classify without passing it around
type HitTester struct {
	geom Geometry
}

// NewHitTester creates a hit tester for the given geometry
func NewHitTester(geom Geometry) HitTester {
	return HitTester{geom: geom}
}

// Geometry returns the bound geometry
func (h HitTester) Geometry() Geometry {
	return h.geom
}

// Classify is Classify with the bound geometry
func (h HitTester) Classify(p Point, snapshot aggregates.GraphSnapshot) Hit {
	return Classify(p, snapshot, h.geom)
}

// Segment is a drawn connection line
type Segment struct {
	SourceID valueobjects.NodeID
	TargetID valueobjects.NodeID
	From     Point
	To       Point
}

// EdgeSegments computes one line per connection, from the source's right
// edge to the target's left edge. Connections whose endpoints are missing
// are skipped rather than drawn.
func EdgeSegments(snapshot aggregates.GraphSnapshot, geom Geometry) []Segment {
	segments := make([]Segment, 0, len(snapshot.Connections))
	for _, c := range snapshot.Connections {
		src, ok := snapshot.Node(c.SourceID())
		if !ok {
			continue
		}
		dst, ok := snapshot.Node(c.TargetID())
		if !ok {
			continue
		}
		segments = append(segments, Segment{
			SourceID: c.SourceID(),
			TargetID: c.TargetID(),
			From:     geom.OutputAnchor(src),
			To:       geom.InputAnchor(dst),
		})
	}
	return segments
}
