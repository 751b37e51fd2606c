// Package canvas holds the geometry of the flow canvas: node footprints,
// connector regions, and the hit tester that maps a pointer to what is under it.
package canvas

import (
	"flowbuilder/domain/core/entities"
)

// Point is a pointer or anchor position in canvas coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Rect is an axis-aligned rectangle with inclusive bounds
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Contains reports whether p lies inside r or on its border
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Geometry fixes the footprint every node is drawn with
type Geometry struct {
	NodeWidth     float64 `yaml:"node_width" validate:"gt=0"`
	NodeHeight    float64 `yaml:"node_height" validate:"gt=0"`
	ConnectorSize float64 `yaml:"connector_size" validate:"gt=0"`
}

// DefaultGeometry matches the mobile canvas: 150x60 nodes with 16pt connectors
func DefaultGeometry() Geometry {
	return Geometry{
		NodeWidth:     150,
		NodeHeight:    60,
		ConnectorSize: 16,
	}
}

// NodeBounds returns the rectangle a node occupies
func (g Geometry) NodeBounds(n entities.Node) Rect {
	x, y := n.Position().X(), n.Position().Y()
	return Rect{
		Min: Pt(x, y),
		Max: Pt(x+g.NodeWidth, y+g.NodeHeight),
	}
}

// OutputConnector returns the square at the middle of the node's right edge
func (g Geometry) OutputConnector(n entities.Node) Rect {
	b := g.NodeBounds(n)
	midY := b.Min.Y + g.NodeHeight/2
	return Rect{
		Min: Pt(b.Max.X-g.ConnectorSize, midY-g.ConnectorSize/2),
		Max: Pt(b.Max.X, midY+g.ConnectorSize/2),
	}
}

// InputConnector returns the square at the middle of the node's left edge
func (g Geometry) InputConnector(n entities.Node) Rect {
	b := g.NodeBounds(n)
	midY := b.Min.Y + g.NodeHeight/2
	return Rect{
		Min: Pt(b.Min.X, midY-g.ConnectorSize/2),
		Max: Pt(b.Min.X+g.ConnectorSize, midY+g.ConnectorSize/2),
	}
}

// OutputAnchor is where an outgoing edge starts: the right edge midpoint
func (g Geometry) OutputAnchor(n entities.Node) Point {
	b := g.NodeBounds(n)
	return Pt(b.Max.X, b.Min.Y+g.NodeHeight/2)
}

// InputAnchor is where an incoming edge ends: the left edge midpoint
func (g Geometry) InputAnchor(n entities.Node) Point {
	b := g.NodeBounds(n)
	return Pt(b.Min.X, b.Min.Y+g.NodeHeight/2)
}
