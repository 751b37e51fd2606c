package valueobjects

import (
	"math"

	pkgerrors "flowbuilder/pkg/errors"
)

// Position is a canvas coordinate. There is no bounds clamping: the canvas
// scrolls and clips at render time, so negative values are legal.
type Position struct {
	x float64
	y float64
}

// NewPosition creates a position, rejecting NaN and infinities
func NewPosition(x, y float64) (Position, error) {
	if !isValidCoordinate(x) || !isValidCoordinate(y) {
		return Position{}, pkgerrors.NewValidationError("invalid coordinates: must be finite numbers")
	}
	return Position{x: x, y: y}, nil
}

// MustPosition is NewPosition for coordinates known to be finite.
func MustPosition(x, y float64) Position {
	p, err := NewPosition(x, y)
	if err != nil {
		panic(err)
	}
	return p
}

// Origin returns the (0,0) position
func Origin() Position {
	return Position{}
}

// X returns the X coordinate
func (p Position) X() float64 {
	return p.x
}

// Y returns the Y coordinate
func (p Position) Y() float64 {
	return p.y
}

// Translate moves the position by the given offsets
func (p Position) Translate(dx, dy float64) (Position, error) {
	return NewPosition(p.x+dx, p.y+dy)
}

// Sub returns the offset from other to p
func (p Position) Sub(other Position) (dx, dy float64) {
	return p.x - other.x, p.y - other.y
}

// Equals checks if two positions are equal
func (p Position) Equals(other Position) bool {
	const epsilon = 1e-9
	return math.Abs(p.x-other.x) < epsilon &&
		math.Abs(p.y-other.y) < epsilon
}

// isValidCoordinate checks if a coordinate is a valid finite number
func isValidCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
