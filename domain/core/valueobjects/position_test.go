package valueobjects

import (
	"math"
	"testing"

	pkgerrors "flowbuilder/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPosition(t *testing.T) {
	tests := []struct {
		name    string
		x, y    float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"negative coordinates are allowed", -250, -10.5, false},
		{"far off canvas", 1e9, 1e9, false},
		{"NaN x", math.NaN(), 0, true},
		{"infinite y", 0, math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := NewPosition(tt.x, tt.y)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.x, pos.X())
			assert.Equal(t, tt.y, pos.Y())
		})
	}
}

func TestPosition_TranslateAndSub(t *testing.T) {
	start, err := NewPosition(50, 50)
	require.NoError(t, err)

	moved, err := start.Translate(100, -20)
	require.NoError(t, err)
	assert.True(t, moved.Equals(Position{x: 150, y: 30}))

	dx, dy := moved.Sub(start)
	assert.Equal(t, 100.0, dx)
	assert.Equal(t, -20.0, dy)

	_, err = start.Translate(math.Inf(-1), 0)
	assert.Error(t, err)
}

func TestNodeID(t *testing.T) {
	a := NewNodeID()
	b := NewNodeID()
	assert.False(t, a.Equals(b))
	assert.False(t, a.IsZero())

	_, err := NewNodeIDFromString("")
	assert.Error(t, err)

	legacy, err := NewNodeIDFromString("1")
	require.NoError(t, err)
	assert.Equal(t, "1", legacy.String())
}
