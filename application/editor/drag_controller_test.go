package editor

import (
	"testing"

	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController() *DragController {
	return NewDragController(canvas.NewHitTester(canvas.DefaultGeometry()))
}

func position(t *testing.T, g *aggregates.Graph, id valueobjects.NodeID) valueobjects.Position {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok)
	return n.Position()
}

func TestDragController_Scenario(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()

	n1 := g.AddNode(valueobjects.MustPosition(50, 50))
	n2 := g.AddNode(valueobjects.MustPosition(50, 50))
	require.NotEqual(t, n1.ID(), n2.ID())

	// drag n2 by (+100, 0); n2 is on top so the press lands on it
	d.PointerDown(g, canvas.Pt(100, 60))
	require.Equal(t, DragNode, d.Kind())
	d.PointerMove(g, canvas.Pt(150, 60))
	d.PointerMove(g, canvas.Pt(200, 60))
	res := d.PointerUp(g, canvas.Pt(200, 60))
	assert.True(t, res.Save)
	assert.False(t, res.Connected)
	assert.Equal(t, 150.0, position(t, g, n2.ID()).X())
	assert.Equal(t, 50.0, position(t, g, n2.ID()).Y())
	assert.Equal(t, 50.0, position(t, g, n1.ID()).X())

	// press n1's output connector and release on n2
	d.PointerDown(g, canvas.Pt(190, 80))
	require.Equal(t, DragConnecting, d.Kind())
	d.PointerMove(g, canvas.Pt(220, 70))
	res = d.PointerUp(g, canvas.Pt(250, 60))
	assert.True(t, res.Connected)
	assert.True(t, res.Save)
	assert.Equal(t, []entities.Connection{entities.NewConnection(n1.ID(), n2.ID())}, g.Snapshot().Connections)

	// the reverse edge is distinct
	d.PointerDown(g, canvas.Pt(290, 80))
	require.Equal(t, DragConnecting, d.Kind())
	res = d.PointerUp(g, canvas.Pt(60, 80))
	assert.True(t, res.Connected)
	assert.Len(t, g.Snapshot().Connections, 2)
	assert.Equal(t, DragIdle, d.Kind())
}

func TestDragController_DragKeepsPointerOffset(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	n := g.AddNode(valueobjects.MustPosition(0, 0))

	d.PointerDown(g, canvas.Pt(40, 10))
	res := d.PointerMove(g, canvas.Pt(-60, -90))
	assert.True(t, res.Changed)
	assert.False(t, res.Save)

	pos := position(t, g, n.ID())
	assert.Equal(t, -100.0, pos.X())
	assert.Equal(t, -100.0, pos.Y())
}

func TestDragController_InputConnectorStaysIdle(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	n := g.AddNode(valueobjects.MustPosition(0, 0))

	res := d.PointerDown(g, canvas.Pt(5, 30))
	assert.Equal(t, DragResult{}, res)
	assert.Equal(t, DragIdle, d.Kind())
	_, ok := d.NodeID()
	assert.False(t, ok)

	assert.Equal(t, DragResult{}, d.PointerMove(g, canvas.Pt(105, 30)))
	assert.Equal(t, DragIdle, d.Kind())
	pos := position(t, g, n.ID())
	assert.Equal(t, 0.0, pos.X())
	assert.Equal(t, 0.0, pos.Y())
}

func TestDragController_EmptyCanvasIsIgnored(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	g.AddNode(valueobjects.MustPosition(0, 0))

	res := d.PointerDown(g, canvas.Pt(500, 500))
	assert.Equal(t, DragResult{}, res)
	assert.Equal(t, DragIdle, d.Kind())
	assert.Equal(t, DragResult{}, d.PointerMove(g, canvas.Pt(510, 510)))
	assert.Equal(t, DragResult{}, d.PointerUp(g, canvas.Pt(510, 510)))
}

func TestDragController_SecondPressIsIgnored(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	a := g.AddNode(valueobjects.MustPosition(0, 0))
	g.AddNode(valueobjects.MustPosition(300, 0))

	d.PointerDown(g, canvas.Pt(50, 10))
	res := d.PointerDown(g, canvas.Pt(350, 10))
	assert.Equal(t, DragResult{}, res)

	id, ok := d.NodeID()
	require.True(t, ok)
	assert.Equal(t, a.ID(), id)
}

func TestDragController_DragNeverConnects(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	g.AddNode(valueobjects.MustPosition(0, 0))
	g.AddNode(valueobjects.MustPosition(300, 0))

	d.PointerDown(g, canvas.Pt(50, 10))
	d.PointerMove(g, canvas.Pt(350, 10))
	d.PointerUp(g, canvas.Pt(350, 10))

	assert.Empty(t, g.Snapshot().Connections)
}

func TestDragController_ConnectionRelease(t *testing.T) {
	tests := []struct {
		name      string
		release   canvas.Point
		connected bool
	}{
		{"on target body", canvas.Pt(350, 10), true},
		{"on target input connector", canvas.Pt(305, 30), true},
		{"on target output connector", canvas.Pt(445, 30), true},
		{"on empty canvas", canvas.Pt(250, 200), false},
		{"on the source itself", canvas.Pt(50, 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := aggregates.NewGraph()
			d := newController()
			g.AddNode(valueobjects.MustPosition(0, 0))
			g.AddNode(valueobjects.MustPosition(300, 0))

			d.PointerDown(g, canvas.Pt(145, 30))
			require.Equal(t, DragConnecting, d.Kind())
			res := d.PointerUp(g, tt.release)

			assert.Equal(t, tt.connected, res.Connected)
			assert.Equal(t, tt.connected, res.Save)
			assert.Equal(t, DragIdle, d.Kind())
			if tt.connected {
				assert.Len(t, g.Snapshot().Connections, 1)
			} else {
				assert.Empty(t, g.Snapshot().Connections)
			}
		})
	}
}

func TestDragController_DuplicateConnectionIsNotSaved(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	a := g.AddNode(valueobjects.MustPosition(0, 0))
	b := g.AddNode(valueobjects.MustPosition(300, 0))
	require.True(t, g.Connect(a.ID(), b.ID()))

	d.PointerDown(g, canvas.Pt(145, 30))
	res := d.PointerUp(g, canvas.Pt(350, 10))
	assert.False(t, res.Connected)
	assert.False(t, res.Save)
	assert.Len(t, g.Snapshot().Connections, 1)
}

func TestDragController_Cancel(t *testing.T) {
	t.Run("keeps committed moves", func(t *testing.T) {
		g := aggregates.NewGraph()
		d := newController()
		n := g.AddNode(valueobjects.MustPosition(0, 0))

		d.PointerDown(g, canvas.Pt(50, 10))
		d.PointerMove(g, canvas.Pt(70, 10))
		res := d.Cancel()
		assert.True(t, res.Save)
		assert.Equal(t, DragIdle, d.Kind())

		d.PointerMove(g, canvas.Pt(500, 500))
		assert.Equal(t, 20.0, position(t, g, n.ID()).X())
	})

	t.Run("abandons a connection", func(t *testing.T) {
		g := aggregates.NewGraph()
		d := newController()
		g.AddNode(valueobjects.MustPosition(0, 0))
		g.AddNode(valueobjects.MustPosition(300, 0))

		d.PointerDown(g, canvas.Pt(145, 30))
		res := d.Cancel()
		assert.False(t, res.Save)

		d.PointerUp(g, canvas.Pt(350, 10))
		assert.Empty(t, g.Snapshot().Connections)
	})
}

func TestDragController_View(t *testing.T) {
	g := aggregates.NewGraph()
	d := newController()
	a := g.AddNode(valueobjects.MustPosition(0, 0))

	assert.Equal(t, "idle", d.View().State)

	d.PointerDown(g, canvas.Pt(145, 30))
	d.PointerMove(g, canvas.Pt(200, 40))
	view := d.View()
	assert.Equal(t, "connecting", view.State)
	assert.Equal(t, a.ID().String(), view.SourceID)
	require.NotNil(t, view.Pointer)
	assert.Equal(t, canvas.Pt(200, 40), *view.Pointer)
}
