// Package editor hosts the interactive side of the flow builder: the pointer
// gesture state machine and the per-flow session that serializes every
// mutation onto one event loop.
package editor

import (
	"flowbuilder/application/ports"
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/valueobjects"
)

// DragKind names the active gesture
type DragKind string

const (
	DragIdle       DragKind = "idle"
	DragNode       DragKind = "dragging_node"
	DragConnecting DragKind = "connecting"
)

// dragState is one of idleState, draggingNode or connectingFrom
type dragState interface {
	kind() DragKind
}

type idleState struct{}

func (idleState) kind() DragKind { return DragIdle }

// draggingNode moves nodeID so that it keeps its offset from the pointer at
// the moment of the press.
type draggingNode struct {
	nodeID        valueobjects.NodeID
	originNode    valueobjects.Position
	originPointer canvas.Point
	moved         bool
}

func (draggingNode) kind() DragKind { return DragNode }

// connectingFrom is a provisional edge being dragged out of sourceID's
// output connector.
type connectingFrom struct {
	sourceID valueobjects.NodeID
	pointer  canvas.Point
}

func (connectingFrom) kind() DragKind { return DragConnecting }

// DragResult tells the caller what a pointer event did
type DragResult struct {
	// Changed is set when the graph was mutated and needs a redraw
	Changed bool
	// Redraw is set when only the gesture overlay changed
	Redraw bool
	// Save is set when the gesture committed state worth persisting
	Save bool
	// Connected is set when a pointer up added an edge
	Connected bool
}

// DragController turns pointer events into graph mutations. It is not safe
// for concurrent use; the session's event loop owns it.
type DragController struct {
	hits  canvas.HitTester
	state dragState
}

// NewDragController creates an idle controller
func NewDragController(hits canvas.HitTester) *DragController {
	return &DragController{hits: hits, state: idleState{}}
}

// Kind returns the active gesture
func (d *DragController) Kind() DragKind {
	return d.state.kind()
}

// PointerDown starts a gesture. It is ignored while another gesture is active.
// Pressing an output connector starts a connection and pressing a node body
// starts a move. Input connectors and empty canvas leave the controller idle.
func (d *DragController) PointerDown(g *aggregates.Graph, p canvas.Point) DragResult {
	if d.state.kind() != DragIdle {
		return DragResult{}
	}

	hit := d.hits.Classify(p, g.Snapshot())
	switch hit.Kind {
	case canvas.HitOutputConnector:
		d.state = connectingFrom{sourceID: hit.NodeID, pointer: p}
		return DragResult{Redraw: true}
	case canvas.HitNode:
		node, ok := g.Node(hit.NodeID)
		if !ok {
			return DragResult{}
		}
		d.state = draggingNode{
			nodeID:        hit.NodeID,
			originNode:    node.Position(),
			originPointer: p,
		}
		return DragResult{Redraw: true}
	default:
		return DragResult{}
	}
}

// PointerMove follows the pointer. A dragged node is moved on every event;
// a provisional connection only updates the pointer it is drawn to.
func (d *DragController) PointerMove(g *aggregates.Graph, p canvas.Point) DragResult {
	switch s := d.state.(type) {
	case draggingNode:
		x := s.originNode.X() + (p.X - s.originPointer.X)
		y := s.originNode.Y() + (p.Y - s.originPointer.Y)
		if !g.MoveNode(s.nodeID, x, y) {
			return DragResult{}
		}
		s.moved = true
		d.state = s
		return DragResult{Changed: true}
	case connectingFrom:
		s.pointer = p
		d.state = s
		return DragResult{Redraw: true}
	default:
		return DragResult{}
	}
}

// PointerUp ends the gesture. A node drag never creates a connection. A
// connection gesture connects the source to whatever node the pointer was
// released on, connectors included, unless that is the source itself.
func (d *DragController) PointerUp(g *aggregates.Graph, p canvas.Point) DragResult {
	switch s := d.state.(type) {
	case draggingNode:
		d.state = idleState{}
		return DragResult{Redraw: true, Save: true}
	case connectingFrom:
		d.state = idleState{}
		hit := d.hits.Classify(p, g.Snapshot())
		if !hit.OnNode() || hit.NodeID.Equals(s.sourceID) {
			return DragResult{Redraw: true}
		}
		if !g.Connect(s.sourceID, hit.NodeID) {
			return DragResult{Redraw: true}
		}
		return DragResult{Changed: true, Save: true, Connected: true}
	default:
		return DragResult{}
	}
}

// Cancel abandons the gesture without further mutation. Moves already
// applied stay applied and are reported for saving.
func (d *DragController) Cancel() DragResult {
	prev := d.state
	d.state = idleState{}
	switch s := prev.(type) {
	case draggingNode:
		return DragResult{Redraw: true, Save: s.moved}
	case connectingFrom:
		return DragResult{Redraw: true}
	default:
		return DragResult{}
	}
}

// Reset drops the gesture silently, for example after the graph was replaced
// by a remote change and the dragged node may no longer exist.
func (d *DragController) Reset() {
	d.state = idleState{}
}

// NodeID returns the node being dragged, if any
func (d *DragController) NodeID() (valueobjects.NodeID, bool) {
	if s, ok := d.state.(draggingNode); ok {
		return s.nodeID, true
	}
	return valueobjects.NodeID{}, false
}

// View returns the gesture state for rendering
func (d *DragController) View() ports.DragView {
	view := ports.DragView{State: string(d.state.kind())}
	switch s := d.state.(type) {
	case draggingNode:
		view.NodeID = s.nodeID.String()
	case connectingFrom:
		view.SourceID = s.sourceID.String()
		pointer := s.pointer
		view.Pointer = &pointer
	}
	return view
}
