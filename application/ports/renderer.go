package ports

import (
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/aggregates"
)

// DragView is the read-only gesture state a renderer needs, for example to
// draw a provisional line while a connection is being dragged out.
type DragView struct {
	State    string        `json:"state"`
	NodeID   string        `json:"nodeId,omitempty"`
	SourceID string        `json:"sourceId,omitempty"`
	Pointer  *canvas.Point `json:"pointer,omitempty"`
}

// Frame is everything needed to draw the canvas once
type Frame struct {
	FlowID   string
	Snapshot aggregates.GraphSnapshot
	Drag     DragView
	Segments []canvas.Segment
	Geometry canvas.Geometry
	Sync     SyncStatus
}

// SyncStatus tells the renderer whether to show a retryable
// "changes not saved" banner.
type SyncStatus struct {
	State     string `json:"state"`
	LastError string `json:"lastError,omitempty"`
}

// Renderer draws frames. Render is called after every change to the graph or
// the gesture state and must not block.
type Renderer interface {
	Render(frame Frame)
}

// RendererFunc adapts a function to the Renderer interface
type RendererFunc func(frame Frame)

// Render calls f
func (f RendererFunc) Render(frame Frame) {
	f(frame)
}

// NopRenderer discards frames
type NopRenderer struct{}

// Render does nothing
func (NopRenderer) Render(Frame) {}
