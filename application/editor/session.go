package editor

import (
	"context"
	"sync"

	"flowbuilder/application/flowsync"
	"flowbuilder/application/ports"
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"
	pkgerrors "flowbuilder/pkg/errors"

	"go.uber.org/zap"
)

// Metrics receives session events. *observability.Collector satisfies it.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	NodeCreated()
	ConnectionCreated()
	RemoteChangeApplied()
	SaveCompleted(err error)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()       {}
func (nopMetrics) SessionClosed()       {}
func (nopMetrics) NodeCreated()         {}
func (nopMetrics) ConnectionCreated()   {}
func (nopMetrics) RemoteChangeApplied() {}
func (nopMetrics) SaveCompleted(error)  {}

// SessionOptions configures a Session
type SessionOptions struct {
	Geometry canvas.Geometry
	Bridge   flowsync.Options
	Renderer ports.Renderer
	Metrics  Metrics
	Logger   *zap.Logger
}

// Session is one mounted flow. Every read and write of the graph and the
// gesture state runs on the session's event loop, in the order the calls
// were made; callers block until their operation has run. Network calls
// never run on the loop.
type Session struct {
	flowID   string
	geometry canvas.Geometry
	graph    *aggregates.Graph
	drag     *DragController
	bridge   *flowsync.Bridge
	renderer ports.Renderer
	metrics  Metrics
	logger   *zap.Logger

	ops     chan func()
	remote  chan aggregates.GraphSnapshot
	status  chan flowsync.Status
	lost    chan error
	quit    chan struct{}
	stopped chan struct{}

	syncStatus ports.SyncStatus
	saveStatus flowsync.Status
	remoteErr  error

	mountOnce   sync.Once
	closeOnce   sync.Once
	mu          sync.Mutex
	mounted     bool
	unsubscribe func()
}

// NewSession creates a session for flowID backed by store. Call Mount before
// use and Unmount when done.
func NewSession(flowID string, store ports.RemoteStore, opts SessionOptions) *Session {
	if opts.Geometry == (canvas.Geometry{}) {
		opts.Geometry = canvas.DefaultGeometry()
	}
	if opts.Renderer == nil {
		opts.Renderer = ports.NopRenderer{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bridge.Logger == nil {
		opts.Bridge.Logger = opts.Logger
	}

	s := &Session{
		flowID:      flowID,
		geometry:    opts.Geometry,
		graph:       aggregates.NewGraph(),
		drag:        NewDragController(canvas.NewHitTester(opts.Geometry)),
		renderer:    opts.Renderer,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With(zap.String("flowID", flowID)),
		ops:         make(chan func()),
		remote:      make(chan aggregates.GraphSnapshot, 1),
		status:      make(chan flowsync.Status, 1),
		lost:        make(chan error, 1),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		syncStatus:  ports.SyncStatus{State: flowsync.StateIdle.String()},
		unsubscribe: func() {},
	}

	userStatus := opts.Bridge.OnStatus
	opts.Bridge.OnStatus = func(st flowsync.Status) {
		s.metrics.SaveCompleted(st.LastError)
		offerLatest(s.status, st)
		if userStatus != nil {
			userStatus(st)
		}
	}
	userInterrupt := opts.Bridge.OnInterrupt
	opts.Bridge.OnInterrupt = func(err error) {
		offerLatest(s.lost, err)
		if userInterrupt != nil {
			userInterrupt(err)
		}
	}
	s.bridge = flowsync.NewBridge(flowID, store, opts.Bridge)

	go s.loop()
	return s
}

// FlowID returns the key of the mounted flow
func (s *Session) FlowID() string {
	return s.flowID
}

// Mount hydrates the graph from the remote document and starts listening
// for remote changes. A failed load leaves the session unusable; the caller
// should Unmount it. Mount runs at most once.
func (s *Session) Mount(ctx context.Context) error {
	var err error
	s.mountOnce.Do(func() {
		err = s.mount(ctx)
	})
	return err
}

func (s *Session) mount(ctx context.Context) error {
	snapshot, err := s.bridge.Load(ctx)
	if err != nil {
		return err
	}

	if err := s.do(ctx, func() {
		s.graph.ReplaceAll(snapshot)
		s.render()
	}); err != nil {
		return err
	}

	unsubscribe, err := s.bridge.Subscribe(ctx, func(remote aggregates.GraphSnapshot) {
		offerLatest(s.remote, remote)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mounted = true
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.logger.Info("Flow mounted",
		zap.Int("nodes", len(snapshot.Nodes)),
		zap.Int("connections", len(snapshot.Connections)),
	)
	return nil
}

// Unmount tears the session down synchronously. The remote subscription is
// released, a pending save is abandoned, an in-flight save is cancelled, and
// the event loop has exited when Unmount returns.
func (s *Session) Unmount() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		unsubscribe, mounted := s.unsubscribe, s.mounted
		s.mu.Unlock()

		unsubscribe()
		s.bridge.Close()
		close(s.quit)
		<-s.stopped

		if mounted {
			s.metrics.SessionClosed()
		}
		s.logger.Info("Flow unmounted")
	})
}

// AddNode places a node at (x, y) with the default label
func (s *Session) AddNode(ctx context.Context, x, y float64) (entities.Node, error) {
	pos, err := valueobjects.NewPosition(x, y)
	if err != nil {
		return entities.Node{}, err
	}

	var node entities.Node
	err = s.do(ctx, func() {
		node = s.graph.AddNode(pos)
		s.metrics.NodeCreated()
		s.changed(true)
	})
	return node, err
}

// RenameNode sets a node's label. An unknown id is reported as an invalid
// reference and leaves the graph as it was.
func (s *Session) RenameNode(ctx context.Context, id valueobjects.NodeID, label string) error {
	var found bool
	err := s.do(ctx, func() {
		found = s.graph.Has(id)
		if s.graph.RenameNode(id, label) {
			s.changed(true)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.NewInvalidReferenceError(id.String())
	}
	return nil
}

// Connect adds the edge source -> target and reports whether it was added
func (s *Session) Connect(ctx context.Context, sourceID, targetID valueobjects.NodeID) (bool, error) {
	var added bool
	err := s.do(ctx, func() {
		added = s.graph.Connect(sourceID, targetID)
		if added {
			s.metrics.ConnectionCreated()
			s.changed(true)
		}
	})
	return added, err
}

// PointerDown forwards a press to the drag controller
func (s *Session) PointerDown(ctx context.Context, p canvas.Point) (DragResult, error) {
	return s.gesture(ctx, func() DragResult { return s.drag.PointerDown(s.graph, p) })
}

// PointerMove forwards pointer motion to the drag controller
func (s *Session) PointerMove(ctx context.Context, p canvas.Point) (DragResult, error) {
	return s.gesture(ctx, func() DragResult { return s.drag.PointerMove(s.graph, p) })
}

// PointerUp forwards a release to the drag controller
func (s *Session) PointerUp(ctx context.Context, p canvas.Point) (DragResult, error) {
	return s.gesture(ctx, func() DragResult { return s.drag.PointerUp(s.graph, p) })
}

// Cancel abandons the active gesture
func (s *Session) Cancel(ctx context.Context) (DragResult, error) {
	return s.gesture(ctx, s.drag.Cancel)
}

// Snapshot returns a copy of the graph
func (s *Session) Snapshot(ctx context.Context) (aggregates.GraphSnapshot, error) {
	var snapshot aggregates.GraphSnapshot
	err := s.do(ctx, func() {
		snapshot = s.graph.Snapshot()
	})
	return snapshot, err
}

// Frame returns what the renderer would be given now
func (s *Session) Frame(ctx context.Context) (ports.Frame, error) {
	var frame ports.Frame
	err := s.do(ctx, func() {
		frame = s.frame()
	})
	return frame, err
}

// SaveStatus returns the debounced writer's status
func (s *Session) SaveStatus() flowsync.Status {
	return s.bridge.Status()
}

func (s *Session) gesture(ctx context.Context, fn func() DragResult) (DragResult, error) {
	var res DragResult
	err := s.do(ctx, func() {
		res = fn()
		if res.Connected {
			s.metrics.ConnectionCreated()
		}
		switch {
		case res.Changed || res.Save:
			s.changed(res.Save)
		case res.Redraw:
			s.render()
		}
	})
	return res, err
}

// do runs fn on the event loop and waits for it
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case s.ops <- op:
	case <-s.quit:
		return errSessionClosed(s.flowID)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted the operation always runs; waiting for it keeps the
	// caller's view consistent with what was applied.
	<-done
	return nil
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op()
		case snapshot := <-s.remote:
			s.applyRemote(snapshot)
		case st := <-s.status:
			s.saveStatus = st
			s.refreshSync()
		case err := <-s.lost:
			s.remoteErr = err
			s.refreshSync()
		case <-s.quit:
			return
		}
	}
}

// applyRemote replaces the whole graph with a remote snapshot. A gesture on
// a node that no longer exists is dropped.
func (s *Session) applyRemote(snapshot aggregates.GraphSnapshot) {
	s.graph.ReplaceAll(snapshot)
	if id, dragging := s.drag.NodeID(); dragging && !s.graph.Has(id) {
		s.drag.Reset()
	}
	s.metrics.RemoteChangeApplied()
	s.logger.Debug("Applied remote flow change", zap.Int("nodes", s.graph.Len()))
	s.render()
}

// refreshSync derives the banner state from the last save and the health of
// the remote subscription. A failed save is reported ahead of a lost
// subscription.
func (s *Session) refreshSync() {
	s.syncStatus = ports.SyncStatus{State: s.saveStatus.State.String()}
	switch {
	case s.saveStatus.LastError != nil:
		s.syncStatus.LastError = s.saveStatus.LastError.Error()
	case s.remoteErr != nil:
		s.syncStatus.LastError = s.remoteErr.Error()
	}
	s.render()
}

// changed redraws after a mutation and, when asked, schedules a save
func (s *Session) changed(save bool) {
	if save {
		s.bridge.Save(s.graph.Snapshot())
	}
	s.render()
}

func (s *Session) render() {
	s.renderer.Render(s.frame())
}

func (s *Session) frame() ports.Frame {
	snapshot := s.graph.Snapshot()
	return ports.Frame{
		FlowID:   s.flowID,
		Snapshot: snapshot,
		Drag:     s.drag.View(),
		Segments: canvas.EdgeSegments(snapshot, s.geometry),
		Geometry: s.geometry,
		Sync:     s.syncStatus,
	}
}

// offerLatest puts v in a one-slot channel, replacing whatever is waiting
// there. Remote snapshots and save statuses are whole-state values, so only
// the newest matters.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func errSessionClosed(flowID string) error {
	return pkgerrors.NewNotFoundError("session for flow '" + flowID + "'")
}
