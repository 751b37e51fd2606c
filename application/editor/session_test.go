package editor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"flowbuilder/application/flowsync"
	"flowbuilder/application/ports"
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/aggregates"
	"flowbuilder/domain/core/entities"
	"flowbuilder/domain/core/valueobjects"
	"flowbuilder/infrastructure/persistence/memory"
	pkgerrors "flowbuilder/pkg/errors"
	"flowbuilder/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFlow = "bot-42"

type recordingRenderer struct {
	mu     sync.Mutex
	frames []ports.Frame
}

func (r *recordingRenderer) Render(frame ports.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *recordingRenderer) last() (ports.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return ports.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type sessionFixture struct {
	store    *memory.DocumentStore
	clock    *clock.Fake
	renderer *recordingRenderer
	session  *Session
}

func newSessionFixture(t *testing.T, store *memory.DocumentStore) *sessionFixture {
	t.Helper()
	if store == nil {
		store = memory.NewDocumentStore()
	}
	fake := clock.NewFake(time.Unix(1700000000, 0))
	renderer := &recordingRenderer{}
	session := NewSession(testFlow, store, SessionOptions{
		Bridge:   flowsync.Options{Clock: fake},
		Renderer: renderer,
	})
	t.Cleanup(session.Unmount)
	require.NoError(t, session.Mount(context.Background()))

	return &sessionFixture{store: store, clock: fake, renderer: renderer, session: session}
}

func storedSnapshot(t *testing.T, store *memory.DocumentStore) aggregates.GraphSnapshot {
	t.Helper()
	doc, found, err := store.GetDocument(context.Background(), testFlow)
	require.NoError(t, err)
	require.True(t, found)
	snap, err := flowsync.Decode(testFlow, doc)
	require.NoError(t, err)
	return snap
}

func TestSession_ScenarioIsPersisted(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, nil)
	s := f.session

	n1, err := s.AddNode(ctx, 50, 50)
	require.NoError(t, err)
	n2, err := s.AddNode(ctx, 50, 50)
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultLabel, n1.Label())

	_, err = s.PointerDown(ctx, canvas.Pt(100, 60))
	require.NoError(t, err)
	_, err = s.PointerMove(ctx, canvas.Pt(200, 60))
	require.NoError(t, err)
	_, err = s.PointerUp(ctx, canvas.Pt(200, 60))
	require.NoError(t, err)

	_, err = s.PointerDown(ctx, canvas.Pt(190, 80))
	require.NoError(t, err)
	res, err := s.PointerUp(ctx, canvas.Pt(250, 60))
	require.NoError(t, err)
	assert.True(t, res.Connected)

	added, err := s.Connect(ctx, n2.ID(), n1.ID())
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, 0, f.store.Upserts(), "saves are debounced")
	f.clock.Advance(flowsync.DefaultDebounce)
	assert.Equal(t, 1, f.store.Upserts())

	stored := storedSnapshot(t, f.store)
	require.Len(t, stored.Nodes, 2)
	n2Stored, ok := stored.Node(n2.ID())
	require.True(t, ok)
	assert.Equal(t, 150.0, n2Stored.Position().X())
	assert.Equal(t, []entities.Connection{
		entities.NewConnection(n1.ID(), n2.ID()),
		entities.NewConnection(n2.ID(), n1.ID()),
	}, stored.Connections)
}

func TestSession_MountHydratesFromStore(t *testing.T) {
	store := memory.NewDocumentStore()
	store.Put(testFlow, []byte(`{
		"nodes": [{"id": "a", "x": 1, "y": 2, "text": "Welcome"}, {"id": "b", "x": 300, "y": 2, "text": "Email?"}],
		"connections": [{"sourceId": "a", "targetId": "b"}, {"sourceId": "a", "targetId": "ghost"}]
	}`))
	f := newSessionFixture(t, store)

	snap, err := f.session.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, "Welcome", snap.Nodes[0].Label())
	assert.Len(t, snap.Connections, 1)

	frame, ok := f.renderer.last()
	require.True(t, ok)
	assert.Equal(t, testFlow, frame.FlowID)
	assert.Len(t, frame.Segments, 1)
}

func TestSession_MountFailsWhenStoreIsDown(t *testing.T) {
	store := memory.NewDocumentStore()
	session := NewSession(testFlow, failingGetStore{store}, SessionOptions{})
	defer session.Unmount()

	err := session.Mount(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRemoteUnavailable(err))
}

type failingGetStore struct {
	*memory.DocumentStore
}

func (failingGetStore) GetDocument(context.Context, string) ([]byte, bool, error) {
	return nil, false, context.DeadlineExceeded
}

func TestSession_AppliesRemoteChanges(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, nil)

	_, err := f.session.AddNode(ctx, 0, 0)
	require.NoError(t, err)

	remote := aggregates.GraphSnapshot{
		Nodes: []entities.Node{
			entities.ReconstructNode(valueobjects.MustNodeID("r1"), valueobjects.MustPosition(10, 10), "From phone"),
		},
		Connections: []entities.Connection{},
	}
	doc, err := flowsync.Encode(remote)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertDocument(ctx, testFlow, doc))

	require.Eventually(t, func() bool {
		snap, err := f.session.Snapshot(ctx)
		return err == nil && len(snap.Nodes) == 1 && snap.Nodes[0].Label() == "From phone"
	}, time.Second, 5*time.Millisecond)
}

func TestSession_TwoEditorsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	a := newSessionFixture(t, store)

	fake := clock.NewFake(time.Unix(0, 0))
	b := NewSession(testFlow, store, SessionOptions{Bridge: flowsync.Options{Clock: fake}})
	t.Cleanup(b.Unmount)
	require.NoError(t, b.Mount(ctx))

	_, err := a.session.AddNode(ctx, 0, 0)
	require.NoError(t, err)
	a.clock.Advance(flowsync.DefaultDebounce)

	require.Eventually(t, func() bool {
		snap, err := b.Snapshot(ctx)
		return err == nil && len(snap.Nodes) == 1
	}, time.Second, 5*time.Millisecond)

	// a's own write does not bounce back into a
	snap, err := a.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
}

func TestSession_UnmountMidDebounceCancelsSave(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, nil)

	_, err := f.session.AddNode(ctx, 10, 10)
	require.NoError(t, err)
	f.clock.Advance(100 * time.Millisecond)

	f.session.Unmount()
	f.clock.Advance(time.Second)

	assert.Equal(t, 0, f.store.Upserts())
	assert.Equal(t, 0, f.store.Subscribers(testFlow))

	_, err = f.session.AddNode(ctx, 20, 20)
	assert.Error(t, err)
}

func TestSession_RenameNode(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, nil)

	n, err := f.session.AddNode(ctx, 0, 0)
	require.NoError(t, err)

	require.NoError(t, f.session.RenameNode(ctx, n.ID(), "Greeting"))
	snap, err := f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", snap.Nodes[0].Label())
	assert.Equal(t, n.ID(), snap.Nodes[0].ID())
	assert.Equal(t, n.Position(), snap.Nodes[0].Position())

	err = f.session.RenameNode(ctx, valueobjects.MustNodeID("missing"), "x")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeInvalidReference))
}

func TestSession_AddNodeRejectsNonFinite(t *testing.T) {
	f := newSessionFixture(t, nil)
	_, err := f.session.AddNode(context.Background(), 0, math.Inf(1))
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSession_FrameShowsPendingConnection(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, nil)

	_, err := f.session.AddNode(ctx, 0, 0)
	require.NoError(t, err)
	before := f.renderer.count()

	_, err = f.session.PointerDown(ctx, canvas.Pt(145, 30))
	require.NoError(t, err)
	_, err = f.session.PointerMove(ctx, canvas.Pt(260, 90))
	require.NoError(t, err)
	assert.Equal(t, before+2, f.renderer.count())

	frame, err := f.session.Frame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "connecting", frame.Drag.State)
	require.NotNil(t, frame.Drag.Pointer)
	assert.Equal(t, canvas.Pt(260, 90), *frame.Drag.Pointer)
	assert.Equal(t, canvas.DefaultGeometry(), frame.Geometry)
}

func TestSession_SaveFailureIsReportedNotFatal(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{DocumentStore: memory.NewDocumentStore(), fail: true}
	fake := clock.NewFake(time.Unix(0, 0))
	renderer := &recordingRenderer{}
	s := NewSession(testFlow, store, SessionOptions{
		Bridge:   flowsync.Options{Clock: fake},
		Renderer: renderer,
	})
	t.Cleanup(s.Unmount)
	require.NoError(t, s.Mount(ctx))

	_, err := s.AddNode(ctx, 0, 0)
	require.NoError(t, err)
	fake.Advance(flowsync.DefaultDebounce)

	require.Eventually(t, func() bool {
		frame, ok := renderer.last()
		return ok && frame.Sync.LastError != ""
	}, time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1, "local edit survives a failed save")

	store.setFail(false)
	_, err = s.AddNode(ctx, 200, 0)
	require.NoError(t, err)
	fake.Advance(flowsync.DefaultDebounce)
	assert.Equal(t, 1, store.Upserts())
}

type flakyStore struct {
	*memory.DocumentStore
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) UpsertDocument(ctx context.Context, key string, doc []byte) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return pkgerrors.NewRemoteUnavailableError("upsert", context.DeadlineExceeded)
	}
	return s.DocumentStore.UpsertDocument(ctx, key, doc)
}

type droppingStore struct {
	*memory.DocumentStore
	mu sync.Mutex
	fn func(error)
}

func (s *droppingStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	inner, err := s.DocumentStore.Subscribe(ctx, key, filter, handler)
	if err != nil {
		return nil, err
	}
	return &droppingSubscription{Subscription: inner, store: s}, nil
}

type droppingSubscription struct {
	ports.Subscription
	store *droppingStore
}

func (d *droppingSubscription) OnInterrupt(fn func(error)) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	d.store.fn = fn
}

func (s *droppingStore) interrupt(err error) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(err)
}

func TestSession_LostSubscriptionIsShownUntilRecovered(t *testing.T) {
	store := &droppingStore{DocumentStore: memory.NewDocumentStore()}
	renderer := &recordingRenderer{}
	s := NewSession(testFlow, store, SessionOptions{
		Bridge:   flowsync.Options{Clock: clock.NewFake(time.Unix(0, 0))},
		Renderer: renderer,
	})
	t.Cleanup(s.Unmount)
	require.NoError(t, s.Mount(context.Background()))

	store.interrupt(pkgerrors.NewRemoteUnavailableError("realtime subscription", context.Canceled))
	require.Eventually(t, func() bool {
		frame, ok := renderer.last()
		return ok && frame.Sync.LastError != ""
	}, time.Second, 5*time.Millisecond)
	frame, _ := renderer.last()
	assert.Contains(t, frame.Sync.LastError, "realtime subscription")

	store.interrupt(nil)
	require.Eventually(t, func() bool {
		frame, ok := renderer.last()
		return ok && frame.Sync.LastError == ""
	}, time.Second, 5*time.Millisecond)
}
