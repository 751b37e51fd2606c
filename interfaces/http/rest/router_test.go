package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowbuilder/application/editor"
	"flowbuilder/application/flowsync"
	"flowbuilder/infrastructure/persistence/memory"
	"flowbuilder/interfaces/http/rest"
	"flowbuilder/interfaces/http/rest/dto"
	"flowbuilder/interfaces/websocket"
	"flowbuilder/pkg/clock"
	pkgerrors "flowbuilder/pkg/errors"
	"flowbuilder/pkg/observability"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store     *memory.DocumentStore
	clock     *clock.Fake
	manager   *editor.Manager
	hub       *websocket.Hub
	collector *observability.Collector
	handler   http.Handler
}

type fixtureOption func(*rest.Options, *fakeVerifier)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store := memory.NewDocumentStore()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	hub := websocket.NewHub(nil, zap.NewNop())
	go hub.Run()

	manager := editor.NewManager(store, editor.SessionOptions{
		Bridge:   flowsync.Options{Clock: fake},
		Renderer: hub,
	})
	collector := observability.NewCollector("flowtest")

	options := rest.Options{RequestTimeout: 5 * time.Second}
	verifier := &fakeVerifier{tokens: map[string]string{"good-token": "user-42"}}
	for _, opt := range opts {
		opt(&options, verifier)
	}

	t.Cleanup(func() {
		manager.CloseAll()
		hub.Stop()
	})
	return &fixture{
		store:     store,
		clock:     fake,
		manager:   manager,
		hub:       hub,
		collector: collector,
		handler:   rest.NewRouter(manager, hub, verifier, collector, options, zap.NewNop()).Setup(),
	}
}

type fakeVerifier struct {
	tokens map[string]string
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	if userID, ok := v.tokens[token]; ok {
		return userID, nil
	}
	return "", pkgerrors.NewUnauthorizedError("invalid token")
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeFrame(t *testing.T, rec *httptest.ResponseRecorder) dto.Frame {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var frame dto.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	return frame
}

func (f *fixture) addNode(t *testing.T, x, y float64) dto.Node {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/flows/bot-1/nodes", map[string]float64{"x": x, "y": y})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var node dto.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
	return node
}

func (f *fixture) pointer(t *testing.T, kind string, x, y float64) dto.Frame {
	t.Helper()
	return decodeFrame(t, f.do(t, http.MethodPost, "/v1/flows/bot-1/pointer", map[string]interface{}{"type": kind, "x": x, "y": y}))
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","mountedFlows":0}`, rec.Body.String())
}

func TestRouter_GetFrameMountsEmptyFlow(t *testing.T) {
	f := newFixture(t)
	frame := decodeFrame(t, f.do(t, http.MethodGet, "/v1/flows/bot-1", nil))

	assert.Equal(t, "bot-1", frame.FlowID)
	assert.Empty(t, frame.Nodes)
	assert.Equal(t, "idle", frame.Drag.State)
	assert.Equal(t, 150.0, frame.Geometry.NodeWidth)
	assert.Equal(t, []string{"bot-1"}, f.manager.FlowIDs())
}

func TestRouter_PointerScenario(t *testing.T) {
	f := newFixture(t)
	n1 := f.addNode(t, 50, 50)
	n2 := f.addNode(t, 50, 50)
	assert.Equal(t, "New Node", n1.Text)

	// drag the top node 100 to the right
	f.pointer(t, "down", 100, 60)
	dragging := f.pointer(t, "move", 200, 60)
	assert.Equal(t, "dragging_node", dragging.Drag.State)
	f.pointer(t, "up", 200, 60)

	// n1's output connector onto n2, then n2's output connector onto n1
	connecting := f.pointer(t, "down", 190, 80)
	assert.Equal(t, "connecting", connecting.Drag.State)
	assert.Equal(t, n1.ID, connecting.Drag.SourceID)
	f.pointer(t, "up", 250, 60)
	f.pointer(t, "down", 290, 80)
	frame := f.pointer(t, "up", 60, 80)

	require.Len(t, frame.Nodes, 2)
	assert.Equal(t, 150.0, frame.Nodes[1].X)
	assert.Equal(t, []dto.Connection{
		{SourceID: n1.ID, TargetID: n2.ID},
		{SourceID: n2.ID, TargetID: n1.ID},
	}, frame.Connections)
	assert.Len(t, frame.Segments, 2)

	assert.Equal(t, 0, f.store.Upserts())
	f.clock.Advance(flowsync.DefaultDebounce)
	assert.Equal(t, 1, f.store.Upserts())
}

func TestRouter_ConnectAndRename(t *testing.T) {
	f := newFixture(t)
	n1 := f.addNode(t, 0, 0)
	n2 := f.addNode(t, 300, 0)

	rec := f.do(t, http.MethodPost, "/v1/flows/bot-1/connections", map[string]string{"sourceId": n1.ID, "targetId": n2.ID})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"added":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/flows/bot-1/connections", map[string]string{"sourceId": n1.ID, "targetId": n2.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"added":false}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/flows/bot-1/connections", map[string]string{"sourceId": n1.ID, "targetId": n1.ID})
	assert.JSONEq(t, `{"added":false}`, rec.Body.String())

	rec = f.do(t, http.MethodPatch, "/v1/flows/bot-1/nodes/"+n2.ID, map[string]string{"label": "Welcome!"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/flows/bot-1/nodes/missing", map[string]string{"label": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REFERENCE")

	frame := decodeFrame(t, f.do(t, http.MethodGet, "/v1/flows/bot-1", nil))
	assert.Equal(t, "Welcome!", frame.Nodes[1].Text)
}

func TestRouter_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		message string
	}{
		{"missing coordinate", http.MethodPost, "/v1/flows/bot-1/nodes", map[string]float64{"x": 1}, "y is required"},
		{"empty label", http.MethodPatch, "/v1/flows/bot-1/nodes/n1", map[string]string{"label": ""}, "label is required"},
		{"long label", http.MethodPatch, "/v1/flows/bot-1/nodes/n1", map[string]string{"label": strings.Repeat("a", 201)}, "label must be at most 200"},
		{"unknown pointer type", http.MethodPost, "/v1/flows/bot-1/pointer", map[string]interface{}{"type": "hover"}, "type must be one of"},
		{"missing target", http.MethodPost, "/v1/flows/bot-1/connections", map[string]string{"sourceId": "a"}, "targetId is required"},
		{"not json", http.MethodPost, "/v1/flows/bot-1/nodes", "{", "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.Contains(t, rec.Body.String(), "VALIDATION")
		})
	}
}

func TestRouter_CloseSession(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, 0, 0)

	rec := f.do(t, http.MethodDelete, "/v1/flows/bot-1/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.manager.FlowIDs())
	assert.Equal(t, 0, f.store.Upserts(), "a pending save is dropped on close")

	rec = f.do(t, http.MethodDelete, "/v1/flows/bot-1/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.manager = editor.NewManager(downStore{f.store}, editor.SessionOptions{})
	defer f.manager.CloseAll()
	f.handler = rest.NewRouter(f.manager, nil, nil, nil, rest.Options{}, zap.NewNop()).Setup()

	rec := f.do(t, http.MethodGet, "/v1/flows/bot-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retryable":true`)
}

type downStore struct {
	*memory.DocumentStore
}

func (downStore) GetDocument(context.Context, string) ([]byte, bool, error) {
	return nil, false, pkgerrors.NewRemoteUnavailableError("get document", errors.New("connection refused"))
}

func TestRouter_Authentication(t *testing.T) {
	f := newFixture(t, func(o *rest.Options, _ *fakeVerifier) { o.AuthRequired = true })

	rec := f.do(t, http.MethodGet, "/v1/flows/bot-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/flows/bot-1", nil, "Authorization", "Bearer bad-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/flows/bot-1", nil, "Authorization", "Bearer good-token")
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestRouter_MetricsByRoutePattern(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, 0, 0)
	f.addNode(t, 10, 10)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`flowtest_http_requests_total{method="POST",route="/v1/flows/{flowID}/nodes",status="201"} 2`)
}

func TestRouter_WatchStreamsFrames(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/flows/bot-1/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() websocket.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg websocket.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, websocket.MessageConnected, read().Type)
	initial := read()
	assert.Equal(t, websocket.MessageFrame, initial.Type)

	require.Eventually(t, func() bool { return f.hub.ConnectionCount("bot-1") == 1 }, 2*time.Second, 10*time.Millisecond)
	f.addNode(t, 20, 20)

	var frame dto.Frame
	for {
		msg := read()
		if msg.Type != websocket.MessageFrame {
			continue
		}
		require.NoError(t, json.Unmarshal(msg.Data, &frame))
		if len(frame.Nodes) == 1 {
			break
		}
	}
	assert.Equal(t, 20.0, frame.Nodes[0].X)
}
