package editor

import (
	"context"
	"sort"
	"sync"

	"flowbuilder/application/flowsync"
	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"go.uber.org/zap"
)

// Manager keeps one mounted session per flow. Sessions are opened on first
// use and stay mounted until closed.
type Manager struct {
	store  ports.RemoteStore
	opts   SessionOptions
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool
}

type managedSession struct {
	session *Session
	ready   chan struct{}
	err     error
}

// NewManager creates a manager whose sessions share store and opts. The
// renderer in opts receives frames for every flow; Frame.FlowID tells them
// apart.
func NewManager(store ports.RemoteStore, opts SessionOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*managedSession),
	}
}

// Open returns the mounted session for flowID, mounting it if needed.
// Concurrent callers for the same flow share one mount. The mount does not
// run on any caller's context, so a caller that gives up only stops its own
// wait; the mount is bounded by the request timeout instead.
func (m *Manager) Open(ctx context.Context, flowID string) (*Session, error) {
	if flowID == "" {
		return nil, pkgerrors.NewValidationError("flow id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, pkgerrors.NewInternalError("session manager is shut down")
	}
	ms, ok := m.sessions[flowID]
	if !ok {
		ms = &managedSession{
			session: NewSession(flowID, m.store, m.opts),
			ready:   make(chan struct{}),
		}
		m.sessions[flowID] = ms
		go m.mount(context.WithoutCancel(ctx), flowID, ms)
	}
	m.mu.Unlock()

	select {
	case <-ms.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ms.err != nil {
		return nil, ms.err
	}
	return ms.session, nil
}

func (m *Manager) mount(ctx context.Context, flowID string, ms *managedSession) {
	timeout := m.opts.Bridge.RequestTimeout
	if timeout <= 0 {
		timeout = flowsync.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ms.err = ms.session.Mount(ctx)
	if ms.err != nil {
		m.mu.Lock()
		if m.sessions[flowID] == ms {
			delete(m.sessions, flowID)
		}
		m.mu.Unlock()
		ms.session.Unmount()
		m.logger.Warn("Failed to mount flow", zap.String("flowID", flowID), zap.Error(ms.err))
	}
	close(ms.ready)
}

// Get returns the session for flowID if it is mounted
func (m *Manager) Get(flowID string) (*Session, bool) {
	m.mu.Lock()
	ms, ok := m.sessions[flowID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-ms.ready:
	default:
		return nil, false
	}
	if ms.err != nil {
		return nil, false
	}
	return ms.session, true
}

// Close unmounts the session for flowID. It reports whether one was mounted.
func (m *Manager) Close(flowID string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[flowID]
	if ok {
		delete(m.sessions, flowID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	<-ms.ready
	ms.session.Unmount()
	return ms.err == nil
}

// CloseAll unmounts every session and refuses further opens
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, ms := range all {
		<-ms.ready
		ms.session.Unmount()
	}
	m.logger.Info("All flow sessions closed", zap.Int("count", len(all)))
}

// FlowIDs lists the mounted flows in sorted order
func (m *Manager) FlowIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
