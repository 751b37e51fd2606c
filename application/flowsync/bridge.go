// Package flowsync keeps a flow graph in step with its remote document.
//
// Conflict policy is last-writer-wins on the whole document. There is no
// field-level merge and no version check: a remote change that arrives while
// a local save is pending is overwritten by that save, and a local save that
// completes after a remote change was applied overwrites the remote change.
// This matches the single-editor assumption of the product.
package flowsync

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"flowbuilder/application/ports"
	"flowbuilder/domain/core/aggregates"
	pkgerrors "flowbuilder/pkg/errors"
	"flowbuilder/pkg/clock"

	"go.uber.org/zap"
)

// SaveState is the state of the debounced writer
type SaveState int

const (
	// StateIdle: nothing scheduled, nothing in flight
	StateIdle SaveState = iota
	// StateScheduled: a snapshot is staged and the debounce timer is armed
	StateScheduled
	// StateInFlight: one upsert is outstanding, nothing staged
	StateInFlight
	// StateInFlightWithPending: one upsert is outstanding and a newer
	// snapshot is staged to follow it
	StateInFlightWithPending
	// StateClosed: the bridge was torn down
	StateClosed
)

func (s SaveState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInFlight:
		return "in_flight"
	case StateInFlightWithPending:
		return "in_flight_with_pending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

// Options tunes a Bridge. Zero values take the defaults.
type Options struct {
	Debounce       time.Duration
	RequestTimeout time.Duration
	Filter         ports.EventFilter
	Clock          clock.Clock
	Logger         *zap.Logger

	// OnStatus is called after every completed upsert, successful or not. It
	// runs on the goroutine that performed the write.
	OnStatus func(Status)

	// OnInterrupt is called when a subscription stops delivering remote
	// changes (err is REMOTE_UNAVAILABLE) and when it resumes (err is nil).
	OnInterrupt func(err error)
}

// Status is a point-in-time view of the writer
type Status struct {
	State     SaveState
	LastError error
	Upserts   int
	Failures  int

	// SubscriptionError is set while remote changes are not being received
	SubscriptionError error
}

// Bridge is the debounced, last-writer-wins link between one flow graph and
// its remote document. It never mutates a graph: Save stages a copy, and
// remote changes are handed to the caller to apply.
type Bridge struct {
	key      string
	store    ports.RemoteStore
	clock    clock.Clock
	debounce time.Duration
	timeout  time.Duration
	filter   ports.EventFilter
	logger      *zap.Logger
	onStatus    func(Status)
	onInterrupt func(error)

	mu           sync.Mutex
	state        SaveState
	pending      *aggregates.GraphSnapshot
	timer        clock.Timer
	timerGen     uint64
	cancelFlight context.CancelFunc
	inFlightDoc  []byte
	echoSeen     bool
	lastWritten  []byte
	lastErr      error
	subErr       error
	upserts      int
	failures     int
	subs         []ports.Subscription
}

// NewBridge creates a bridge for the document stored under key
func NewBridge(key string, store ports.RemoteStore, opts Options) *Bridge {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Filter == "" {
		opts.Filter = ports.EventAll
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Bridge{
		key:      key,
		store:    store,
		clock:    opts.Clock,
		debounce: opts.Debounce,
		timeout:  opts.RequestTimeout,
		filter:   opts.Filter,
		logger:   opts.Logger.With(zap.String("flowID", key)),
		onStatus:    opts.OnStatus,
		onInterrupt: opts.OnInterrupt,
		state:       StateIdle,
	}
}

// Key returns the document key
func (b *Bridge) Key() string {
	return b.key
}

// Save stages a copy of snapshot and (re)arms the debounce timer. While an
// upsert is in flight the copy replaces any previously staged one, so at most
// one follow-up write is ever queued and it carries the freshest state.
func (b *Bridge) Save(snapshot aggregates.GraphSnapshot) {
	staged := snapshot.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return
	case StateIdle, StateScheduled:
		b.pending = &staged
		b.armLocked()
		b.state = StateScheduled
	case StateInFlight, StateInFlightWithPending:
		b.pending = &staged
		b.state = StateInFlightWithPending
	}
}

// armLocked restarts the debounce timer. The generation guards against a
// superseded timer whose callback was already running when Stop was called.
func (b *Bridge) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerGen++
	gen := b.timerGen
	b.timer = b.clock.AfterFunc(b.debounce, func() { b.flush(gen) })
}

// flush performs the staged upsert. It runs on the timer's goroutine, never
// on the caller of Save.
func (b *Bridge) flush(gen uint64) {
	b.mu.Lock()
	if b.state != StateScheduled || gen != b.timerGen || b.pending == nil {
		b.mu.Unlock()
		return
	}
	snapshot := *b.pending
	b.pending = nil
	b.timer = nil
	doc, err := Encode(snapshot)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	b.cancelFlight = cancel
	b.inFlightDoc = doc
	b.echoSeen = false
	b.state = StateInFlight
	b.mu.Unlock()

	if err == nil {
		err = b.store.UpsertDocument(ctx, b.key, doc)
	}
	cancel()

	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.cancelFlight = nil
	b.inFlightDoc = nil
	b.upserts++
	if err != nil {
		b.failures++
		b.lastErr = toRemoteError("upsert", err)
	} else {
		b.lastErr = nil
		b.lastWritten = doc
		if b.echoSeen {
			b.lastWritten = nil
		}
	}
	b.echoSeen = false
	if b.state == StateInFlightWithPending {
		b.armLocked()
		b.state = StateScheduled
	} else {
		b.state = StateIdle
	}
	status := b.statusLocked()
	b.mu.Unlock()

	if err != nil {
		// The graph keeps the edit; the next Save retries with fresher state.
		b.logger.Warn("Failed to save flow document",
			zap.Error(err),
			zap.Int("nodes", len(snapshot.Nodes)),
		)
	} else {
		b.logger.Debug("Saved flow document",
			zap.Int("nodes", len(snapshot.Nodes)),
			zap.Int("connections", len(snapshot.Connections)),
		)
	}
	if b.onStatus != nil {
		b.onStatus(status)
	}
}

// Load fetches the remote document once. A missing document loads as an
// empty snapshot, and so does a malformed one, so the editor always has
// something renderable. Transport failures return REMOTE_UNAVAILABLE.
func (b *Bridge) Load(ctx context.Context) (aggregates.GraphSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	doc, found, err := b.store.GetDocument(ctx, b.key)
	if err != nil {
		return aggregates.EmptySnapshot(), toRemoteError("load", err)
	}
	if !found {
		b.logger.Debug("No flow document yet, starting empty")
		return aggregates.EmptySnapshot(), nil
	}
	return b.decodeOrEmpty(doc), nil
}

// Subscribe registers onRemoteChange for pushed document updates. Each
// notification is decoded (malformed documents become empty snapshots) and
// passed on. The first notification that is exactly the document this bridge
// last wrote is dropped as the echo of that write; a later identical one is a
// real remote change and is delivered. The returned function unregisters and
// is idempotent.
func (b *Bridge) Subscribe(ctx context.Context, onRemoteChange func(aggregates.GraphSnapshot)) (func(), error) {
	sub, err := b.store.Subscribe(ctx, b.key, b.filter, func(doc []byte) {
		if b.isEcho(doc) {
			b.logger.Debug("Ignoring echo of own write")
			return
		}
		onRemoteChange(b.decodeOrEmpty(doc))
	})
	if err != nil {
		return func() {}, toRemoteError("subscribe", err)
	}

	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		_ = sub.Unsubscribe()
		return func() {}, nil
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if in, ok := sub.(ports.Interruptible); ok {
		in.OnInterrupt(b.subscriptionInterrupted)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.removeSub(sub)
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Warn("Failed to unsubscribe", zap.Error(err))
			}
		})
	}, nil
}

// Close tears the bridge down synchronously: the debounce timer is stopped,
// an in-flight request is cancelled, the staged snapshot is dropped, and all
// subscriptions are released. Later calls to Save are ignored.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancelFlight != nil {
		b.cancelFlight()
		b.cancelFlight = nil
	}
	b.pending = nil
	b.inFlightDoc = nil
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe on close", zap.Error(err))
		}
	}
}

// Status returns the writer state
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Bridge) statusLocked() Status {
	return Status{
		State:             b.state,
		LastError:         b.lastErr,
		Upserts:           b.upserts,
		Failures:          b.failures,
		SubscriptionError: b.subErr,
	}
}

func (b *Bridge) subscriptionInterrupted(err error) {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	if err != nil {
		err = toRemoteError("subscribe", err)
	}
	b.subErr = err
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("Remote changes interrupted", zap.Error(err))
	} else {
		b.logger.Info("Remote changes resumed")
	}
	if b.onInterrupt != nil {
		b.onInterrupt(err)
	}
}

func (b *Bridge) removeSub(sub ports.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// isEcho reports whether doc is the echo of this bridge's own write, either
// the one in flight (some stores notify before the write call returns) or the
// last completed one. Each write is echoed at most once: a match consumes it,
// and any other notification clears it, since the remote document has moved
// on. The comparison is in canonical form because stores such as Postgres
// jsonb do not preserve key order or whitespace.
func (b *Bridge) isEcho(doc []byte) bool {
	b.mu.Lock()
	expecting := b.lastWritten != nil || (b.inFlightDoc != nil && !b.echoSeen)
	b.mu.Unlock()
	if !expecting {
		return false
	}

	var canonical []byte
	if snapshot, err := Decode(b.key, doc); err == nil {
		canonical, _ = Encode(snapshot)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case canonical == nil:
	case b.inFlightDoc != nil && !b.echoSeen && bytes.Equal(canonical, b.inFlightDoc):
		b.echoSeen = true
		return true
	case b.lastWritten != nil && bytes.Equal(canonical, b.lastWritten):
		b.lastWritten = nil
		return true
	}
	b.lastWritten = nil
	return false
}

func (b *Bridge) decodeOrEmpty(doc []byte) aggregates.GraphSnapshot {
	snapshot, err := Decode(b.key, doc)
	if err != nil {
		b.logger.Warn("Remote flow document is malformed, using empty flow", zap.Error(err))
		return aggregates.EmptySnapshot()
	}
	return snapshot
}

func toRemoteError(operation string, err error) error {
	if pkgerrors.IsRemoteUnavailable(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.NewTimeoutError(operation)
	}
	return pkgerrors.NewRemoteUnavailableError(operation, err)
}
