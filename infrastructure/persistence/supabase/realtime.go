package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"flowbuilder/application/ports"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024

	// Rejoin backoff after a lost channel, doubling up to the max
	defaultRejoinMin = 1 * time.Second
	defaultRejoinMax = 30 * time.Second

	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventClose     = "phx_close"
	eventError     = "phx_error"
)

// message is a Phoenix channel frame
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type   string `json:"type"`
		Record struct {
			Flow json.RawMessage `json:"flow"`
		} `json:"record"`
	} `json:"data"`
}

// Realtime subscribes to row changes through the Supabase Realtime service.
// Every subscription holds its own websocket and rejoins on its own when the
// connection or the channel is lost.
type Realtime struct {
	url       string
	schema    string
	table     string
	heartbeat time.Duration
	rejoinMin time.Duration
	rejoinMax time.Duration
	dialer    *websocket.Dialer
	logger    *zap.Logger
}

// NewRealtime creates a Realtime client for table
func NewRealtime(url, schema, table string, heartbeat time.Duration, logger *zap.Logger) *Realtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{
		url:       url,
		schema:    schema,
		table:     table,
		heartbeat: heartbeat,
		rejoinMin: defaultRejoinMin,
		rejoinMax: defaultRejoinMax,
		dialer:    websocket.DefaultDialer,
		logger:    logger.Named("realtime"),
	}
}

// Topic returns the channel topic used for key
func (r *Realtime) Topic(key string) string {
	return fmt.Sprintf("realtime:%s:%s:%s", r.schema, r.table, key)
}

// Subscribe joins a channel filtered to key's row and calls handler with the
// row's flow column on every matching change. It returns once the server
// accepted the join. The returned subscription implements
// ports.Interruptible.
func (r *Realtime) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	life, cancel := context.WithCancel(context.Background())
	ch := &channel{
		rt:      r,
		topic:   r.Topic(key),
		join:    r.joinPayload(key, filter),
		filter:  filter,
		handler: handler,
		life:    life,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  r.logger.With(zap.String("flowID", key)),
	}

	conn, err := ch.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	ch.wg.Add(1)
	go ch.run(conn)

	ch.logger.Debug("Realtime channel joined", zap.String("topic", ch.topic))
	return ch, nil
}

func (r *Realtime) joinPayload(key string, filter ports.EventFilter) joinPayload {
	event := string(filter)
	if filter == "" {
		event = string(ports.EventAll)
	}
	var payload joinPayload
	payload.Config.PostgresChanges = []changeFilter{{
		Event:  event,
		Schema: r.schema,
		Table:  r.table,
		Filter: fmt.Sprintf("%s=eq.%s", DefaultKeyColumn, key),
	}}
	return payload
}

type channel struct {
	rt      *Realtime
	topic   string
	join    joinPayload
	filter  ports.EventFilter
	handler ports.ChangeHandler
	logger  *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn // current socket, guarded by writeMu
	ref     atomic.Int64

	stateMu     sync.Mutex
	interrupted error
	onInterrupt func(error)

	life      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var errChannelClosed = errors.New("realtime channel closed")

func (c *channel) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

func (c *channel) send(conn *websocket.Conn, topic, event string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := c.nextRef()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ref, conn.WriteJSON(message{Topic: topic, Event: event, Payload: raw, Ref: ref})
}

// connect dials a new socket, makes it current and joins the channel on it
func (c *channel) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.rt.dialer.DialContext(ctx, c.rt.url, nil)
	if err != nil {
		return nil, pkgerrors.NewRemoteUnavailableError("realtime dial", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.writeMu.Lock()
	select {
	case <-c.done:
		c.writeMu.Unlock()
		_ = conn.Close()
		return nil, errChannelClosed
	default:
	}
	c.conn = conn
	c.writeMu.Unlock()

	if err := c.joinOn(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// joinOn sends phx_join and waits for its reply
func (c *channel) joinOn(ctx context.Context, conn *websocket.Conn) error {
	ref, err := c.send(conn, c.topic, eventJoin, c.join)
	if err != nil {
		return pkgerrors.NewRemoteUnavailableError("realtime join", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return pkgerrors.NewRemoteUnavailableError("realtime join", err)
		}
		if msg.Event != eventReply || msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return pkgerrors.NewRemoteUnavailableError("realtime join", err)
		}
		if reply.Status != "ok" {
			return pkgerrors.NewRemoteUnavailableError("realtime join",
				fmt.Errorf("join rejected: %s", string(reply.Response)))
		}
		return conn.SetReadDeadline(time.Time{})
	}
}

// run serves one socket at a time. When a socket or the channel on it is
// lost, the subscription is reported interrupted and rejoined with backoff;
// it is reported healthy again once a join succeeds.
func (c *channel) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.serve(conn)
		if c.closed() {
			return
		}
		c.logger.Warn("Realtime channel lost, rejoining", zap.Error(err))
		c.setInterrupted(pkgerrors.NewRemoteUnavailableError("realtime subscription", err))

		if conn = c.rejoin(); conn == nil {
			return
		}
		c.logger.Info("Realtime channel rejoined", zap.String("topic", c.topic))
		c.setInterrupted(nil)
	}
}

// serve reads conn until it fails or the server closes the channel
func (c *channel) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	beating := make(chan struct{})
	go func() {
		defer close(beating)
		c.heartbeat(conn, stop)
	}()

	err := c.read(conn)
	close(stop)
	_ = conn.Close()
	<-beating
	return err
}

func (c *channel) read(conn *websocket.Conn) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Topic != c.topic {
			continue
		}

		switch msg.Event {
		case eventChanges:
			c.dispatch(msg.Payload)
		case eventClose, eventError:
			return fmt.Errorf("channel %s by server", msg.Event)
		}
	}
}

func (c *channel) rejoin() *websocket.Conn {
	backoff := c.rt.rejoinMin
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-c.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(c.life, writeWait)
		conn, err := c.connect(ctx)
		cancel()
		if err == nil {
			return conn
		}
		if c.closed() {
			return nil
		}
		c.logger.Debug("Realtime rejoin failed", zap.Error(err), zap.Duration("backoff", backoff))

		backoff *= 2
		if backoff > c.rt.rejoinMax {
			backoff = c.rt.rejoinMax
		}
	}
}

func (c *channel) dispatch(raw json.RawMessage) {
	var change changePayload
	if err := json.Unmarshal(raw, &change); err != nil {
		c.logger.Warn("Ignoring unreadable change payload", zap.Error(err))
		return
	}
	if !c.filter.Matches(ports.EventFilter(change.Data.Type)) {
		return
	}
	if isNull(change.Data.Record.Flow) {
		return
	}
	c.handler([]byte(change.Data.Record.Flow))
}

// heartbeat keeps conn alive; a failed heartbeat closes conn so serve returns
func (c *channel) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.rt.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := c.send(conn, "phoenix", eventHeartbeat, struct{}{}); err != nil {
				c.logger.Warn("Realtime heartbeat failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *channel) setInterrupted(err error) {
	c.stateMu.Lock()
	c.interrupted = err
	fn := c.onInterrupt
	c.stateMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// OnInterrupt registers fn to hear when delivery stops (err is
// REMOTE_UNAVAILABLE) and when it resumes after a rejoin (err is nil).
func (c *channel) OnInterrupt(fn func(err error)) {
	c.stateMu.Lock()
	c.onInterrupt = fn
	current := c.interrupted
	c.stateMu.Unlock()
	if fn != nil && current != nil {
		fn(current)
	}
}

// shutdown stops rejoining and closes the current socket; run exits after it
func (c *channel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
	})
}

// Unsubscribe leaves the channel and closes the connection. It waits for the
// channel's goroutines to exit.
func (c *channel) Unsubscribe() error {
	if !c.closed() {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn != nil {
			if _, err := c.send(conn, c.topic, eventLeave, struct{}{}); err != nil {
				c.logger.Debug("Failed to send leave", zap.Error(err))
			}
		}
	}
	c.shutdown()
	c.wg.Wait()
	return nil
}
