// Package websocket pushes canvas frames to browsers watching a flow. The Hub
// implements ports.Renderer, so every redraw of a mounted flow reaches all of
// its viewers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"flowbuilder/application/ports"
	"flowbuilder/interfaces/http/rest/dto"

	"go.uber.org/zap"
)

// Message types sent to clients
const (
	MessageConnected = "CONNECTION_ESTABLISHED"
	MessageFrame     = "FRAME"
	MessagePing      = "PING"
)

// Message is the envelope of everything written to a client
type Message struct {
	FlowID    string          `json:"-"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// HubMetrics counts viewers. *observability.Collector satisfies it.
type HubMetrics interface {
	ClientConnected()
	ClientDisconnected()
}

type nopHubMetrics struct{}

func (nopHubMetrics) ClientConnected()    {}
func (nopHubMetrics) ClientDisconnected() {}

// Hub maintains viewer connections per flow and fans frames out to them
type Hub struct {
	connections map[string]map[*Client]bool // flowID -> set of clients
	mu          sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	healthInterval time.Duration
	metrics        HubMetrics
	logger         *zap.Logger
}

// NewHub creates a hub; call Run to start it
func NewHub(metrics HubMetrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = nopHubMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections:    make(map[string]map[*Client]bool),
		register:       make(chan *Client, 100),
		unregister:     make(chan *Client, 100),
		broadcast:      make(chan *Message, 1000),
		ctx:            ctx,
		cancel:         cancel,
		stopped:        make(chan struct{}),
		healthInterval: 30 * time.Second,
		metrics:        metrics,
		logger:         logger.Named("hub"),
	}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllConnections()
			h.logger.Info("Hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToFlow(message)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop shuts the hub down and closes every connection
func (h *Hub) Stop() {
	h.cancel()
	<-h.stopped
}

// Render queues frame for every viewer of its flow. It never blocks; when
// the queue is full the frame is dropped, since a newer one will follow.
func (h *Hub) Render(frame ports.Frame) {
	data, err := json.Marshal(dto.FromFrame(frame))
	if err != nil {
		h.logger.Error("Failed to marshal frame", zap.String("flowID", frame.FlowID), zap.Error(err))
		return
	}
	message := &Message{FlowID: frame.FlowID, Type: MessageFrame, Data: data, Timestamp: time.Now().Unix()}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast queue full, frame dropped", zap.String("flowID", frame.FlowID))
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[client.flowID] == nil {
		h.connections[client.flowID] = make(map[*Client]bool)
	}
	h.connections[client.flowID][client] = true
	h.metrics.ClientConnected()

	h.logger.Info("Client registered",
		zap.String("flowID", client.flowID),
		zap.String("connectionID", client.id),
		zap.Int("flowConnections", len(h.connections[client.flowID])),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.connections[client.flowID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.connections, client.flowID)
	}
	h.metrics.ClientDisconnected()

	h.logger.Info("Client unregistered",
		zap.String("flowID", client.flowID),
		zap.String("connectionID", client.id),
		zap.Int("remainingConnections", len(clients)),
	)
}

func (h *Hub) broadcastToFlow(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.connections[message.FlowID]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Closing slow client",
				zap.String("flowID", client.flowID),
				zap.String("connectionID", client.id),
			)
			go func(c *Client) {
				h.leave(c)
				_ = c.conn.Close()
			}(client)
		}
	}
}

func (h *Hub) ping() {
	data, _ := json.Marshal(Message{Type: MessagePing, Timestamp: time.Now().Unix()})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.connections {
		for client := range clients {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for flowID, clients := range h.connections {
		for client := range clients {
			close(client.send)
			_ = client.conn.Close()
			h.metrics.ClientDisconnected()
		}
		delete(h.connections, flowID)
	}
}

// ConnectionCount returns the number of viewers of flowID
func (h *Hub) ConnectionCount(flowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[flowID])
}
