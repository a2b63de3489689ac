package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/sunspec-gateway/internal/sunspec"
	"go.uber.org/zap"
)

// Hub fans telemetry out to the live view clients. New clients get the
// most recent telemetry message right away.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	running    atomic.Bool

	mu     sync.RWMutex
	last   []byte
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)
	h.logger.Info("WebSocket Hub started")

	for {
		select {
		case client := <-h.register:
			h.attach(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.detach(client)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.detach(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return
		}
	}
}

func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	replay := h.last
	total := len(h.clients)
	h.mu.Unlock()

	if replay != nil {
		select {
		case client.send <- replay:
		default:
		}
	}
	h.logger.Info("WebSocket client registered",
		zap.String("client_id", client.id),
		zap.String("remote_addr", client.conn.RemoteAddr().String()),
		zap.Int("total_clients", total))
}

// detach closes the client's queue. Callers hold h.mu.
func (h *Hub) detach(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// fanOut encodes message once. Clients that cannot keep up are dropped.
func (h *Hub) fanOut(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if message.Type == MessageTypeTelemetry {
		h.last = data
	}
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.detach(client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("client_id", client.id))
		}
	}
}

// Stop ends Run and disconnects every client. It is a no-op when Run was
// never started.
func (h *Hub) Stop() {
	if !h.running.Load() {
		return
	}
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues the snapshot for broadcast.
func (h *Hub) Publish(_ context.Context, snap sunspec.Snapshot) error {
	h.Broadcast(NewTelemetryMessage(snap))
	return nil
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
