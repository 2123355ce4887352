package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/metrics"
)

// Message types
const (
	MessageTypeState          = "state"
	MessageTypeTap            = "tap"
	MessageTypeGetLeaderboard = "get_leaderboard"
	MessageTypeLeaderboard    = "leaderboard"
	MessageTypeSuperseded     = "superseded"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks at most one live client per player identity
type Hub struct {
	// Connected clients by player ID
	clients map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Called after the current client of an identity goes away
	onDisconnect func(playerID string)

	mu     sync.RWMutex
	cfg    config.WebSocketConfig
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(cfg config.WebSocketConfig, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		onDisconnect: func(string) {},
		cfg:          cfg,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// OnDisconnect sets the callback run when an identity's live client leaves.
// It must be set before Run.
func (h *Hub) OnDisconnect(fn func(playerID string)) {
	h.onDisconnect = fn
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.playerID]; ok {
				// The newer connection wins; the old one is told and closed.
				h.sendLocked(old, MessageTypeSuperseded, nil)
				close(old.send)
				h.logger.Debug("client superseded", "player_id", client.playerID, "client_id", old.id)
			}
			h.clients[client.playerID] = client
			metrics.ConnectedClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
			close(client.registered)
			h.logger.Debug("client registered", "player_id", client.playerID, "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			current := h.clients[client.playerID] == client
			if current {
				delete(h.clients, client.playerID)
				close(client.send)
				metrics.ConnectedClients.Set(float64(len(h.clients)))
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "player_id", client.playerID, "client_id", client.id)
			if current {
				go h.onDisconnect(client.playerID)
			}
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	metrics.ConnectedClients.Set(0)
}

// Register adds a client to the hub and returns once it is reachable
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		return
	}
	select {
	case <-client.registered:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// EmitToIdentity queues an event for the player's live client. It never
// blocks: with no client the event is discarded, with a full queue it is
// dropped.
func (h *Hub) EmitToIdentity(playerID string, eventType string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[playerID]
	if !ok {
		return
	}
	h.sendLocked(client, eventType, payload)
}

// sendLocked requires h.mu to be held.
func (h *Hub) sendLocked(client *Client, eventType string, payload any) {
	data, err := json.Marshal(Message{Type: eventType, Data: payload, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		metrics.DroppedEventsTotal.Inc()
		h.logger.Warn("client buffer full, dropping event",
			"player_id", client.playerID, "client_id", client.id, "type", eventType)
	}
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
