package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/stone-miner/internal/domain"
	"github.com/stone-miner/internal/service"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Upper bound for handling one inbound message
	handleTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Economy is the part of the economy service the live channel drives
type Economy interface {
	Connect(ctx context.Context, playerID string) (domain.StateView, error)
	Tap(ctx context.Context, playerID string, stonesEarned int64) (domain.StateView, error)
	Leaderboard(ctx context.Context, league string) (service.LeagueBoard, error)
}

// Client represents one player's WebSocket connection
type Client struct {
	id         string
	playerID   string
	hub        *Hub
	economy    Economy
	conn       *websocket.Conn
	send       chan []byte
	registered chan struct{}
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type   string `json:"type"`
	Stones int64  `json:"stones,omitempty"`
	League string `json:"league,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, economy Economy, conn *websocket.Conn, playerID string, logger *slog.Logger) *Client {
	cfg := hub.cfg
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	id := uuid.New().String()
	return &Client{
		id:         id,
		playerID:   playerID,
		hub:        hub,
		economy:    economy,
		conn:       conn,
		send:       make(chan []byte, buffer),
		registered: make(chan struct{}),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With("client_id", id, "player_id", playerID),
	}
}

// readPump pumps messages from the WebSocket connection to the economy
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.sendError(domain.ErrRateLimited.Error())
			continue
		}

		// Parse client message
		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch msg.Type {
	case MessageTypeTap:
		// Success is pushed back as a state event by the service.
		if _, err := c.economy.Tap(ctx, c.playerID, msg.Stones); err != nil {
			c.sendError(publicError(err))
		}

	case MessageTypeGetLeaderboard:
		board, err := c.economy.Leaderboard(ctx, msg.League)
		if err != nil {
			c.sendError(publicError(err))
			return
		}
		c.sendMessage(MessageTypeLeaderboard, board)

	case MessageTypePing:
		c.sendMessage(MessageTypePong, nil)

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.sendError("unknown message type")
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage routes a reply through the hub so it never races the close
// of the send queue.
func (c *Client) sendMessage(msgType string, data any) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c.playerID] != c {
		return
	}
	c.hub.sendLocked(c, msgType, data)
}

// sendError sends an error message to the client
func (c *Client) sendError(errMsg string) {
	c.sendMessage(MessageTypeError, map[string]string{"error": errMsg})
}

// publicError hides internal failures from the peer
func publicError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInternalError):
		return domain.ErrInternalError.Error()
	case domain.IsRejection(err), domain.IsNotFoundError(err):
		return err.Error()
	}
	return domain.ErrInternalError.Error()
}

// ServeWs upgrades an authenticated request and attaches it to the hub
func ServeWs(hub *Hub, economy Economy, playerID string, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, economy, conn, playerID, logger)
	hub.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
	defer cancel()
	view, err := economy.Connect(ctx, playerID)
	if err != nil {
		client.logger.Warn("failed to load state on connect", "error", err)
		client.sendError(publicError(err))
		return
	}
	client.sendMessage(MessageTypeState, view)

	client.logger.Debug("new websocket connection")
}
