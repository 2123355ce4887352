package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stone-miner/internal/auth"
	"github.com/stone-miner/internal/domain"
	"github.com/stone-miner/internal/service"
	"github.com/stone-miner/internal/websocket"
)

// Economy is the service surface exposed over HTTP
type Economy interface {
	websocket.Economy
	Register(ctx context.Context, playerID string, req service.RegisterRequest) (domain.StateView, bool, error)
	Profile(ctx context.Context, playerID string) (domain.StateView, error)
	BuyUpgrade(ctx context.Context, playerID, name string) (domain.StateView, error)
	Activate(ctx context.Context, playerID, name string) (domain.StateView, error)
	BuySkin(ctx context.Context, playerID, name string) (domain.StateView, error)
	CompleteTask(ctx context.Context, playerID, taskID string, declaredReward int64) (domain.StateView, error)
	ConvertAirdrop(ctx context.Context, playerID string, amount int64) (domain.StateView, error)
	Friends(ctx context.Context, playerID string) (domain.ReferralSummary, error)
}

// Handler provides HTTP handlers for the economy API
type Handler struct {
	economy  Economy
	hub      *websocket.Hub
	verifier *auth.Verifier
	checks   map[string]func(ctx context.Context) error
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(economy Economy, hub *websocket.Hub, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		economy:  economy,
		hub:      hub,
		verifier: verifier,
		checks:   make(map[string]func(ctx context.Context) error),
		logger:   logger,
	}
}

// AddReadinessCheck registers a dependency probe for /ready
func (h *Handler) AddReadinessCheck(name string, check func(ctx context.Context) error) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type tapRequest struct {
	Stones int64 `json:"stones"`
}

type skinRequest struct {
	Name string `json:"name"`
}

type taskRequest struct {
	Reward int64 `json:"reward"`
}

type airdropRequest struct {
	Amount int64 `json:"amount"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.verifier.Middleware(h.writeAuthError))

		r.Post("/session", h.Session)
		r.Get("/profile", h.GetProfile)
		r.Post("/tap", h.Tap)
		r.Post("/upgrades/{kind}", h.BuyUpgrade)
		r.Post("/consumables/{kind}", h.Activate)
		r.Post("/skins", h.BuySkin)
		r.Post("/tasks/{taskID}", h.CompleteTask)
		r.Post("/airdrop", h.ConvertAirdrop)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/referral/friends", h.GetFriends)
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	h.writeError(w, http.StatusUnauthorized, err)
}

// statusFor maps a service error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientResource):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrMaxTierReached):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err, hiding internals behind a generic 500
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, status, domain.ErrInternalError)
		return
	}
	h.writeError(w, status, err)
}

// decode reads an optional JSON body into v
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

func (h *Handler) playerID(r *http.Request) string {
	id, _ := auth.PlayerID(r.Context())
	return id
}

func (h *Handler) respond(w http.ResponseWriter, op string, view domain.StateView, err error) {
	if err != nil {
		h.writeServiceError(w, op, err)
		return
	}
	h.writeSuccess(w, view)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether every registered dependency answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "down"
			ready = false
			continue
		}
		status[name] = "up"
	}
	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, status)
}

// Session registers the player on first contact or refreshes their profile
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	view, created, err := h.economy.Register(r.Context(), h.playerID(r), req)
	if err != nil {
		h.writeServiceError(w, "session", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, APIResponse{Success: true, Data: view})
}

// GetProfile returns the player's state after accrual
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	view, err := h.economy.Profile(r.Context(), h.playerID(r))
	h.respond(w, "profile", view, err)
}

// Tap handles a manual tap batch
func (h *Handler) Tap(w http.ResponseWriter, r *http.Request) {
	var req tapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := h.economy.Tap(r.Context(), h.playerID(r), req.Stones)
	h.respond(w, "tap", view, err)
}

// BuyUpgrade purchases the next tier of a leveled upgrade
func (h *Handler) BuyUpgrade(w http.ResponseWriter, r *http.Request) {
	view, err := h.economy.BuyUpgrade(r.Context(), h.playerID(r), chi.URLParam(r, "kind"))
	h.respond(w, "upgrade", view, err)
}

// Activate uses a consumable
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	view, err := h.economy.Activate(r.Context(), h.playerID(r), chi.URLParam(r, "kind"))
	h.respond(w, "consumable", view, err)
}

// BuySkin purchases a cosmetic
func (h *Handler) BuySkin(w http.ResponseWriter, r *http.Request) {
	var req skinRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := h.economy.BuySkin(r.Context(), h.playerID(r), strings.TrimSpace(req.Name))
	h.respond(w, "skin", view, err)
}

// CompleteTask claims a task reward
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := h.economy.CompleteTask(r.Context(), h.playerID(r), chi.URLParam(r, "taskID"), req.Reward)
	h.respond(w, "task", view, err)
}

// ConvertAirdrop moves stones into airdrop progress
func (h *Handler) ConvertAirdrop(w http.ResponseWriter, r *http.Request) {
	var req airdropRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := h.economy.ConvertAirdrop(r.Context(), h.playerID(r), req.Amount)
	h.respond(w, "airdrop", view, err)
}

// GetLeaderboard returns the top players of a league
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.economy.Leaderboard(r.Context(), r.URL.Query().Get("league"))
	if err != nil {
		h.writeServiceError(w, "leaderboard", err)
		return
	}
	h.writeSuccess(w, board)
}

// GetFriends lists the player's invited friends and bonuses
func (h *Handler) GetFriends(w http.ResponseWriter, r *http.Request) {
	summary, err := h.economy.Friends(r.Context(), h.playerID(r))
	if err != nil {
		h.writeServiceError(w, "friends", err)
		return
	}
	h.writeSuccess(w, summary)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.economy, h.playerID(r), h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}
