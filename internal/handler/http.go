package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/service"
	"github.com/pokegambler-engine/internal/websocket"
)

// Handler provides HTTP handlers for the match engine API
type Handler struct {
	service *service.GameService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.GameService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Match operations
		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Get("/events", h.GetMatchEvents)
				r.Post("/join", h.JoinMatch)
				r.Post("/actions", h.SubmitAction)
				r.Post("/start", h.BeginMatch)
				r.Post("/cancel", h.CancelMatch)
			})
		})

		// Profile and ledger operations
		r.Route("/profiles/{playerID}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Get("/match", h.GetActiveMatch)
			r.Get("/transactions", h.GetTransactions)
		})

		// Solo currency operations
		r.Post("/exchange", h.Exchange)
		r.Post("/flip", h.Flip)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

// writeServiceError maps domain errors to HTTP statuses. Unknown errors
// are logged and masked as internal.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownGameType),
		errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAlreadyInMatch),
		errors.Is(err, domain.ErrMatchFull),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrBelowMinimumParticipants),
		errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateMatchRequest is the body for match creation
type CreateMatchRequest struct {
	PlayerID  string `json:"player_id"`
	GameType  string `json:"game_type"`
	LowerWins bool   `json:"lower_wins,omitempty"`
	Stake     int64  `json:"stake"`
}

// CreateMatch opens a new match with the caller as initiator
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.PlayerID == "" || req.GameType == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	view, err := h.service.CreateMatch(r.Context(), req.PlayerID, req.GameType, req.LowerWins, req.Stake)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    view,
	})
}

// GetMatch returns a live match snapshot
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if matchID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	view, err := h.service.GetMatch(r.Context(), matchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, view)
}

// GetMatchEvents returns the archived lifecycle events of a match
func (h *Handler) GetMatchEvents(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if matchID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	events, err := h.service.MatchEvents(r.Context(), matchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, events)
}

// JoinMatchRequest is the body for joining a match
type JoinMatchRequest struct {
	PlayerID string `json:"player_id"`
}

// JoinMatch seats a player in a forming match
func (h *Handler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req JoinMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if matchID == "" || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	view, err := h.service.JoinMatch(r.Context(), matchID, req.PlayerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, view)
}

// ActionRequest is the body for submitting a match action
type ActionRequest struct {
	PlayerID string `json:"player_id"`
	Type     string `json:"type"`
}

// SubmitAction routes a player action to a match
func (h *Handler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if matchID == "" || req.PlayerID == "" || req.Type == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	err := h.service.SubmitAction(r.Context(), matchID, req.PlayerID, domain.Action{Type: req.Type})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "accepted"})
}

// BeginMatchRequest is the body for starting a match early
type BeginMatchRequest struct {
	PlayerID string `json:"player_id"`
}

// BeginMatch closes formation early on behalf of the initiator
func (h *Handler) BeginMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req BeginMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if matchID == "" || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.BeginMatch(r.Context(), matchID, req.PlayerID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "started"})
}

// CancelMatchRequest is the body for cancelling a match
type CancelMatchRequest struct {
	PlayerID string `json:"player_id"`
}

// CancelMatch aborts a match on behalf of its initiator
func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req CancelMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if matchID == "" || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.CancelMatch(r.Context(), matchID, req.PlayerID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// GetProfile returns a player profile, creating it on first contact
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), playerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, profile)
}

// GetActiveMatch returns the match a player is currently seated in
func (h *Handler) GetActiveMatch(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	view, err := h.service.ActiveMatch(r.Context(), playerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, view)
}

// GetTransactions pages a player's ledger history
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var afterSeq int64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		if a, err := strconv.ParseInt(afterStr, 10, 64); err == nil && a >= 0 {
			afterSeq = a
		}
	}
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.Transactions(r.Context(), playerID, afterSeq, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, entries)
}

// ExchangeRequest is the body for cashing bonds in for chips
type ExchangeRequest struct {
	PlayerID string `json:"player_id"`
	Bonds    int64  `json:"bonds"`
}

// Exchange converts bonds to chips at the fixed rate
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	profile, err := h.service.Exchange(r.Context(), req.PlayerID, req.Bonds)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, profile)
}

// FlipRequest is the body for a coin flip against the house
type FlipRequest struct {
	PlayerID string `json:"player_id"`
	Stake    int64  `json:"stake"`
}

// Flip plays double-or-nothing against the house
func (h *Handler) Flip(w http.ResponseWriter, r *http.Request) {
	var req FlipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.Flip(r.Context(), req.PlayerID, req.Stake)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, result)
}
