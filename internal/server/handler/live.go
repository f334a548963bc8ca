package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/triarb/internal/aggregator"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/service"
)

const (
	defaultGroupLimit = 200
	defaultRawLimit   = 100
	maxLiveLimit      = 1000
)

// LiveService defines the live detection state the handler reads and
// controls. *service.LiveService satisfies it.
type LiveService interface {
	Groups(limit int) []domain.Group
	Raw(limit int) []domain.Opportunity
	Routes() []aggregator.Route
	Highlights() []aggregator.EdgeHighlight
	Graph(activeOnly bool) aggregator.LiveGraph
	Stats() service.LiveStats
	PriceMap(ctx context.Context) ([]domain.Quote, error)
	Triangles() []domain.Triangle
	Coins() []domain.Coin
	Config() domain.DetectionConfig
	Reconfigure(cfg domain.DetectionConfig) error
	Clear()
	FeedStatus() (domain.FeedStatus, error)
	ReconnectFeed() error
}

// LiveHandler serves the in-memory detection state.
type LiveHandler struct {
	live   LiveService
	logger *slog.Logger
}

// NewLiveHandler creates a LiveHandler.
func NewLiveHandler(live LiveService, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{live: live, logger: logHandler(logger, "live")}
}

// Groups returns the most recent opportunity groups.
// GET /api/live/groups?limit=200
func (h *LiveHandler) Groups(w http.ResponseWriter, r *http.Request) {
	groups := h.live.Groups(parseLimit(r, defaultGroupLimit, maxLiveLimit))
	writeJSON(w, http.StatusOK, map[string]any{"data": groups, "count": len(groups)})
}

// Raw returns the most recent raw detections.
// GET /api/live/raw?limit=100
func (h *LiveHandler) Raw(w http.ResponseWriter, r *http.Request) {
	raw := h.live.Raw(parseLimit(r, defaultRawLimit, maxLiveLimit))
	writeJSON(w, http.StatusOK, map[string]any{"data": raw, "count": len(raw)})
}

// Routes returns groups merged per triangle traversal.
// GET /api/live/routes
func (h *LiveHandler) Routes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Routes()})
}

// Highlights returns the display state of every highlighted pair.
// GET /api/live/highlights
func (h *LiveHandler) Highlights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Highlights()})
}

// Graph returns the currency network weighted by live activity.
// GET /api/live/graph?active=true
func (h *LiveHandler) Graph(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Graph(activeOnly)})
}

// Stats returns the engine throughput and aggregation counters.
// GET /api/live/stats
func (h *LiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Stats()})
}

// Prices asks the engine for its price map and waits for the reply.
// GET /api/live/prices
func (h *LiveHandler) Prices(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.live.PriceMap(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": quotes, "count": len(quotes)})
}

// Triangles returns the triangle universe.
// GET /api/live/triangles
func (h *LiveHandler) Triangles(w http.ResponseWriter, r *http.Request) {
	tris := h.live.Triangles()
	writeJSON(w, http.StatusOK, map[string]any{"data": tris, "count": len(tris)})
}

// Coins returns the universe's assets by pair count.
// GET /api/live/coins
func (h *LiveHandler) Coins(w http.ResponseWriter, r *http.Request) {
	coins := h.live.Coins()
	writeJSON(w, http.StatusOK, map[string]any{"data": coins, "count": len(coins)})
}

// GetConfig returns the active detection parameters.
// GET /api/live/config
func (h *LiveHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Config()})
}

// UpdateConfig merges the request body over the active parameters and
// restarts detection with the result.
// PUT /api/live/config
func (h *LiveHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.live.Config()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.live.Reconfigure(cfg); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": h.live.Config()})
}

// Clear drops every live group and the raw feed.
// POST /api/live/clear
func (h *LiveHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.live.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// FeedStatus reports the market data connection.
// GET /api/feed/status
func (h *LiveHandler) FeedStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.live.FeedStatus()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": st})
}

// ReconnectFeed restarts the market data connection.
// POST /api/feed/reconnect
func (h *LiveHandler) ReconnectFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.live.ReconnectFeed(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}
