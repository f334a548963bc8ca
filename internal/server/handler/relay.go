package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// StreamReader replays a durable stream. *redis.SignalBus satisfies it.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// RelayHandler serves what a detector running elsewhere left in Redis: the
// raw opportunity stream and the mirrored price map. It lets a server-mode
// process answer without an engine of its own.
type RelayHandler struct {
	stream StreamReader
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(stream StreamReader, quotes domain.QuoteCache, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{stream: stream, quotes: quotes, logger: logHandler(logger, "relay")}
}

type streamEntry struct {
	ID          string             `json:"id"`
	Opportunity domain.Opportunity `json:"opportunity"`
}

// Opportunities replays raw detections after the given stream id. Clients
// poll with the returned lastId to follow the stream.
// GET /api/stream/opportunities?after=0&limit=100
func (h *RelayHandler) Opportunities(w http.ResponseWriter, r *http.Request) {
	after := strings.TrimSpace(r.URL.Query().Get("after"))
	if after == "" {
		after = "0"
	}
	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamOpportunities, after, parseLimit(r, defaultListLimit, maxListLimit))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	lastID := after
	for _, m := range msgs {
		lastID = m.ID
		var o domain.Opportunity
		if err := json.Unmarshal(m.Payload, &o); err != nil {
			h.logger.Warn("skipping malformed stream entry", slog.String("id", m.ID), slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Opportunity: o})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"meta": map[string]any{"lastId": lastID, "count": len(entries)},
	})
}

// Prices returns the last price map the detector mirrored.
// GET /api/stream/prices
func (h *RelayHandler) Prices(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.quotes.GetQuotes(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": quotes, "count": len(quotes)})
}
