package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	defaultTriangleLimit = 50
	maxTriangleLimit     = 500
)

// rangeMeta is attached to every historical response.
type rangeMeta struct {
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	QueryTimeMs int64  `json:"queryTimeMs"`
}

// pageMeta extends rangeMeta for paginated responses.
type pageMeta struct {
	rangeMeta
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

// HistoryHandler serves persisted detections.
type HistoryHandler struct {
	opps   domain.OpportunityStore
	groups domain.GroupStore
	now    func() time.Time
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(opps domain.OpportunityStore, groups domain.GroupStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{opps: opps, groups: groups, now: time.Now, logger: logHandler(logger, "history")}
}

func newPageMeta(dr dateRange, start time.Time, opts domain.ListOpts, n int, total int64) pageMeta {
	return pageMeta{
		rangeMeta: rangeMeta{StartDate: dr.startDate, EndDate: dr.endDate, QueryTimeMs: time.Since(start).Milliseconds()},
		Total:     total,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
		HasMore:   int64(opts.Offset+n) < total,
	}
}

// Opportunities lists raw detections in a date range, newest first.
// GET /api/history/opportunities?startDate=&endDate=&limit=&offset=
func (h *HistoryHandler) Opportunities(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dr, err := parseDateRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)
	opts.Since, opts.Until = &dr.since, &dr.until

	rows, total, err := h.opps.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"meta": newPageMeta(dr, start, opts, len(rows), total),
	})
}

// Groups lists persisted groups by last activity.
// GET /api/history/groups?startDate=&endDate=&limit=&offset=
func (h *HistoryHandler) Groups(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dr, err := parseDateRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := parseListOpts(r)
	opts.Since, opts.Until = &dr.since, &dr.until

	rows, total, err := h.groups.ListRecent(r.Context(), opts)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": rows,
		"meta": newPageMeta(dr, start, opts, len(rows), total),
	})
}

// Summary aggregates detections in a date range.
// GET /api/history/summary?startDate=&endDate=
func (h *HistoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dr, err := parseDateRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.opps.Summary(r.Context(), dr.since, dr.until)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": rangeMeta{StartDate: dr.startDate, EndDate: dr.endDate, QueryTimeMs: time.Since(start).Milliseconds()},
	})
}

// Triangles ranks triangles by how often they produced detections.
// GET /api/history/triangles?startDate=&endDate=&limit=50
func (h *HistoryHandler) Triangles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dr, err := parseDateRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.opps.TopTriangles(r.Context(), dr.since, dr.until, parseLimit(r, defaultTriangleLimit, maxTriangleLimit))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": stats,
		"meta": rangeMeta{StartDate: dr.startDate, EndDate: dr.endDate, QueryTimeMs: time.Since(start).Milliseconds()},
	})
}
