package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	dateLayout       = "2006-01-02"
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultRangeDays = 30
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinels onto HTTP status codes. Anything
// unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrEngineStopped), errors.Is(err, domain.ErrFeedDisconnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseLimit reads ?limit= clamped to [1, max]. Missing or malformed values
// yield def.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=100 (max 1000), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{
		Limit:  parseLimit(r, defaultListLimit, maxListLimit),
		Offset: offset,
	}
}

// dateRange is a parsed startDate/endDate pair. until is exclusive: the day
// after endDate.
type dateRange struct {
	startDate string
	endDate   string
	since     time.Time
	until     time.Time
}

// parseDateRange reads ?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD. A missing
// endDate is today (UTC) and a missing startDate is 30 days before endDate.
func parseDateRange(r *http.Request, now time.Time) (dateRange, error) {
	q := r.URL.Query()

	end := now.UTC().Truncate(24 * time.Hour)
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return dateRange{}, fmt.Errorf("invalid endDate %q", v)
		}
		end = t
	}
	start := end.AddDate(0, 0, -defaultRangeDays)
	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return dateRange{}, fmt.Errorf("invalid startDate %q", v)
		}
		start = t
	}
	if start.After(end) {
		return dateRange{}, fmt.Errorf("startDate %s is after endDate %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	return dateRange{
		startDate: start.Format(dateLayout),
		endDate:   end.Format(dateLayout),
		since:     start,
		until:     end.AddDate(0, 0, 1),
	}, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
