package aggregator

import (
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Activity tells whether a triangle has produced opportunities recently.
type Activity string

const (
	ActivityActive Activity = "active"
	ActivityStale  Activity = "stale"
)

// EdgeHighlight is the projected display state of one pair.
type EdgeHighlight struct {
	Symbol      string          `json:"symbol"`
	Category    domain.Category `json:"category"`
	Activity    Activity        `json:"activity"`
	TriangleKey string          `json:"triangleKey"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Priority ranks highlight states: profitable+active 4, near-miss+active 3,
// profitable+stale 2, near-miss+stale 1.
func (h EdgeHighlight) Priority() int {
	p := h.Category.Rank()
	if h.Activity == ActivityActive {
		p += 2
	}
	return p
}

// TriangleIndex maps triangle key to triangle.
type TriangleIndex map[string]domain.Triangle

// IndexTriangles builds a key lookup over triangles.
func IndexTriangles(triangles []domain.Triangle) TriangleIndex {
	idx := make(TriangleIndex, len(triangles))
	for _, t := range triangles {
		idx[t.Key] = t
	}
	return idx
}

// ProjectHighlights derives per-pair highlight state from groups. Each
// triangle contributes its latest timestamp and best category across its
// groups; where triangles share a pair the higher priority state wins.
func ProjectHighlights(groups []domain.Group, triangles TriangleIndex, now time.Time, staleWindow time.Duration) map[string]EdgeHighlight {
	type summary struct {
		latest   time.Time
		category domain.Category
	}
	perTriangle := make(map[string]summary)
	for _, g := range groups {
		s := perTriangle[g.TriangleKey]
		if g.Timestamp.After(s.latest) {
			s.latest = g.Timestamp
		}
		if g.Category.Rank() > s.category.Rank() {
			s.category = g.Category
		}
		perTriangle[g.TriangleKey] = s
	}

	edges := make(map[string]EdgeHighlight)
	for key, s := range perTriangle {
		t, ok := triangles[key]
		if !ok {
			continue
		}
		activity := ActivityStale
		if now.Sub(s.latest) <= staleWindow {
			activity = ActivityActive
		}
		for _, symbol := range t.Pairs {
			next := EdgeHighlight{
				Symbol:      symbol,
				Category:    s.category,
				Activity:    activity,
				TriangleKey: key,
				Timestamp:   s.latest,
			}
			if cur, ok := edges[symbol]; ok && cur.Priority() >= next.Priority() {
				continue
			}
			edges[symbol] = next
		}
	}
	return edges
}
