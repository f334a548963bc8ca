package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunitySummary aggregates raw detections over a time range.
type OpportunitySummary struct {
	TotalOpportunities int64   `json:"totalOpportunities"`
	ProfitableCount    int64   `json:"profitableCount"`
	NearMissCount      int64   `json:"nearMissCount"`
	AvgProfitPct       float64 `json:"avgProfitPct"`
	MaxProfitPct       float64 `json:"maxProfitPct"`
	TotalVolumeUSD     float64 `json:"totalVolumeUsd"`
	UniqueTriangles    int64   `json:"uniqueTriangles"`
}

// TriangleStat ranks a triangle by how often it produced opportunities.
type TriangleStat struct {
	TriangleKey  string    `json:"triangleKey"`
	Occurrences  int64     `json:"occurrences"`
	AvgProfitPct float64   `json:"avgProfitPct"`
	MaxProfitPct float64   `json:"maxProfitPct"`
	VolumeUSD    float64   `json:"volumeUsd"`
	LastSeen     time.Time `json:"lastSeen"`
}

// OpportunityStore persists raw detections for historical queries.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []Opportunity) error
	List(ctx context.Context, opts ListOpts) ([]Opportunity, int64, error)
	Summary(ctx context.Context, since, until time.Time) (OpportunitySummary, error)
	TopTriangles(ctx context.Context, since, until time.Time, limit int) ([]TriangleStat, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// GroupStore persists aggregated groups as they evolve.
type GroupStore interface {
	UpsertBatch(ctx context.Context, groups []Group) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Group, int64, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Group, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
