package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/metrics"
)

const (
	defaultFlushInterval = 2 * time.Second
	maxPendingRaw        = 5000
)

// Recorder buffers detections and group state and writes them to Postgres
// in batches. Only the latest state of each group is kept between flushes.
type Recorder struct {
	opps       domain.OpportunityStore
	groups     domain.GroupStore
	persistRaw bool
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	raw     []domain.Opportunity
	pending map[string]domain.Group
	dropped int64
}

// NewRecorder creates a Recorder. With persistRaw false only groups are
// stored.
func NewRecorder(opps domain.OpportunityStore, groups domain.GroupStore, persistRaw bool, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Recorder{
		opps:       opps,
		groups:     groups,
		persistRaw: persistRaw,
		interval:   interval,
		metrics:    m,
		logger:     logger.With(slog.String("component", "recorder")),
		pending:    make(map[string]domain.Group),
	}
}

// RecordOpportunity queues a raw detection. When the database falls behind
// and the queue is full the detection is dropped and counted.
func (r *Recorder) RecordOpportunity(o domain.Opportunity) {
	if !r.persistRaw {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.raw) >= maxPendingRaw {
		r.dropped++
		return
	}
	r.raw = append(r.raw, o)
}

// RecordGroup queues the latest state of a group.
func (r *Recorder) RecordGroup(g domain.Group) {
	r.mu.Lock()
	r.pending[g.ID] = g
	r.mu.Unlock()
}

// Run flushes on every interval until ctx is cancelled, then performs a
// final flush bounded by a short timeout.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := r.Flush(flushCtx)
			cancel()
			if err != nil {
				r.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes everything queued so far. On failure the batch is discarded;
// group state is rewritten by the next update of the group anyway.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	raw := r.raw
	r.raw = nil
	groups := make([]domain.Group, 0, len(r.pending))
	for _, g := range r.pending {
		groups = append(groups, g)
	}
	r.pending = make(map[string]domain.Group)
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if len(raw) == 0 && len(groups) == 0 {
		return nil
	}
	if dropped > 0 {
		r.logger.Warn("recorder queue overflowed", slog.Int64("dropped", dropped))
	}

	start := time.Now()
	err := r.write(ctx, raw, groups)
	r.metrics.RecorderFlush.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecorderErrors.Inc()
		return err
	}
	r.logger.Debug("history flushed",
		slog.Int("opportunities", len(raw)),
		slog.Int("groups", len(groups)),
	)
	return nil
}

func (r *Recorder) write(ctx context.Context, raw []domain.Opportunity, groups []domain.Group) error {
	if len(raw) > 0 {
		if err := r.opps.InsertBatch(ctx, raw); err != nil {
			return fmt.Errorf("service: record opportunities: %w", err)
		}
	}
	if len(groups) > 0 {
		if err := r.groups.UpsertBatch(ctx, groups); err != nil {
			return fmt.Errorf("service: record groups: %w", err)
		}
	}
	return nil
}
