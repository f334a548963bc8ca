package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the background jobs (history archival and live
// snapshots) on cron schedules.
type Orchestrator struct {
	cron    *cron.Cron
	entries []string
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator with no jobs. Schedules are
// standard 5-field cron expressions evaluated in UTC.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// Schedule registers job under name. A run that is still in progress when
// the next trigger fires causes that trigger to be skipped.
func (o *Orchestrator) Schedule(ctx context.Context, name, spec string, job Job) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			o.logger.Error("scheduled job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.Debug("scheduled job done",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	}))
	if _, err := o.cron.AddJob(spec, wrapped); err != nil {
		return fmt.Errorf("pipeline: schedule %s %q: %w", name, spec, err)
	}
	o.entries = append(o.entries, name)
	return nil
}

// Next returns the next fire time of every scheduled job, in registration
// order.
func (o *Orchestrator) Next() []time.Time {
	entries := o.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting", slog.Any("jobs", o.entries))
	o.cron.Start()
	<-ctx.Done()
	<-o.cron.Stop().Done()
	o.logger.Info("pipeline orchestrator stopped")
	return nil
}
