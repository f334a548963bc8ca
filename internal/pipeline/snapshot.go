package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// LiveGroups exposes the current aggregation state.
type LiveGroups interface {
	Groups(limit int) []domain.Group
}

// GroupSnapshotWriter persists a point-in-time copy of the live groups.
type GroupSnapshotWriter interface {
	SnapshotGroups(ctx context.Context, groups []domain.Group) (string, error)
}

// Snapshotter periodically copies the live group list to object storage so
// the dashboard state can be inspected after the fact.
type Snapshotter struct {
	source LiveGroups
	writer GroupSnapshotWriter
	logger *slog.Logger
}

// NewSnapshotter creates a new Snapshotter.
func NewSnapshotter(source LiveGroups, writer GroupSnapshotWriter, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		source: source,
		writer: writer,
		logger: logger.With(slog.String("component", "snapshotter")),
	}
}

// Run writes one snapshot. Empty state is skipped.
func (s *Snapshotter) Run(ctx context.Context) error {
	groups := s.source.Groups(0)
	if len(groups) == 0 {
		s.logger.Debug("no live groups, skipping snapshot")
		return nil
	}
	path, err := s.writer.SnapshotGroups(ctx, groups)
	if err != nil {
		return fmt.Errorf("snapshot live groups: %w", err)
	}
	s.logger.Info("live groups snapshot written",
		slog.String("path", path),
		slog.Int("groups", len(groups)),
	)
	return nil
}
