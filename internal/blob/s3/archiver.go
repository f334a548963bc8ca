package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// maxArchiveRows caps one archive object. Older rows beyond the cap are
	// picked up by the next run.
	maxArchiveRows = 100_000

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// OpportunityArchiveStore is the subset of the opportunity store the
// archiver needs.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// GroupArchiveStore is the subset of the group store the archiver needs.
type GroupArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Group, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ObjectSizer reports the stored size of an uploaded object. *Reader
// satisfies it.
type ObjectSizer interface {
	Size(ctx context.Context, path string) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Each run serialises rows older
// than the cutoff to JSONL, uploads the file, checks the stored size matches
// and only then deletes the archived rows from Postgres.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	checker ObjectSizer
	opps    OpportunityArchiveStore
	groups  GroupArchiveStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	checker ObjectSizer,
	opps OpportunityArchiveStore,
	groups GroupArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		checker: checker,
		opps:    opps,
		groups:  groups,
		logger:  logger.With(slog.String("component", "s3_archiver")),
		now:     time.Now,
	}
}

// ArchiveOpportunities moves raw detections older than before to
// archive/opportunities/.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.opps.ListBefore(ctx, before, maxArchiveRows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	rows, cutoff := trimToCutoff(rows, before, maxArchiveRows, func(o domain.Opportunity) time.Time { return o.Timestamp })
	return archive(ctx, a, "opportunities", rows, cutoff, a.opps.DeleteBefore)
}

// ArchiveGroups moves groups last seen before the cutoff to archive/groups/.
func (a *ArchiveImpl) ArchiveGroups(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.groups.ListBefore(ctx, before, maxArchiveRows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive groups query: %w", err)
	}
	rows, cutoff := trimToCutoff(rows, before, maxArchiveRows, func(g domain.Group) time.Time { return g.Timestamp })
	return archive(ctx, a, "groups", rows, cutoff, a.groups.DeleteBefore)
}

// SnapshotGroups writes the current live groups to live/groups/<ts>.json.
func (a *ArchiveImpl) SnapshotGroups(ctx context.Context, groups []domain.Group) (string, error) {
	data, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}
	path := snapshotPath(a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}
	return path, nil
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, rows []T, cutoff time.Time, del func(context.Context, time.Time) (int64, error)) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, cutoff, a.now())
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	size, err := a.checker.Size(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if size != int64(len(buf)) {
		return 0, fmt.Errorf("s3blob: archive %s verify %s: stored %d of %d bytes", kind, path, size, len(buf))
	}

	deleted, err := del(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	count := int64(len(rows))
	a.logger.Info("archived history",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("rows", count),
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
	return count, nil
}

// trimToCutoff handles a capped, oldest-first result. When the cap was hit,
// rows sharing the last timestamp may continue past the cap, so they are
// dropped and the cutoff moves back to that timestamp. Every returned row is
// then strictly older than the returned cutoff and every row older than the
// cutoff is returned.
func trimToCutoff[T any](rows []T, before time.Time, limit int, ts func(T) time.Time) ([]T, time.Time) {
	if len(rows) < limit || len(rows) == 0 {
		return rows, before
	}
	last := ts(rows[len(rows)-1])
	n := len(rows)
	for n > 0 && !ts(rows[n-1]).Before(last) {
		n--
	}
	return rows[:n], last
}

// archivePath builds the object key for an archive file, partitioned by the
// cutoff day and made unique by the run time.
//
//	archive/opportunities/2025-01-31/20250201T030000Z.jsonl
func archivePath(kind string, cutoff, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, cutoff.UTC().Format("2006-01-02"), runAt.UTC().Format("20060102T150405Z"))
}

func snapshotPath(at time.Time) string {
	return fmt.Sprintf("live/groups/%s/%s.json",
		at.UTC().Format("2006-01-02"), at.UTC().Format("150405"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
