package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// GroupStore implements domain.GroupStore using PostgreSQL.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore backed by the given pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

const groupSelectCols = `id, dedup_key, triangle_key, curr_a, curr_b, curr_c, direction,
	rounded_profit_pct, avg_profit_pct, last_profit_pct, category,
	volume_usd, count, first_seen, last_seen, latest_id`

// UpsertBatch writes the latest state of each group.
func (s *GroupStore) UpsertBatch(ctx context.Context, groups []domain.Group) error {
	if len(groups) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO opportunity_groups (
			id, dedup_key, triangle_key, curr_a, curr_b, curr_c, direction,
			rounded_profit_pct, avg_profit_pct, last_profit_pct, category,
			volume_usd, count, first_seen, last_seen, latest_id, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			avg_profit_pct  = EXCLUDED.avg_profit_pct,
			last_profit_pct = EXCLUDED.last_profit_pct,
			category        = EXCLUDED.category,
			volume_usd      = EXCLUDED.volume_usd,
			count           = EXCLUDED.count,
			last_seen       = EXCLUDED.last_seen,
			latest_id       = EXCLUDED.latest_id,
			updated_at      = NOW()`

	for _, g := range groups {
		batch.Queue(query,
			g.ID, g.DedupKey, g.TriangleKey, g.CurrA, g.CurrB, g.CurrC, string(g.Direction),
			g.RoundedProfitPct, g.AvgProfitPct, g.LastProfitPct, string(g.Category),
			g.VolumeUSD, g.Count, g.FirstSeen, g.Timestamp, g.LatestID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range groups {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert group batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns groups by last_seen descending with the total count.
func (s *GroupStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Group, int64, error) {
	where, args := whereRange("last_seen", opts.Since, opts.Until, nil)

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunity_groups"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count groups: %w", err)
	}

	limitClause, args, _, _ := page(opts, args)
	query := `SELECT ` + groupSelectCols + ` FROM opportunity_groups` + where +
		` ORDER BY last_seen DESC, id` + limitClause

	groups, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// ListBefore returns up to limit groups last seen before the cutoff, oldest first.
func (s *GroupStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Group, error) {
	query := `SELECT ` + groupSelectCols + ` FROM opportunity_groups
		WHERE last_seen < $1 ORDER BY last_seen ASC LIMIT $2`
	return s.query(ctx, query, before, limit)
}

// DeleteBefore removes groups last seen before the cutoff.
func (s *GroupStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM opportunity_groups WHERE last_seen < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete groups before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *GroupStore) query(ctx context.Context, query string, args ...any) ([]domain.Group, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var (
			g         domain.Group
			direction string
			category  string
		)
		if err := rows.Scan(
			&g.ID, &g.DedupKey, &g.TriangleKey, &g.CurrA, &g.CurrB, &g.CurrC, &direction,
			&g.RoundedProfitPct, &g.AvgProfitPct, &g.LastProfitPct, &category,
			&g.VolumeUSD, &g.Count, &g.FirstSeen, &g.Timestamp, &g.LatestID,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		g.Direction = domain.Direction(direction)
		g.Category = domain.Category(category)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list groups rows: %w", err)
	}
	return groups, nil
}

var _ domain.GroupStore = (*GroupStore)(nil)
