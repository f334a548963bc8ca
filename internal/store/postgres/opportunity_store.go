package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, detected_at, triangle_key, curr_a, curr_b, curr_c,
	direction, profit_pct, category, steps`

// InsertBatch stores raw detections. Ids already present are skipped.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO opportunities (
			id, detected_at, triangle_key, curr_a, curr_b, curr_c,
			direction, profit_pct, category, volume_usd, steps
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	for _, o := range opps {
		steps, err := json.Marshal(o.Steps)
		if err != nil {
			return fmt.Errorf("postgres: encode steps %s: %w", o.ID, err)
		}
		batch.Queue(query,
			o.ID, o.Timestamp, o.TriangleKey, o.CurrA, o.CurrB, o.CurrC,
			string(o.Direction), o.ProfitPct, string(o.Category), o.Volume(), steps,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns detections newest first along with the total matching count.
func (s *OpportunityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, int64, error) {
	where, args := whereRange("detected_at", opts.Since, opts.Until, nil)

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count opportunities: %w", err)
	}

	limitClause, args, _, _ := page(opts, args)
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities` + where +
		` ORDER BY detected_at DESC, id` + limitClause

	opps, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return opps, total, nil
}

// Summary aggregates detections with since <= detected_at < until.
func (s *OpportunityStore) Summary(ctx context.Context, since, until time.Time) (domain.OpportunitySummary, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE category = 'profitable'),
			COUNT(*) FILTER (WHERE category = 'near-miss'),
			COALESCE(AVG(profit_pct), 0),
			COALESCE(MAX(profit_pct), 0),
			COALESCE(SUM(volume_usd), 0),
			COUNT(DISTINCT triangle_key)
		FROM opportunities
		WHERE detected_at >= $1 AND detected_at < $2`

	var sum domain.OpportunitySummary
	err := s.pool.QueryRow(ctx, query, since, until).Scan(
		&sum.TotalOpportunities, &sum.ProfitableCount, &sum.NearMissCount,
		&sum.AvgProfitPct, &sum.MaxProfitPct, &sum.TotalVolumeUSD, &sum.UniqueTriangles,
	)
	if err != nil {
		return domain.OpportunitySummary{}, fmt.Errorf("postgres: opportunity summary: %w", err)
	}
	return sum, nil
}

// TopTriangles ranks triangles by detection count within the range.
func (s *OpportunityStore) TopTriangles(ctx context.Context, since, until time.Time, limit int) ([]domain.TriangleStat, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT triangle_key, COUNT(*), AVG(profit_pct), MAX(profit_pct),
			SUM(volume_usd), MAX(detected_at)
		FROM opportunities
		WHERE detected_at >= $1 AND detected_at < $2
		GROUP BY triangle_key
		ORDER BY COUNT(*) DESC, MAX(detected_at) DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top triangles: %w", err)
	}
	defer rows.Close()

	var stats []domain.TriangleStat
	for rows.Next() {
		var st domain.TriangleStat
		if err := rows.Scan(&st.TriangleKey, &st.Occurrences, &st.AvgProfitPct,
			&st.MaxProfitPct, &st.VolumeUSD, &st.LastSeen); err != nil {
			return nil, fmt.Errorf("postgres: scan triangle stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: top triangles rows: %w", err)
	}
	return stats, nil
}

// ListBefore returns up to limit detections older than before, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities
		WHERE detected_at < $1 ORDER BY detected_at ASC LIMIT $2`
	return s.query(ctx, query, before, limit)
}

// DeleteBefore removes detections older than before.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM opportunities WHERE detected_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *OpportunityStore) query(ctx context.Context, query string, args ...any) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var (
			o         domain.Opportunity
			direction string
			category  string
			steps     []byte
		)
		if err := rows.Scan(
			&o.ID, &o.Timestamp, &o.TriangleKey, &o.CurrA, &o.CurrB, &o.CurrC,
			&direction, &o.ProfitPct, &category, &steps,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		if err := json.Unmarshal(steps, &o.Steps); err != nil {
			return nil, fmt.Errorf("postgres: decode steps %s: %w", o.ID, err)
		}
		o.Direction = domain.Direction(direction)
		o.Category = domain.Category(category)
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return opps, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
