package arbitrage

import "github.com/alanyoungcy/triarb/internal/domain"

// MaxReasonableProfitPct is the sanity ceiling above which a computed profit
// is treated as a bad-tick artifact and dropped.
const MaxReasonableProfitPct = 10.0

// Classify buckets a profit percentage. ok is false when the result should be
// discarded.
func Classify(profitPct float64, cfg domain.DetectionConfig) (domain.Category, bool) {
	if profitPct > cfg.MinProfitPct && profitPct < MaxReasonableProfitPct {
		return domain.CategoryProfitable, true
	}
	if profitPct >= cfg.NearMissFloorPct && profitPct <= 0 {
		return domain.CategoryNearMiss, true
	}
	return "", false
}
