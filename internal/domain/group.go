package domain

import "time"

// Group is the merged view of raw opportunities sharing a dedup key
// (triangle, direction, rounded profit) within the staleness window.
type Group struct {
	ID               string    `json:"id"`
	DedupKey         string    `json:"dedupKey"`
	TriangleKey      string    `json:"triangleKey"`
	CurrA            string    `json:"currA"`
	CurrB            string    `json:"currB"`
	CurrC            string    `json:"currC"`
	Direction        Direction `json:"direction"`
	RoundedProfitPct float64   `json:"roundedProfitPct"`
	AvgProfitPct     float64   `json:"avgProfitPct"`
	LastProfitPct    float64   `json:"lastProfitPct"`
	Category         Category  `json:"category"`
	VolumeUSD        float64   `json:"volumeUsd"`
	Count            int       `json:"count"`
	FirstSeen        time.Time `json:"firstSeen"`
	Timestamp        time.Time `json:"timestamp"`
	LatestID         string    `json:"latestId"`
}

// DetectionConfig parameterizes profit evaluation and classification.
type DetectionConfig struct {
	FeePct           float64 `json:"fee"`
	MinProfitPct     float64 `json:"minProfit"`
	NearMissFloorPct float64 `json:"nearMissFloor"`
	Notional         float64 `json:"notional"`
}

// DefaultDetectionConfig returns the stock detection parameters.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		FeePct:           0.1,
		MinProfitPct:     0.1,
		NearMissFloorPct: -0.5,
		Notional:         100,
	}
}

// FeeMultiplier is the fraction of an amount kept after one leg's fee.
func (c DetectionConfig) FeeMultiplier() float64 {
	return 1 - c.FeePct/100
}

// Validate rejects configurations the engine cannot evaluate with.
func (c DetectionConfig) Validate() error {
	switch {
	case c.Notional <= 0:
		return ErrInvalidConfig
	case c.FeePct < 0 || c.FeePct >= 100:
		return ErrInvalidConfig
	case c.NearMissFloorPct > 0:
		return ErrInvalidConfig
	}
	return nil
}
