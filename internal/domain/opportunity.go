package domain

import (
	"fmt"
	"time"
)

// TradeAction is the side of a single triangle leg.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// Category classifies a detected opportunity.
type Category string

const (
	CategoryProfitable Category = "profitable"
	CategoryNearMiss   Category = "near-miss"
)

// Rank orders categories; profitable outranks near-miss.
func (c Category) Rank() int {
	switch c {
	case CategoryProfitable:
		return 2
	case CategoryNearMiss:
		return 1
	default:
		return 0
	}
}

// TradeStep is one executed leg of a triangle traversal.
type TradeStep struct {
	Pair     string      `json:"pair"`
	Action   TradeAction `json:"action"`
	Price    float64     `json:"price"`
	Quantity float64     `json:"quantity"`
}

// Opportunity is a single raw detection emitted by the detection engine.
// It is never mutated after creation.
type Opportunity struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	TriangleKey string       `json:"triangleKey"`
	CurrA       string       `json:"currA"`
	CurrB       string       `json:"currB"`
	CurrC       string       `json:"currC"`
	Direction   Direction    `json:"direction"`
	ProfitPct   float64      `json:"profitPct"`
	Category    Category     `json:"category"`
	Steps       [3]TradeStep `json:"steps"`
}

// Volume returns the summed price x quantity across the three steps.
func (o Opportunity) Volume() float64 {
	var v float64
	for _, s := range o.Steps {
		v += s.Price * s.Quantity
	}
	return v
}

// OpportunityID builds the unique id of a raw detection.
func OpportunityID(triangleKey string, dir Direction, ts time.Time, seq uint64) string {
	return fmt.Sprintf("%s-%s-%d-%d", triangleKey, dir, ts.UnixMilli(), seq)
}
