package arbitrage

import (
	"github.com/alanyoungcy/triarb/internal/domain"
)

// QuoteSource is a point lookup of the latest quote for a symbol.
type QuoteSource interface {
	Get(symbol string) (domain.Quote, bool)
}

// Evaluation is the outcome of trading the notional once around a triangle.
type Evaluation struct {
	ProfitPct   float64
	FinalAmount float64
	Steps       [3]domain.TradeStep
}

// Evaluate trades cfg.Notional through the three legs of t in direction dir.
// It reports ok=false when any leg lacks a usable quote or its pair
// orientation cannot be resolved; that is a skip, not an error.
func Evaluate(t domain.Triangle, dir domain.Direction, quotes QuoteSource, pairs PairIndex, cfg domain.DetectionConfig) (Evaluation, bool) {
	var ev Evaluation
	fee := cfg.FeeMultiplier()
	amount := cfg.Notional

	for i, leg := range t.Legs(dir) {
		q, ok := quotes.Get(leg.Symbol)
		if !ok {
			return Evaluation{}, false
		}
		base, ok := resolveBase(pairs, leg)
		if !ok {
			return Evaluation{}, false
		}

		step := domain.TradeStep{Pair: leg.Symbol}
		if base == leg.To {
			// Spend quote to acquire base.
			if q.Ask <= 0 {
				return Evaluation{}, false
			}
			step.Action = domain.ActionBuy
			step.Price = q.Ask
			step.Quantity = amount / q.Ask
		} else {
			if q.Bid <= 0 {
				return Evaluation{}, false
			}
			step.Action = domain.ActionSell
			step.Price = q.Bid
			step.Quantity = amount * q.Bid
		}
		amount = step.Quantity * fee
		ev.Steps[i] = step
	}

	ev.FinalAmount = amount
	ev.ProfitPct = (amount - cfg.Notional) / cfg.Notional * 100
	return ev, true
}

// resolveBase finds the base asset of the leg's pair. Symbols missing from the
// index fall back to the exchange convention of BASE+QUOTE concatenation.
func resolveBase(pairs PairIndex, leg domain.Leg) (string, bool) {
	if p, ok := pairs[leg.Symbol]; ok {
		if (p.BaseAsset == leg.From && p.QuoteAsset == leg.To) || (p.BaseAsset == leg.To && p.QuoteAsset == leg.From) {
			return p.BaseAsset, true
		}
		return "", false
	}
	switch leg.Symbol {
	case leg.To + leg.From:
		return leg.To, true
	case leg.From + leg.To:
		return leg.From, true
	}
	return "", false
}
