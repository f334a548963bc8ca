package arbitrage

import (
	"sort"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// PriceCache holds the latest quote per pair symbol. It is owned by a single
// Engine and is not safe for concurrent use.
type PriceCache struct {
	quotes map[string]domain.Quote
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]domain.Quote)}
}

// Apply replaces the quote for u.Symbol. The stored timestamp never moves
// backwards for a symbol.
func (c *PriceCache) Apply(u domain.PriceUpdate, now time.Time) domain.Quote {
	if prev, ok := c.quotes[u.Symbol]; ok && now.Before(prev.UpdatedAt) {
		now = prev.UpdatedAt
	}
	q := domain.Quote{
		Symbol:    u.Symbol,
		Bid:       u.Bid,
		BidQty:    u.BidQty,
		Ask:       u.Ask,
		AskQty:    u.AskQty,
		UpdatedAt: now,
	}
	c.quotes[u.Symbol] = q
	return q
}

// Get returns the quote for symbol and whether one has been seen.
func (c *PriceCache) Get(symbol string) (domain.Quote, bool) {
	q, ok := c.quotes[symbol]
	return q, ok
}

// Len is the number of symbols with a quote.
func (c *PriceCache) Len() int {
	return len(c.quotes)
}

// Reset drops every quote.
func (c *PriceCache) Reset() {
	c.quotes = make(map[string]domain.Quote)
}

// Snapshot copies every quote, ordered by symbol.
func (c *PriceCache) Snapshot() []domain.Quote {
	out := make([]domain.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
