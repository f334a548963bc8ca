package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func TestPriceCacheLastWriteWins(t *testing.T) {
	c := NewPriceCache()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.Apply(domain.PriceUpdate{Symbol: "BTCUSDT", Bid: 1, Ask: 2}, t0)
	c.Apply(domain.PriceUpdate{Symbol: "BTCUSDT", Bid: 3, Ask: 4}, t0.Add(time.Second))

	q, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 3.0, q.Bid)
	assert.Equal(t, 4.0, q.Ask)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestPriceCacheTimestampNeverDecreases(t *testing.T) {
	c := NewPriceCache()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.Apply(domain.PriceUpdate{Symbol: "ETHBTC", Bid: 1}, t0)
	q := c.Apply(domain.PriceUpdate{Symbol: "ETHBTC", Bid: 2}, t0.Add(-time.Minute))

	assert.Equal(t, t0, q.UpdatedAt)
	assert.Equal(t, 2.0, q.Bid)
}

func TestPriceCacheSnapshotSortedAndReset(t *testing.T) {
	c := NewPriceCache()
	now := time.Now()
	for _, s := range []string{"ETHUSDT", "BTCUSDT", "ETHBTC"} {
		c.Apply(domain.PriceUpdate{Symbol: s, Bid: 1, Ask: 1}, now)
	}

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)
	assert.Equal(t, "ETHBTC", snap[1].Symbol)
	assert.Equal(t, "ETHUSDT", snap[2].Symbol)

	c.Reset()
	assert.Equal(t, 0, c.Len())
}
