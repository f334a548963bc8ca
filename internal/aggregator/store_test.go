package aggregator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func opp(id, key string, dir domain.Direction, profit float64, ts time.Time, price, qty float64) domain.Opportunity {
	cat := domain.CategoryNearMiss
	if profit > 0 {
		cat = domain.CategoryProfitable
	}
	step := domain.TradeStep{Pair: "X", Action: domain.ActionBuy, Price: price, Quantity: qty}
	return domain.Opportunity{
		ID:          id,
		Timestamp:   ts,
		TriangleKey: key,
		CurrA:       "BTC",
		CurrB:       "ETH",
		CurrC:       "USDT",
		Direction:   dir,
		ProfitPct:   profit,
		Category:    cat,
		Steps:       [3]domain.TradeStep{step, step, step},
	}
}

func TestStoreMergeIdempotence(t *testing.T) {
	s := NewStore(Options{})
	const n = 25
	var wantVolume float64
	for i := 0; i < n; i++ {
		o := opp(fmt.Sprintf("o%d", i), "BTC-ETH-USDT", domain.DirectionForward, 0.301+float64(i%3)*0.001, t0.Add(time.Duration(i)*time.Second), 2, float64(i+1))
		wantVolume += o.Volume()
		res := s.Add(o)
		assert.Equal(t, i == 0, res.Created)
	}

	require.Equal(t, 1, s.Len())
	g := s.Groups(0)[0]
	assert.Equal(t, n, g.Count)
	assert.InDelta(t, wantVolume, g.VolumeUSD, 1e-9)
	assert.Equal(t, "o0", g.ID)
	assert.Equal(t, "o24", g.LatestID)
	assert.Equal(t, t0.Add(24*time.Second), g.Timestamp)
	assert.Equal(t, t0, g.FirstSeen)
	assert.Equal(t, "BTC-ETH-USDT:forward:0.30", g.DedupKey)
	assert.Equal(t, 0.3, g.RoundedProfitPct)
}

func TestStoreStalenessSplit(t *testing.T) {
	s := NewStore(Options{StaleWindow: 5 * time.Minute})

	first := s.Add(opp("a", "BTC-ETH-USDT", domain.DirectionForward, 0.2, t0, 1, 1))
	second := s.Add(opp("b", "BTC-ETH-USDT", domain.DirectionForward, 0.2, t0.Add(5*time.Minute+time.Millisecond), 1, 1))

	assert.True(t, first.Created)
	assert.True(t, second.Created)
	assert.Equal(t, "a", second.Superseded)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.ActiveCount())

	active, ok := s.ActiveFor(second.Group.DedupKey)
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)

	old, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, old.Count)
}

func TestStoreMergesAtExactStaleBoundary(t *testing.T) {
	s := NewStore(Options{StaleWindow: time.Minute})

	s.Add(opp("a", "K", domain.DirectionForward, 0.2, t0, 1, 1))
	res := s.Add(opp("b", "K", domain.DirectionForward, 0.2, t0.Add(time.Minute), 1, 1))

	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Group.Count)
}

func TestStoreKeySeparatesDirectionAndProfit(t *testing.T) {
	s := NewStore(Options{})

	s.Add(opp("a", "K", domain.DirectionForward, 0.2, t0, 1, 1))
	s.Add(opp("b", "K", domain.DirectionReverse, 0.2, t0, 1, 1))
	s.Add(opp("c", "K", domain.DirectionForward, 0.25, t0, 1, 1))
	s.Add(opp("d", "K", domain.DirectionForward, 0.204, t0, 1, 1))

	assert.Equal(t, 3, s.Len())
	g, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, g.Count)
}

func TestRoundProfitHalvesRoundUp(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.125, "0.13"},
		{-0.125, "-0.12"},
		{-0.005, "0.00"},
		{-0.006, "-0.01"},
		{0.3, "0.30"},
		{1.2349, "1.23"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundProfit(tc.in).StringFixed(ProfitPrecision), "round %v", tc.in)
	}

	s := NewStore(Options{})
	s.Add(opp("a", "K", domain.DirectionForward, -0.125, t0, 1, 1))
	res := s.Add(opp("b", "K", domain.DirectionForward, -0.121, t0.Add(time.Second), 1, 1))
	assert.False(t, res.Created)
	assert.Equal(t, -0.12, res.Group.RoundedProfitPct)
}

func TestStoreCapacityBound(t *testing.T) {
	s := NewStore(Options{Capacity: 1000})
	const total = 1500
	var evicted int
	for i := 0; i < total; i++ {
		o := opp(fmt.Sprintf("o%d", i), fmt.Sprintf("T%d", i), domain.DirectionForward, 0.2, t0.Add(time.Duration(i)*time.Millisecond), 1, 1)
		evicted += len(s.Add(o).Evicted)
		require.LessOrEqual(t, s.Len(), 1000)
	}

	assert.Equal(t, 1000, s.Len())
	assert.Equal(t, total-1000, evicted)
	assert.Equal(t, 1000, s.ActiveCount())

	groups := s.Groups(0)
	require.Len(t, groups, 1000)
	assert.Equal(t, "o1499", groups[0].ID)
	assert.Equal(t, "o500", groups[999].ID)
	for i := 1; i < len(groups); i++ {
		assert.True(t, groups[i-1].Timestamp.After(groups[i].Timestamp))
	}

	_, ok := s.Get("o499")
	assert.False(t, ok)
	_, ok = s.ActiveFor(DedupKey("T499", domain.DirectionForward, RoundProfit(0.2)))
	assert.False(t, ok)
}

func TestStoreEvictionClearsActivePointer(t *testing.T) {
	s := NewStore(Options{Capacity: 2})

	s.Add(opp("old", "K", domain.DirectionForward, 0.2, t0, 1, 1))
	s.Add(opp("x", "X", domain.DirectionForward, 0.2, t0.Add(time.Second), 1, 1))
	res := s.Add(opp("y", "Y", domain.DirectionForward, 0.2, t0.Add(2*time.Second), 1, 1))

	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "old", res.Evicted[0].ID)

	again := s.Add(opp("new", "K", domain.DirectionForward, 0.2, t0.Add(3*time.Second), 1, 1))
	assert.True(t, again.Created)
	assert.Empty(t, again.Superseded)
}

func TestStoreMergeMovesGroupToFront(t *testing.T) {
	s := NewStore(Options{})

	s.Add(opp("a", "A", domain.DirectionForward, 0.2, t0, 1, 1))
	s.Add(opp("b", "B", domain.DirectionForward, 0.2, t0.Add(time.Second), 1, 1))
	s.Add(opp("a2", "A", domain.DirectionForward, 0.2, t0.Add(2*time.Second), 1, 1))

	groups := s.Groups(0)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].ID)
	assert.Equal(t, "b", groups[1].ID)
	assert.Len(t, s.Groups(1), 1)
}

func TestStoreVolumeWeightedAverage(t *testing.T) {
	s := NewStore(Options{})

	// Both round to 0.20 but carry different weights.
	s.Add(opp("a", "K", domain.DirectionForward, 0.196, t0, 1, 10))
	s.Add(opp("b", "K", domain.DirectionForward, 0.204, t0.Add(time.Second), 1, 30))

	g, ok := s.Get("a")
	require.True(t, ok)
	want := (0.196*30 + 0.204*90) / 120
	assert.InDelta(t, want, g.AvgProfitPct, 1e-12)
	assert.Equal(t, 0.204, g.LastProfitPct)
}

func TestStoreCategoryOnlyUpgrades(t *testing.T) {
	s := NewStore(Options{})

	near := opp("a", "K", domain.DirectionForward, 0, t0, 1, 1)
	s.Add(near)
	prof := opp("b", "K", domain.DirectionForward, 0.001, t0.Add(time.Second), 1, 1)
	prof.Category = domain.CategoryProfitable
	s.Add(prof)
	s.Add(opp("c", "K", domain.DirectionForward, 0, t0.Add(2*time.Second), 1, 1))

	g, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, g.Count)
	assert.Equal(t, domain.CategoryProfitable, g.Category)
}

func TestStoreRawFeedAndReset(t *testing.T) {
	s := NewStore(Options{RawCapacity: 3})

	for i := 0; i < 10; i++ {
		s.Add(opp(fmt.Sprintf("o%d", i), "K", domain.DirectionForward, 0.2, t0, 1, 1))
	}
	s.Add(opp("n", "K", domain.DirectionReverse, -0.2, t0, 1, 1))

	raw := s.Raw(0)
	require.Len(t, raw, 3)
	assert.Equal(t, "n", raw[0].ID)
	assert.Equal(t, "o9", raw[1].ID)
	assert.Len(t, s.Raw(2), 2)
	assert.Equal(t, int64(10), s.TotalProfitable())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Raw(0))
	assert.Zero(t, s.TotalProfitable())
}
