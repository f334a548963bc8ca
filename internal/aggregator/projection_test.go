package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

var (
	triBTCETHUSDT = domain.Triangle{
		Key:        "BTC-ETH-USDT",
		Currencies: [3]string{"BTC", "ETH", "USDT"},
		Pairs:      [3]string{"ETHBTC", "ETHUSDT", "BTCUSDT"},
	}
	triBNBBTCUSDT = domain.Triangle{
		Key:        "BNB-BTC-USDT",
		Currencies: [3]string{"BNB", "BTC", "USDT"},
		Pairs:      [3]string{"BNBBTC", "BTCUSDT", "BNBUSDT"},
	}
)

func group(id string, tri domain.Triangle, dir domain.Direction, cat domain.Category, ts time.Time, count int, volume, avg float64) domain.Group {
	return domain.Group{
		ID:           id,
		TriangleKey:  tri.Key,
		CurrA:        tri.Currencies[0],
		CurrB:        tri.Currencies[1],
		CurrC:        tri.Currencies[2],
		Direction:    dir,
		Category:     cat,
		Timestamp:    ts,
		Count:        count,
		VolumeUSD:    volume,
		AvgProfitPct: avg,
	}
}

func TestProjectHighlightsPriority(t *testing.T) {
	now := t0.Add(time.Minute)
	groups := []domain.Group{
		group("p", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0, 1, 10, 0.3),
		group("n", triBNBBTCUSDT, domain.DirectionForward, domain.CategoryNearMiss, t0.Add(30*time.Second), 1, 10, -0.1),
	}

	edges := ProjectHighlights(groups, IndexTriangles([]domain.Triangle{triBTCETHUSDT, triBNBBTCUSDT}), now, 5*time.Minute)

	shared := edges["BTCUSDT"]
	assert.Equal(t, domain.CategoryProfitable, shared.Category)
	assert.Equal(t, ActivityActive, shared.Activity)
	assert.Equal(t, 4, shared.Priority())

	assert.Equal(t, domain.CategoryNearMiss, edges["BNBBTC"].Category)
	assert.Equal(t, ActivityActive, edges["BNBBTC"].Activity)
	assert.Equal(t, domain.CategoryProfitable, edges["ETHBTC"].Category)
	assert.Len(t, edges, 5)
}

func TestProjectHighlightsActiveBeatsStale(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	groups := []domain.Group{
		group("p", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0, 1, 10, 0.3),
		group("n", triBNBBTCUSDT, domain.DirectionForward, domain.CategoryNearMiss, now.Add(-time.Minute), 1, 10, -0.1),
	}

	edges := ProjectHighlights(groups, IndexTriangles([]domain.Triangle{triBTCETHUSDT, triBNBBTCUSDT}), now, 5*time.Minute)

	assert.Equal(t, EdgeHighlight{
		Symbol:      "BTCUSDT",
		Category:    domain.CategoryNearMiss,
		Activity:    ActivityActive,
		TriangleKey: triBNBBTCUSDT.Key,
		Timestamp:   now.Add(-time.Minute),
	}, edges["BTCUSDT"])
	assert.Equal(t, ActivityStale, edges["ETHBTC"].Activity)
	assert.Equal(t, 2, edges["ETHBTC"].Priority())
}

func TestProjectHighlightsTriangleSummary(t *testing.T) {
	now := t0.Add(6 * time.Minute)
	// The old profitable bucket and a fresh near-miss bucket of the same
	// triangle combine into profitable + active.
	groups := []domain.Group{
		group("n", triBTCETHUSDT, domain.DirectionReverse, domain.CategoryNearMiss, now, 1, 1, -0.2),
		group("p", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0, 1, 1, 0.2),
	}

	edges := ProjectHighlights(groups, IndexTriangles([]domain.Triangle{triBTCETHUSDT}), now, 5*time.Minute)

	for _, symbol := range triBTCETHUSDT.Pairs {
		assert.Equal(t, 4, edges[symbol].Priority(), symbol)
	}
}

func TestProjectHighlightsSkipsUnknownTriangles(t *testing.T) {
	groups := []domain.Group{group("p", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0, 1, 1, 0.2)}

	assert.Empty(t, ProjectHighlights(groups, TriangleIndex{}, t0, time.Minute))
}

func TestGroupRoutes(t *testing.T) {
	groups := []domain.Group{
		group("n1", triBNBBTCUSDT, domain.DirectionForward, domain.CategoryNearMiss, t0.Add(3*time.Second), 2, 10, -0.1),
		group("p2", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0.Add(2*time.Second), 1, 30, 0.4),
		group("p1", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0.Add(time.Second), 3, 10, 0.2),
		group("r1", triBTCETHUSDT, domain.DirectionReverse, domain.CategoryNearMiss, t0, 1, 0, -0.3),
	}

	routes := GroupRoutes(groups)
	require.Len(t, routes, 3)

	first := routes[0]
	assert.Equal(t, triBTCETHUSDT.Key, first.TriangleKey)
	assert.Equal(t, domain.DirectionForward, first.Direction)
	assert.Equal(t, domain.CategoryProfitable, first.Category)
	assert.Equal(t, 4, first.Count)
	assert.Equal(t, 40.0, first.VolumeUSD)
	assert.InDelta(t, (0.4*30+0.2*10)/40, first.AvgProfitPct, 1e-12)
	assert.Equal(t, 0.4, first.BestProfitPct)
	assert.Equal(t, t0.Add(2*time.Second), first.Timestamp)
	require.Len(t, first.Buckets, 2)
	assert.Equal(t, "p2", first.Buckets[0].ID)

	assert.Equal(t, triBNBBTCUSDT.Key, routes[1].TriangleKey)
	assert.Equal(t, domain.DirectionReverse, routes[2].Direction)
	assert.Equal(t, -0.3, routes[2].AvgProfitPct)
}

func TestBuildLiveGraph(t *testing.T) {
	pairs := []domain.Pair{
		{Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		{Symbol: "BNBBTC", BaseAsset: "BNB", QuoteAsset: "BTC"},
		{Symbol: "BNBUSDT", BaseAsset: "BNB", QuoteAsset: "USDT"},
	}
	triangles := []domain.Triangle{triBTCETHUSDT, triBNBBTCUSDT}
	groups := []domain.Group{
		group("a", triBTCETHUSDT, domain.DirectionForward, domain.CategoryProfitable, t0, 3, 90, 0.2),
		group("b", triBTCETHUSDT, domain.DirectionReverse, domain.CategoryNearMiss, t0, 1, 30, -0.2),
	}

	g := BuildLiveGraph(triangles, pairs, groups)

	require.Len(t, g.Nodes, 4)
	require.Len(t, g.Links, 5)
	nodes := map[string]GraphNode{}
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}
	assert.Equal(t, 4, nodes["BTC"].OpportunityCount)
	assert.Equal(t, 120.0, nodes["ETH"].VolumeUSD)
	assert.Zero(t, nodes["BNB"].OpportunityCount)

	links := map[string]GraphLink{}
	for _, l := range g.Links {
		links[l.Pair] = l
	}
	assert.Equal(t, 4, links["BTCUSDT"].Frequency)
	assert.InDelta(t, 40.0, links["BTCUSDT"].VolumeUSD, 1e-12)
	assert.Equal(t, "BTC", links["BTCUSDT"].Source)
	assert.Equal(t, "USDT", links["BTCUSDT"].Target)
	assert.Zero(t, links["BNBBTC"].Frequency)

	edges := ProjectHighlights(groups, IndexTriangles(triangles), t0, time.Minute)
	active := g.ActiveOnly(edges)
	assert.Len(t, active.Links, 3)
	assert.Len(t, active.Nodes, 3)
	assert.Equal(t, g, g.ActiveOnly(nil))
}
