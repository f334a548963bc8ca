package arbitrage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func pair(symbol, base, quote string) domain.Pair {
	return domain.Pair{Symbol: symbol, BaseAsset: base, QuoteAsset: quote, Status: domain.PairStatusTrading}
}

func samplePairs() []domain.Pair {
	return []domain.Pair{
		pair("ETHBTC", "ETH", "BTC"),
		pair("ETHUSDT", "ETH", "USDT"),
		pair("BTCUSDT", "BTC", "USDT"),
		pair("BNBBTC", "BNB", "BTC"),
		pair("BNBETH", "BNB", "ETH"),
		pair("BNBUSDT", "BNB", "USDT"),
		pair("SOLUSDC", "SOL", "USDC"),
		pair("USDCUSDT", "USDC", "USDT"),
		pair("SOLUSDT", "SOL", "USDT"),
	}
}

func TestFilterRelevantPairs(t *testing.T) {
	pairs := []domain.Pair{
		pair("ETHBTC", "ETH", "BTC"),
		{Symbol: "LUNAUSDT", BaseAsset: "LUNA", QuoteAsset: "USDT", Status: "BREAK"},
		pair("XRPEUR", "XRP", "EUR"),
		pair("BNBUSDC", "BNB", "USDC"),
	}

	got := FilterRelevantPairs(pairs, DefaultHubAssets)

	require.Len(t, got, 2)
	assert.Equal(t, "ETHBTC", got[0].Symbol)
	assert.Equal(t, "BNBUSDC", got[1].Symbol)
}

func TestBuildTrianglesUniqueAndClosed(t *testing.T) {
	pairs := samplePairs()
	idx := IndexPairs(pairs)

	triangles := BuildTriangles(BuildAdjacency(pairs))
	require.NotEmpty(t, triangles)

	seen := map[string]bool{}
	for _, tri := range triangles {
		assert.False(t, seen[tri.Key], "duplicate key %s", tri.Key)
		seen[tri.Key] = true

		a, b, c := tri.Currencies[0], tri.Currencies[1], tri.Currencies[2]
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, b, c)
		assert.NotEqual(t, a, c)
		assert.Equal(t, TriangleKey(c, a, b), tri.Key)

		hops := [3][2]string{{a, b}, {b, c}, {c, a}}
		for i, hop := range hops {
			p, ok := idx[tri.Pairs[i]]
			require.True(t, ok)
			assert.True(t, p.Touches(hop[0]) && p.Touches(hop[1]), "%s does not join %v", p.Symbol, hop)
		}
	}

	assert.True(t, seen["BTC-ETH-USDT"])
	assert.True(t, seen["BNB-BTC-ETH"])
	assert.True(t, seen["SOL-USDC-USDT"])
	assert.Len(t, triangles, 5)
}

func TestBuildTrianglesDeterministic(t *testing.T) {
	pairs := samplePairs()
	want := BuildTriangles(BuildAdjacency(pairs))

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]domain.Pair(nil), pairs...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, BuildTriangles(BuildAdjacency(shuffled)))
	}
}

func TestBuildTrianglesLayout(t *testing.T) {
	pairs := []domain.Pair{
		pair("ETHBTC", "ETH", "BTC"),
		pair("ETHUSDT", "ETH", "USDT"),
		pair("BTCUSDT", "BTC", "USDT"),
	}

	triangles := BuildTriangles(BuildAdjacency(pairs))

	require.Len(t, triangles, 1)
	assert.Equal(t, domain.Triangle{
		Key:        "BTC-ETH-USDT",
		Currencies: [3]string{"BTC", "ETH", "USDT"},
		Pairs:      [3]string{"ETHBTC", "ETHUSDT", "BTCUSDT"},
	}, triangles[0])
}

func TestDeriveCoins(t *testing.T) {
	coins := DeriveCoins(samplePairs())

	require.NotEmpty(t, coins)
	assert.Equal(t, domain.Coin{Asset: "USDT", PairCount: 5}, coins[0])
	for i := 1; i < len(coins); i++ {
		assert.GreaterOrEqual(t, coins[i-1].PairCount, coins[i].PairCount)
	}
}

func TestBuildUniverseSymbols(t *testing.T) {
	u := BuildUniverse(samplePairs(), nil)

	assert.Len(t, u.Pairs, len(samplePairs()))
	assert.Contains(t, u.Symbols(), "ETHBTC")
	assert.Contains(t, u.Symbols(), "SOLUSDC")
}
