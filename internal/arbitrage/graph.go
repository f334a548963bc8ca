package arbitrage

import (
	"sort"
	"strings"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// DefaultHubAssets is the default whitelist of assets a pair must touch to be
// considered for triangle enumeration.
var DefaultHubAssets = []string{"USDT", "USD", "USDC", "BTC", "ETH"}

// Adjacency maps asset -> neighbor asset -> pair symbol.
type Adjacency map[string]map[string]string

// PairIndex maps pair symbol -> pair metadata.
type PairIndex map[string]domain.Pair

// FilterRelevantPairs keeps the trading pairs whose base or quote asset is one
// of hubs.
func FilterRelevantPairs(pairs []domain.Pair, hubs []string) []domain.Pair {
	hubSet := make(map[string]struct{}, len(hubs))
	for _, h := range hubs {
		hubSet[strings.ToUpper(strings.TrimSpace(h))] = struct{}{}
	}
	out := make([]domain.Pair, 0, len(pairs))
	for _, p := range pairs {
		if !p.Trading() {
			continue
		}
		_, base := hubSet[p.BaseAsset]
		_, quote := hubSet[p.QuoteAsset]
		if base || quote {
			out = append(out, p)
		}
	}
	return out
}

// BuildAdjacency links both assets of every pair to each other.
func BuildAdjacency(pairs []domain.Pair) Adjacency {
	adj := make(Adjacency)
	link := func(from, to, symbol string) {
		m, ok := adj[from]
		if !ok {
			m = make(map[string]string)
			adj[from] = m
		}
		m[to] = symbol
	}
	for _, p := range pairs {
		link(p.BaseAsset, p.QuoteAsset, p.Symbol)
		link(p.QuoteAsset, p.BaseAsset, p.Symbol)
	}
	return adj
}

// IndexPairs builds a symbol lookup over pairs.
func IndexPairs(pairs []domain.Pair) PairIndex {
	idx := make(PairIndex, len(pairs))
	for _, p := range pairs {
		idx[p.Symbol] = p
	}
	return idx
}

// TriangleKey returns the canonical, direction-independent key of three assets.
func TriangleKey(a, b, c string) string {
	assets := []string{a, b, c}
	sort.Strings(assets)
	return strings.Join(assets, "-")
}

// BuildTriangles enumerates every 3-cycle of the adjacency exactly once.
// Assets and neighbors are visited in sorted order so the result is
// identical across calls for the same graph.
func BuildTriangles(adj Adjacency) []domain.Triangle {
	seen := make(map[string]struct{})
	var out []domain.Triangle

	for _, a := range sortedKeys(adj) {
		neighborsA := adj[a]
		for _, b := range sortedKeys(neighborsA) {
			neighborsB := adj[b]
			for _, c := range sortedKeys(neighborsB) {
				if c == a || c == b {
					continue
				}
				ca, ok := neighborsA[c]
				if !ok {
					continue
				}
				key := TriangleKey(a, b, c)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, domain.Triangle{
					Key:        key,
					Currencies: [3]string{a, b, c},
					Pairs:      [3]string{neighborsA[b], neighborsB[c], ca},
				})
			}
		}
	}
	return out
}

// DeriveCoins counts the pairs each asset trades in, most connected first.
func DeriveCoins(pairs []domain.Pair) []domain.Coin {
	counts := make(map[string]int)
	for _, p := range pairs {
		counts[p.BaseAsset]++
		counts[p.QuoteAsset]++
	}
	coins := make([]domain.Coin, 0, len(counts))
	for asset, n := range counts {
		coins = append(coins, domain.Coin{Asset: asset, PairCount: n})
	}
	sort.Slice(coins, func(i, j int) bool {
		if coins[i].PairCount != coins[j].PairCount {
			return coins[i].PairCount > coins[j].PairCount
		}
		return coins[i].Asset < coins[j].Asset
	})
	return coins
}

// Universe is the prepared pair set and triangle list for one session.
type Universe struct {
	Pairs     []domain.Pair
	Triangles []domain.Triangle
	Coins     []domain.Coin
}

// BuildUniverse filters pairs down to the hub whitelist and enumerates the
// resulting triangles.
func BuildUniverse(pairs []domain.Pair, hubs []string) Universe {
	if len(hubs) == 0 {
		hubs = DefaultHubAssets
	}
	relevant := FilterRelevantPairs(pairs, hubs)
	return Universe{
		Pairs:     relevant,
		Triangles: BuildTriangles(BuildAdjacency(relevant)),
		Coins:     DeriveCoins(relevant),
	}
}

// Symbols returns the distinct pair symbols used by at least one triangle.
func (u Universe) Symbols() []string {
	set := make(map[string]struct{})
	for _, t := range u.Triangles {
		for _, s := range t.Pairs {
			set[s] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
