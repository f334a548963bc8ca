package aggregator

import (
	"sort"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Route collects every profit bucket seen for one triangle traversal.
type Route struct {
	TriangleKey   string           `json:"triangleKey"`
	CurrA         string           `json:"currA"`
	CurrB         string           `json:"currB"`
	CurrC         string           `json:"currC"`
	Direction     domain.Direction `json:"direction"`
	Category      domain.Category  `json:"category"`
	Timestamp     time.Time        `json:"timestamp"`
	Count         int              `json:"count"`
	VolumeUSD     float64          `json:"volumeUsd"`
	AvgProfitPct  float64          `json:"avgProfitPct"`
	BestProfitPct float64          `json:"bestProfitPct"`
	Buckets       []domain.Group   `json:"buckets"`
}

// GroupRoutes merges groups by (triangle, direction) regardless of profit
// bucket. Profitable routes come first, then near-miss; each class is
// ordered by latest timestamp. groups is expected most recent first, which
// is the order buckets keep within a route.
func GroupRoutes(groups []domain.Group) []Route {
	type acc struct {
		route        Route
		profitVolume float64
		profitSum    float64
	}
	index := make(map[string]*acc)
	var order []*acc

	for _, g := range groups {
		k := g.TriangleKey + ":" + string(g.Direction)
		a, ok := index[k]
		if !ok {
			a = &acc{route: Route{
				TriangleKey:   g.TriangleKey,
				CurrA:         g.CurrA,
				CurrB:         g.CurrB,
				CurrC:         g.CurrC,
				Direction:     g.Direction,
				Category:      g.Category,
				Timestamp:     g.Timestamp,
				BestProfitPct: g.AvgProfitPct,
			}}
			index[k] = a
			order = append(order, a)
		}
		r := &a.route
		r.Buckets = append(r.Buckets, g)
		r.Count += g.Count
		r.VolumeUSD += g.VolumeUSD
		a.profitVolume += g.AvgProfitPct * g.VolumeUSD
		a.profitSum += g.AvgProfitPct
		if g.Timestamp.After(r.Timestamp) {
			r.Timestamp = g.Timestamp
		}
		if g.Category.Rank() > r.Category.Rank() {
			r.Category = g.Category
		}
		if g.AvgProfitPct > r.BestProfitPct {
			r.BestProfitPct = g.AvgProfitPct
		}
	}

	out := make([]Route, 0, len(order))
	for _, a := range order {
		r := a.route
		if r.VolumeUSD > 0 {
			r.AvgProfitPct = a.profitVolume / r.VolumeUSD
		} else {
			r.AvgProfitPct = a.profitSum / float64(len(r.Buckets))
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Category.Rank(), out[j].Category.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
