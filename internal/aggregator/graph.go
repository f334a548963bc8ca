package aggregator

import (
	"sort"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// GraphNode is a currency in the live graph.
type GraphNode struct {
	ID               string  `json:"id"`
	OpportunityCount int     `json:"opportunityCount"`
	VolumeUSD        float64 `json:"totalVolumeUsd"`
}

// GraphLink is a pair in the live graph, from base to quote.
type GraphLink struct {
	Pair      string  `json:"pair"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Frequency int     `json:"frequency"`
	VolumeUSD float64 `json:"totalVolumeUsd"`
}

// LiveGraph is the currency/pair network weighted by group activity.
type LiveGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// BuildLiveGraph projects groups onto the triangle universe. Every triangle
// currency becomes a node and every pair a link. A group adds its count and
// volume to each of its three currencies, and its count plus a third of its
// volume to each of its triangle's pairs.
func BuildLiveGraph(triangles []domain.Triangle, pairs []domain.Pair, groups []domain.Group) LiveGraph {
	nodes := make(map[string]*GraphNode)
	for _, t := range triangles {
		for _, c := range t.Currencies {
			if _, ok := nodes[c]; !ok {
				nodes[c] = &GraphNode{ID: c}
			}
		}
	}
	links := make(map[string]*GraphLink, len(pairs))
	for _, p := range pairs {
		links[p.Symbol] = &GraphLink{Pair: p.Symbol, Source: p.BaseAsset, Target: p.QuoteAsset}
	}
	triIdx := IndexTriangles(triangles)

	for _, g := range groups {
		for _, c := range [3]string{g.CurrA, g.CurrB, g.CurrC} {
			if n, ok := nodes[c]; ok {
				n.OpportunityCount += g.Count
				n.VolumeUSD += g.VolumeUSD
			}
		}
		t, ok := triIdx[g.TriangleKey]
		if !ok {
			continue
		}
		perPair := g.VolumeUSD / 3
		for _, symbol := range t.Pairs {
			if l, ok := links[symbol]; ok {
				l.Frequency += g.Count
				l.VolumeUSD += perPair
			}
		}
	}

	out := LiveGraph{
		Nodes: make([]GraphNode, 0, len(nodes)),
		Links: make([]GraphLink, 0, len(links)),
	}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, *n)
	}
	for _, l := range links {
		out.Links = append(out.Links, *l)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })
	sort.Slice(out.Links, func(i, j int) bool { return out.Links[i].Pair < out.Links[j].Pair })
	return out
}

// ActiveOnly keeps the links that carry a highlight and the nodes they touch.
// With no highlights the graph is returned unchanged.
func (g LiveGraph) ActiveOnly(highlights map[string]EdgeHighlight) LiveGraph {
	if len(highlights) == 0 {
		return g
	}
	var out LiveGraph
	touched := make(map[string]bool)
	for _, l := range g.Links {
		if _, ok := highlights[l.Pair]; ok {
			out.Links = append(out.Links, l)
			touched[l.Source] = true
			touched[l.Target] = true
		}
	}
	for _, n := range g.Nodes {
		if touched[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	return out
}
