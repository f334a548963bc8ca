// Package aggregator folds the raw opportunity stream into a bounded set of
// live groups and derives display projections from them.
package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	// DefaultCapacity bounds the number of resident groups.
	DefaultCapacity = 1000
	// DefaultRawCapacity bounds the raw opportunity feed.
	DefaultRawCapacity = 1000
	// DefaultStaleWindow is how long a group keeps accepting merges.
	DefaultStaleWindow = 5 * time.Minute
	// ProfitPrecision is the number of decimals in the dedup key.
	ProfitPrecision int32 = 2
)

var half = decimal.New(5, -1)

// Options configures a Store.
type Options struct {
	Capacity    int
	RawCapacity int
	StaleWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.RawCapacity <= 0 {
		o.RawCapacity = DefaultRawCapacity
	}
	if o.StaleWindow <= 0 {
		o.StaleWindow = DefaultStaleWindow
	}
	return o
}

// entry is a resident group plus the accounting behind its average profit.
type entry struct {
	group        domain.Group
	profitVolume float64
	profitSum    float64
	touched      uint64
}

// Result describes what Add did with an opportunity.
type Result struct {
	Group   domain.Group
	Created bool
	// Superseded is the id of the expired group this one replaced as the
	// active entry for its key, if any.
	Superseded string
	Evicted    []domain.Group
}

// Store is the dedup/aggregation index. It is not safe for concurrent use;
// callers serialize access.
type Store struct {
	opts Options

	entries map[string]*entry
	active  map[string]string
	order   *btree.BTreeG[*entry]
	touch   uint64

	raw             []domain.Opportunity
	totalProfitable int64
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	s := &Store{opts: opts.withDefaults()}
	s.Reset()
	return s
}

// byRecency orders entries newest first. touched breaks timestamp ties so
// the order is total.
func byRecency(a, b *entry) bool {
	if !a.group.Timestamp.Equal(b.group.Timestamp) {
		return a.group.Timestamp.After(b.group.Timestamp)
	}
	return a.touched > b.touched
}

// Reset drops every group, the raw feed and counters.
func (s *Store) Reset() {
	s.entries = make(map[string]*entry)
	s.active = make(map[string]string)
	s.order = btree.NewBTreeGOptions(byRecency, btree.Options{NoLocks: true})
	s.raw = nil
	s.totalProfitable = 0
}

// StaleWindow returns the configured merge window.
func (s *Store) StaleWindow() time.Duration {
	return s.opts.StaleWindow
}

// RoundProfit rounds a profit percentage to the dedup precision. Halves
// round toward positive infinity, so -0.125 keys as -0.12.
func RoundProfit(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(pct).
		Shift(ProfitPrecision).
		Add(half).
		Floor().
		Shift(-ProfitPrecision)
}

// DedupKey identifies opportunities that may merge into one group.
func DedupKey(triangleKey string, dir domain.Direction, rounded decimal.Decimal) string {
	return fmt.Sprintf("%s:%s:%s", triangleKey, dir, rounded.StringFixed(ProfitPrecision))
}

// Add folds o into the store.
func (s *Store) Add(o domain.Opportunity) Result {
	s.recordRaw(o)

	rounded := RoundProfit(o.ProfitPct)
	key := DedupKey(o.TriangleKey, o.Direction, rounded)
	volume := o.Volume()

	var res Result
	if id, ok := s.active[key]; ok {
		if e, ok := s.entries[id]; ok {
			if o.Timestamp.Sub(e.group.Timestamp) <= s.opts.StaleWindow {
				s.merge(e, o, volume)
				res.Group = e.group
				res.Evicted = s.evict()
				return res
			}
			res.Superseded = id
		}
	}

	e := &entry{
		group: domain.Group{
			ID:               o.ID,
			DedupKey:         key,
			TriangleKey:      o.TriangleKey,
			CurrA:            o.CurrA,
			CurrB:            o.CurrB,
			CurrC:            o.CurrC,
			Direction:        o.Direction,
			RoundedProfitPct: rounded.InexactFloat64(),
			AvgProfitPct:     o.ProfitPct,
			LastProfitPct:    o.ProfitPct,
			Category:         o.Category,
			VolumeUSD:        volume,
			Count:            1,
			FirstSeen:        o.Timestamp,
			Timestamp:        o.Timestamp,
			LatestID:         o.ID,
		},
		profitVolume: o.ProfitPct * volume,
		profitSum:    o.ProfitPct,
	}
	s.touch++
	e.touched = s.touch
	s.entries[e.group.ID] = e
	s.active[key] = e.group.ID
	s.order.Set(e)

	res.Group = e.group
	res.Created = true
	res.Evicted = s.evict()
	return res
}

// merge folds o into e. e is removed from and re-inserted into the recency
// index because its sort key changes.
func (s *Store) merge(e *entry, o domain.Opportunity, volume float64) {
	s.order.Delete(e)

	g := &e.group
	g.Timestamp = o.Timestamp
	g.VolumeUSD += volume
	g.Count++
	g.LatestID = o.ID
	g.LastProfitPct = o.ProfitPct
	if o.Category.Rank() > g.Category.Rank() {
		g.Category = o.Category
	}
	e.profitVolume += o.ProfitPct * volume
	e.profitSum += o.ProfitPct
	if g.VolumeUSD > 0 {
		g.AvgProfitPct = e.profitVolume / g.VolumeUSD
	} else {
		g.AvgProfitPct = e.profitSum / float64(g.Count)
	}

	s.touch++
	e.touched = s.touch
	s.order.Set(e)
}

// evict trims the store to capacity, oldest first.
func (s *Store) evict() []domain.Group {
	var evicted []domain.Group
	for s.order.Len() > s.opts.Capacity {
		oldest, ok := s.order.Max()
		if !ok {
			break
		}
		s.order.Delete(oldest)
		delete(s.entries, oldest.group.ID)
		if s.active[oldest.group.DedupKey] == oldest.group.ID {
			delete(s.active, oldest.group.DedupKey)
		}
		evicted = append(evicted, oldest.group)
	}
	return evicted
}

func (s *Store) recordRaw(o domain.Opportunity) {
	if o.Category == domain.CategoryProfitable {
		s.totalProfitable++
	}
	s.raw = append(s.raw, o)
	if len(s.raw) >= 2*s.opts.RawCapacity {
		s.raw = append([]domain.Opportunity(nil), s.raw[len(s.raw)-s.opts.RawCapacity:]...)
	}
}

// Len is the number of resident groups.
func (s *Store) Len() int {
	return s.order.Len()
}

// ActiveCount is the number of keys with an active group.
func (s *Store) ActiveCount() int {
	return len(s.active)
}

// TotalProfitable counts profitable raw opportunities since the last Reset.
func (s *Store) TotalProfitable() int64 {
	return s.totalProfitable
}

// Get returns the group with the given id.
func (s *Store) Get(id string) (domain.Group, bool) {
	e, ok := s.entries[id]
	if !ok {
		return domain.Group{}, false
	}
	return e.group, true
}

// ActiveFor returns the active group for a dedup key.
func (s *Store) ActiveFor(key string) (domain.Group, bool) {
	id, ok := s.active[key]
	if !ok {
		return domain.Group{}, false
	}
	return s.Get(id)
}

// Groups returns up to limit groups, most recent first. limit <= 0 returns
// all of them.
func (s *Store) Groups(limit int) []domain.Group {
	n := s.order.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Group, 0, n)
	s.order.Scan(func(e *entry) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, e.group)
		return true
	})
	return out
}

// Raw returns up to limit raw opportunities, newest first.
func (s *Store) Raw(limit int) []domain.Opportunity {
	n := len(s.raw)
	if n > s.opts.RawCapacity {
		n = s.opts.RawCapacity
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Opportunity, 0, n)
	for i := len(s.raw) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.raw[i])
	}
	return out
}
