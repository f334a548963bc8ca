package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/triarb/internal/aggregator"
	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/metrics"
)

// mirrorEvery requests a price map for the quote mirror on every Nth stats
// tick.
const mirrorEvery = 5

// EngineHost runs the detection engine. *arbitrage.Host satisfies it.
type EngineHost interface {
	Start(ic arbitrage.InitCommand) error
	Stop()
	Send(ctx context.Context, cmd arbitrage.Command) error
	Events() <-chan arbitrage.Event
	SessionID() string
}

// FeedController is the market data feed. *feed.BookTickerFeed satisfies it.
type FeedController interface {
	SetSymbols(symbols []string)
	Reconnect()
	Status() domain.FeedStatus
}

// HistorySink receives detections and group updates for persistence.
type HistorySink interface {
	RecordOpportunity(o domain.Opportunity)
	RecordGroup(g domain.Group)
}

// Alerter sends operator notifications.
type Alerter interface {
	ProfitableGroup(ctx context.Context, g domain.Group) error
	FeedDisconnected(ctx context.Context, st domain.FeedStatus) error
	EngineFault(ctx context.Context, sessionID string, err error) error
}

type streamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LiveDeps wires a LiveService. Host and Metrics are required; the rest are
// optional.
type LiveDeps struct {
	Host      EngineHost
	Feed      FeedController
	Publisher domain.Publisher
	Quotes    domain.QuoteCache
	History   HistorySink
	Alerts    Alerter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// LiveOptions tunes a LiveService.
type LiveOptions struct {
	Aggregation       aggregator.Options
	Detection         domain.DetectionConfig
	AlertMinProfitPct float64
	PriceMapTimeout   time.Duration
	Now               func() time.Time
}

// LiveStats is the dashboard header summary.
type LiveStats struct {
	SessionID       string    `json:"sessionId"`
	PriceMapSize    int       `json:"priceMapSize"`
	ChecksPerSecond int       `json:"checksPerSecond"`
	Groups          int       `json:"groups"`
	ActiveGroups    int       `json:"activeGroups"`
	TotalProfitable int64     `json:"totalCount"`
	Triangles       int       `json:"triangles"`
	Pairs           int       `json:"pairs"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Message is the envelope published to bus and websocket subscribers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LiveService is the single consumer of engine events. It owns the
// aggregation store; HTTP reads go through its read lock.
type LiveService struct {
	deps LiveDeps
	opts LiveOptions
	log  *slog.Logger

	mu       sync.RWMutex
	store    *aggregator.Store
	universe arbitrage.Universe
	triIndex aggregator.TriangleIndex
	cfg      domain.DetectionConfig
	stats    arbitrage.Stats

	waitMu  sync.Mutex
	waiters map[chan []domain.Quote]struct{}

	statsTicks atomic.Int64
	mirroring  atomic.Bool
}

// NewLiveService creates a LiveService. Call LoadUniverse to start detection
// and Run to consume events.
func NewLiveService(deps LiveDeps, opts LiveOptions) *LiveService {
	if opts.PriceMapTimeout <= 0 {
		opts.PriceMapTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Detection == (domain.DetectionConfig{}) {
		opts.Detection = domain.DefaultDetectionConfig()
	}
	return &LiveService{
		deps:     deps,
		opts:     opts,
		log:      deps.Logger.With(slog.String("component", "live_service")),
		store:    aggregator.NewStore(opts.Aggregation),
		triIndex: aggregator.TriangleIndex{},
		cfg:      opts.Detection,
		waiters:  make(map[chan []domain.Quote]struct{}),
	}
}

// LoadUniverse installs a new universe, restarts the engine on it and
// points the feed at its symbols.
func (s *LiveService) LoadUniverse(u arbitrage.Universe) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.restartEngine(u, cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.universe = u
	s.triIndex = aggregator.IndexTriangles(u.Triangles)
	s.mu.Unlock()

	if s.deps.Feed != nil {
		s.deps.Feed.SetSymbols(u.Symbols())
	}
	return nil
}

// Reconfigure applies new detection parameters by restarting the engine.
func (s *LiveService) Reconfigure(cfg domain.DetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("service: reconfigure: %w", err)
	}
	s.mu.RLock()
	u := s.universe
	s.mu.RUnlock()

	if err := s.restartEngine(u, cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.log.Info("detection config updated",
		slog.Float64("fee_pct", cfg.FeePct),
		slog.Float64("min_profit_pct", cfg.MinProfitPct),
		slog.Float64("near_miss_floor_pct", cfg.NearMissFloorPct),
		slog.Float64("notional", cfg.Notional),
	)
	return nil
}

func (s *LiveService) restartEngine(u arbitrage.Universe, cfg domain.DetectionConfig) error {
	err := s.deps.Host.Start(arbitrage.InitCommand{
		Triangles: u.Triangles,
		Pairs:     u.Pairs,
		Config:    cfg,
	})
	if err != nil {
		return fmt.Errorf("service: start engine: %w", err)
	}
	s.deps.Metrics.EngineRestarts.Inc()

	// A new session starts with an empty store.
	s.mu.Lock()
	s.store.Reset()
	s.mu.Unlock()
	s.deps.Metrics.GroupsActive.Set(0)
	return nil
}

// Config returns the active detection parameters.
func (s *LiveService) Config() domain.DetectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Clear drops all groups and the raw feed.
func (s *LiveService) Clear() {
	s.mu.Lock()
	s.store.Reset()
	s.mu.Unlock()
	s.deps.Metrics.GroupsActive.Set(0)
	s.log.Info("live opportunities cleared")
}

// Run consumes engine events until ctx is cancelled.
func (s *LiveService) Run(ctx context.Context) error {
	events := s.deps.Host.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *LiveService) handle(ctx context.Context, ev arbitrage.Event) {
	if ev.SessionID != s.deps.Host.SessionID() {
		s.deps.Metrics.StaleEvents.Inc()
		return
	}
	switch ev.Type {
	case arbitrage.EventOpportunity:
		if ev.Opportunity != nil {
			s.onOpportunity(ctx, *ev.Opportunity)
		}
	case arbitrage.EventStats:
		if ev.Stats != nil {
			s.onStats(ctx, *ev.Stats)
		}
	case arbitrage.EventPriceMap:
		s.onPriceMap(ctx, ev.PriceMap)
	}
}

func (s *LiveService) onOpportunity(ctx context.Context, o domain.Opportunity) {
	s.mu.Lock()
	res := s.store.Add(o)
	retained := s.store.Len()
	s.mu.Unlock()

	m := s.deps.Metrics
	m.Opportunities.WithLabelValues(string(o.Category)).Inc()
	m.GroupsActive.Set(float64(retained))
	if res.Created {
		m.GroupsCreated.Inc()
	}
	if res.Superseded != "" {
		m.GroupsExpired.Inc()
	}
	if n := len(res.Evicted); n > 0 {
		m.GroupsEvicted.Add(float64(n))
		s.log.Debug("groups evicted", slog.Int("count", n), slog.String("oldest", res.Evicted[0].ID))
	}

	if s.deps.History != nil {
		s.deps.History.RecordOpportunity(o)
		s.deps.History.RecordGroup(res.Group)
	}

	s.publish(ctx, domain.TopicGroup, Message{Type: domain.TopicGroup, Data: res.Group})
	if sa, ok := s.deps.Publisher.(streamAppender); ok {
		if data, err := json.Marshal(o); err == nil {
			if err := sa.StreamAppend(ctx, domain.StreamOpportunities, data); err != nil {
				s.log.Warn("stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if res.Created && res.Group.Category == domain.CategoryProfitable &&
		res.Group.RoundedProfitPct >= s.opts.AlertMinProfitPct && s.deps.Alerts != nil {
		g := res.Group
		go func() {
			if err := s.deps.Alerts.ProfitableGroup(context.WithoutCancel(ctx), g); err != nil {
				s.log.Warn("profitable group alert failed", slog.String("error", err.Error()))
			}
		}()
	}
}

func (s *LiveService) onStats(ctx context.Context, st arbitrage.Stats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()

	s.deps.Metrics.ChecksPerSecond.Set(float64(st.ChecksPerSecond))
	s.deps.Metrics.PriceMapSize.Set(float64(st.PriceMapSize))
	s.publish(ctx, domain.TopicStats, Message{Type: domain.TopicStats, Data: s.Stats()})

	if s.deps.Quotes != nil && s.statsTicks.Add(1)%mirrorEvery == 0 {
		go func() {
			sendCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_ = s.deps.Host.Send(sendCtx, arbitrage.RequestPriceMapCommand{})
		}()
	}
}

func (s *LiveService) onPriceMap(ctx context.Context, quotes []domain.Quote) {
	s.waitMu.Lock()
	for ch := range s.waiters {
		select {
		case ch <- quotes:
		default:
		}
	}
	s.waitMu.Unlock()

	if s.deps.Quotes == nil || !s.mirroring.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.mirroring.Store(false)
		mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.deps.Quotes.SetQuotes(mirrorCtx, quotes); err != nil {
			s.log.Warn("quote mirror failed", slog.String("error", err.Error()))
		}
	}()
}

// PriceMap asks the engine for its current quotes and waits for the reply.
func (s *LiveService) PriceMap(ctx context.Context) ([]domain.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PriceMapTimeout)
	defer cancel()

	ch := make(chan []domain.Quote, 1)
	s.waitMu.Lock()
	s.waiters[ch] = struct{}{}
	s.waitMu.Unlock()
	defer func() {
		s.waitMu.Lock()
		delete(s.waiters, ch)
		s.waitMu.Unlock()
	}()

	if err := s.deps.Host.Send(ctx, arbitrage.RequestPriceMapCommand{}); err != nil {
		return nil, fmt.Errorf("service: request price map: %w", err)
	}
	select {
	case quotes := <-ch:
		return quotes, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("service: price map: %w", domain.ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// OnFeedStatus publishes feed state changes and alerts when the feed has
// given up.
func (s *LiveService) OnFeedStatus(st domain.FeedStatus) {
	ctx := context.Background()
	s.publish(ctx, domain.TopicFeed, Message{Type: domain.TopicFeed, Data: st})
	if st.State == domain.FeedDisconnected && st.LastError != "" && s.deps.Alerts != nil {
		if err := s.deps.Alerts.FeedDisconnected(ctx, st); err != nil {
			s.log.Warn("feed alert failed", slog.String("error", err.Error()))
		}
	}
}

// OnEngineFault records a recovered engine fault.
func (s *LiveService) OnEngineFault(sessionID string, err error) {
	s.deps.Metrics.EngineFaults.Inc()
	if s.deps.Alerts != nil {
		if aerr := s.deps.Alerts.EngineFault(context.Background(), sessionID, err); aerr != nil {
			s.log.Warn("engine fault alert failed", slog.String("error", aerr.Error()))
		}
	}
}

// FeedStatus returns the market feed status.
func (s *LiveService) FeedStatus() (domain.FeedStatus, error) {
	if s.deps.Feed == nil {
		return domain.FeedStatus{}, domain.ErrFeedDisconnected
	}
	return s.deps.Feed.Status(), nil
}

// ReconnectFeed restarts the market feed with a fresh retry budget.
func (s *LiveService) ReconnectFeed() error {
	if s.deps.Feed == nil {
		return domain.ErrFeedDisconnected
	}
	s.deps.Feed.Reconnect()
	return nil
}

// Groups returns up to limit groups, most recent first. limit <= 0 returns all.
func (s *LiveService) Groups(limit int) []domain.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Groups(limit)
}

// Raw returns up to limit raw detections, newest first.
func (s *LiveService) Raw(limit int) []domain.Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Raw(limit)
}

// Routes returns groups merged per triangle traversal.
func (s *LiveService) Routes() []aggregator.Route {
	return aggregator.GroupRoutes(s.Groups(0))
}

// Highlights returns the per-pair highlight state, sorted by symbol.
func (s *LiveService) Highlights() []aggregator.EdgeHighlight {
	m := s.highlightMap()
	out := make([]aggregator.EdgeHighlight, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *LiveService) highlightMap() map[string]aggregator.EdgeHighlight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregator.ProjectHighlights(s.store.Groups(0), s.triIndex, s.opts.Now(), s.store.StaleWindow())
}

// Graph returns the live currency graph; activeOnly keeps highlighted pairs.
func (s *LiveService) Graph(activeOnly bool) aggregator.LiveGraph {
	s.mu.RLock()
	g := aggregator.BuildLiveGraph(s.universe.Triangles, s.universe.Pairs, s.store.Groups(0))
	s.mu.RUnlock()
	if activeOnly {
		return g.ActiveOnly(s.highlightMap())
	}
	return g
}

// Stats returns the dashboard summary.
func (s *LiveService) Stats() LiveStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LiveStats{
		SessionID:       s.deps.Host.SessionID(),
		PriceMapSize:    s.stats.PriceMapSize,
		ChecksPerSecond: s.stats.ChecksPerSecond,
		Groups:          s.store.Len(),
		ActiveGroups:    s.store.ActiveCount(),
		TotalProfitable: s.store.TotalProfitable(),
		Triangles:       len(s.universe.Triangles),
		Pairs:           len(s.universe.Pairs),
		UpdatedAt:       s.stats.At,
	}
}

// Triangles returns the current triangle universe.
func (s *LiveService) Triangles() []domain.Triangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.universe.Triangles
}

// Coins returns the assets of the current universe by pair count.
func (s *LiveService) Coins() []domain.Coin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.universe.Coins
}

func (s *LiveService) publish(ctx context.Context, topic string, msg Message) {
	if s.deps.Publisher == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode message", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	if err := s.deps.Publisher.Publish(ctx, topic, data); err != nil {
		s.log.Warn("publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}
