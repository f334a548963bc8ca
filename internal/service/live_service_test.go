package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/metrics"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHost struct {
	mu      sync.Mutex
	inits   []arbitrage.InitCommand
	sent    []arbitrage.Command
	events  chan arbitrage.Event
	session string
	reply   []domain.Quote
	noReply bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{events: make(chan arbitrage.Event, 16), session: "s1"}
}

func (h *fakeHost) Start(ic arbitrage.InitCommand) error {
	if err := ic.Config.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits = append(h.inits, ic)
	return nil
}

func (h *fakeHost) Stop() {}

func (h *fakeHost) Send(ctx context.Context, cmd arbitrage.Command) error {
	h.mu.Lock()
	h.sent = append(h.sent, cmd)
	reply, noReply := h.reply, h.noReply
	h.mu.Unlock()
	if _, ok := cmd.(arbitrage.RequestPriceMapCommand); ok && !noReply {
		h.events <- arbitrage.Event{Type: arbitrage.EventPriceMap, SessionID: h.SessionID(), PriceMap: reply}
	}
	return nil
}

func (h *fakeHost) Events() <-chan arbitrage.Event { return h.events }

func (h *fakeHost) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *fakeHost) initCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inits)
}

type fakeFeed struct {
	mu         sync.Mutex
	symbols    []string
	reconnects int
	status     domain.FeedStatus
}

func (f *fakeFeed) SetSymbols(s []string) {
	f.mu.Lock()
	f.symbols = s
	f.mu.Unlock()
}

func (f *fakeFeed) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeFeed) Status() domain.FeedStatus { return f.status }

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	stream   [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{messages: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type fakeHistory struct {
	mu     sync.Mutex
	opps   []domain.Opportunity
	groups []domain.Group
}

func (h *fakeHistory) RecordOpportunity(o domain.Opportunity) {
	h.mu.Lock()
	h.opps = append(h.opps, o)
	h.mu.Unlock()
}

func (h *fakeHistory) RecordGroup(g domain.Group) {
	h.mu.Lock()
	h.groups = append(h.groups, g)
	h.mu.Unlock()
}

type fakeAlerts struct {
	mu     sync.Mutex
	groups []domain.Group
	feed   []domain.FeedStatus
	faults []string
}

func (a *fakeAlerts) ProfitableGroup(_ context.Context, g domain.Group) error {
	a.mu.Lock()
	a.groups = append(a.groups, g)
	a.mu.Unlock()
	return nil
}

func (a *fakeAlerts) FeedDisconnected(_ context.Context, st domain.FeedStatus) error {
	a.mu.Lock()
	a.feed = append(a.feed, st)
	a.mu.Unlock()
	return nil
}

func (a *fakeAlerts) EngineFault(_ context.Context, sessionID string, _ error) error {
	a.mu.Lock()
	a.faults = append(a.faults, sessionID)
	a.mu.Unlock()
	return nil
}

func (a *fakeAlerts) groupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes []domain.Quote
	sets   int
}

func (q *fakeQuotes) SetQuotes(_ context.Context, quotes []domain.Quote) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quotes = quotes
	q.sets++
	return nil
}

func (q *fakeQuotes) GetQuotes(context.Context) ([]domain.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quotes, nil
}

func (q *fakeQuotes) setCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sets
}

func testUniverse() arbitrage.Universe {
	pairs := []domain.Pair{
		{Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC", Status: domain.PairStatusTrading},
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Status: domain.PairStatusTrading},
		{Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Status: domain.PairStatusTrading},
	}
	return arbitrage.BuildUniverse(pairs, nil)
}

func testOpp(id string, tri domain.Triangle, profit float64, ts time.Time) domain.Opportunity {
	cat := domain.CategoryNearMiss
	if profit > 0 {
		cat = domain.CategoryProfitable
	}
	legs := tri.Legs(domain.DirectionForward)
	var steps [3]domain.TradeStep
	for i, l := range legs {
		steps[i] = domain.TradeStep{Pair: l.Symbol, Action: domain.ActionBuy, Price: 10, Quantity: 1}
	}
	return domain.Opportunity{
		ID:          id,
		Timestamp:   ts,
		TriangleKey: tri.Key,
		CurrA:       tri.Currencies[0],
		CurrB:       tri.Currencies[1],
		CurrC:       tri.Currencies[2],
		Direction:   domain.DirectionForward,
		ProfitPct:   profit,
		Category:    cat,
		Steps:       steps,
	}
}

type harness struct {
	svc     *LiveService
	host    *fakeHost
	feed    *fakeFeed
	bus     *fakeBus
	history *fakeHistory
	alerts  *fakeAlerts
	quotes  *fakeQuotes
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, tweaks ...func(*LiveOptions)) *harness {
	t.Helper()
	h := &harness{
		host:    newFakeHost(),
		feed:    &fakeFeed{status: domain.FeedStatus{State: domain.FeedConnected}},
		bus:     newFakeBus(),
		history: &fakeHistory{},
		alerts:  &fakeAlerts{},
		quotes:  &fakeQuotes{},
		metrics: metrics.New(),
	}
	opts := LiveOptions{
		AlertMinProfitPct: 0.2,
		PriceMapTimeout:   200 * time.Millisecond,
		Now:               func() time.Time { return t0.Add(time.Minute) },
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	h.svc = NewLiveService(LiveDeps{
		Host:      h.host,
		Feed:      h.feed,
		Publisher: h.bus,
		Quotes:    h.quotes,
		History:   h.history,
		Alerts:    h.alerts,
		Metrics:   h.metrics,
		Logger:    testLogger(),
	}, opts)
	require.NoError(t, h.svc.LoadUniverse(testUniverse()))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) emit(ev arbitrage.Event) {
	if ev.SessionID == "" {
		ev.SessionID = h.host.SessionID()
	}
	h.host.events <- ev
}

func TestLoadUniverseStartsEngineAndFeed(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 1, h.host.initCount())
	assert.Len(t, h.svc.Triangles(), 1)
	assert.Equal(t, []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, h.feed.symbols)
	assert.NotEmpty(t, h.svc.Coins())
}

func TestOpportunityFlow(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o2", tri, 0.301, t0.Add(time.Second)))})

	require.Eventually(t, func() bool { return len(h.svc.Raw(0)) == 2 }, time.Second, 5*time.Millisecond)

	groups := h.svc.Groups(0)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, "o1", groups[0].ID)

	assert.Equal(t, 2, h.bus.count(domain.TopicGroup))
	var msg struct {
		Type string       `json:"type"`
		Data domain.Group `json:"data"`
	}
	h.bus.mu.Lock()
	require.NoError(t, json.Unmarshal(h.bus.messages[domain.TopicGroup][1], &msg))
	assert.Len(t, h.bus.stream, 2)
	h.bus.mu.Unlock()
	assert.Equal(t, domain.TopicGroup, msg.Type)
	assert.Equal(t, 2, msg.Data.Count)

	h.history.mu.Lock()
	assert.Len(t, h.history.opps, 2)
	assert.Len(t, h.history.groups, 2)
	h.history.mu.Unlock()

	// Only the creation of a group alerts.
	require.Eventually(t, func() bool { return h.alerts.groupCount() == 1 }, time.Second, 5*time.Millisecond)

	routes := h.svc.Routes()
	require.Len(t, routes, 1)

	hl := h.svc.Highlights()
	require.Len(t, hl, 3)
	assert.Equal(t, "BTCUSDT", hl[0].Symbol)

	stats := h.svc.Stats()
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, int64(2), stats.TotalProfitable)
	assert.Equal(t, "s1", stats.SessionID)

	g := h.svc.Graph(true)
	assert.NotEmpty(t, g.Links)
}

func TestNearMissBelowAlertThresholdDoesNotAlert(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, -0.2, t0))})
	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o2", tri, 0.15, t0))})

	require.Eventually(t, func() bool { return len(h.svc.Raw(0)) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.alerts.groupCount())
}

func TestStaleSessionEventsDropped(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, SessionID: "old", Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	h.emit(arbitrage.Event{Type: arbitrage.EventStats, Stats: &arbitrage.Stats{PriceMapSize: 3, ChecksPerSecond: 9, At: t0}})

	require.Eventually(t, func() bool { return h.svc.Stats().ChecksPerSecond == 9 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.svc.Raw(0))
	assert.Equal(t, 3, h.svc.Stats().PriceMapSize)
	assert.Equal(t, 1, h.bus.count(domain.TopicStats))
}

func TestPriceMapRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.host.reply = []domain.Quote{{Symbol: "BTCUSDT", Bid: 1, Ask: 2}}

	quotes, err := h.svc.PriceMap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.host.reply, quotes)

	require.Eventually(t, func() bool { return h.quotes.setCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPriceMapTimeout(t *testing.T) {
	h := newHarness(t)
	h.host.mu.Lock()
	h.host.noReply = true
	h.host.mu.Unlock()

	_, err := h.svc.PriceMap(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t)

	cfg := domain.DefaultDetectionConfig()
	cfg.MinProfitPct = 0.5
	require.NoError(t, h.svc.Reconfigure(cfg))
	assert.Equal(t, 2, h.host.initCount())
	assert.Equal(t, 0.5, h.svc.Config().MinProfitPct)

	bad := cfg
	bad.Notional = 0
	err := h.svc.Reconfigure(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, 0.5, h.svc.Config().MinProfitPct)
	assert.Equal(t, 2, h.host.initCount())
}

func TestReconfigureResetsGroups(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	require.Eventually(t, func() bool { return len(h.svc.Raw(0)) == 1 }, time.Second, 5*time.Millisecond)

	cfg := domain.DefaultDetectionConfig()
	cfg.Notional = 5000
	require.NoError(t, h.svc.Reconfigure(cfg))
	assert.Empty(t, h.svc.Groups(0))
	assert.Empty(t, h.svc.Raw(0))
	assert.Zero(t, h.svc.Stats().TotalProfitable)

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o2", tri, 0.3, t0.Add(time.Second)))})
	require.Eventually(t, func() bool { return len(h.svc.Raw(0)) == 1 }, time.Second, 5*time.Millisecond)

	groups := h.svc.Groups(0)
	require.Len(t, groups, 1)
	assert.Equal(t, "o2", groups[0].ID)
	assert.Equal(t, 1, groups[0].Count)
	assert.Equal(t, int64(1), h.svc.Stats().TotalProfitable)
}

func TestLoadUniverseResetsGroups(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	require.Eventually(t, func() bool { return len(h.svc.Groups(0)) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.LoadUniverse(testUniverse()))
	assert.Empty(t, h.svc.Groups(0))
	assert.Equal(t, 2, h.host.initCount())
}

func TestEvictionAndExpiryCounted(t *testing.T) {
	h := newHarness(t, func(o *LiveOptions) {
		o.Aggregation.Capacity = 1
		o.Aggregation.StaleWindow = time.Second
	})
	tri := h.svc.Triangles()[0]

	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	// Same key past the stale window replaces o1.
	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o2", tri, 0.3, t0.Add(5*time.Second)))})
	require.Eventually(t, func() bool { return len(h.svc.Raw(0)) == 2 }, time.Second, 5*time.Millisecond)

	groups := h.svc.Groups(0)
	require.Len(t, groups, 1)
	assert.Equal(t, "o2", groups[0].ID)

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "triarb_groups_expired_total 1")
	assert.Contains(t, body, "triarb_groups_evicted_total 1")
	assert.Contains(t, body, "triarb_groups_retained 1")
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	tri := h.svc.Triangles()[0]
	h.emit(arbitrage.Event{Type: arbitrage.EventOpportunity, Opportunity: ptr(testOpp("o1", tri, 0.3, t0))})
	require.Eventually(t, func() bool { return len(h.svc.Groups(0)) == 1 }, time.Second, 5*time.Millisecond)

	h.svc.Clear()
	assert.Empty(t, h.svc.Groups(0))
	assert.Empty(t, h.svc.Raw(0))
	assert.Zero(t, h.svc.Stats().TotalProfitable)
}

func TestFeedControl(t *testing.T) {
	h := newHarness(t)

	st, err := h.svc.FeedStatus()
	require.NoError(t, err)
	assert.Equal(t, domain.FeedConnected, st.State)

	require.NoError(t, h.svc.ReconnectFeed())
	assert.Equal(t, 1, h.feed.reconnects)

	h.svc.OnFeedStatus(domain.FeedStatus{State: domain.FeedDisconnected, LastError: "boom"})
	assert.Equal(t, 1, h.bus.count(domain.TopicFeed))
	assert.Len(t, h.alerts.feed, 1)

	h.svc.OnEngineFault("s1", errors.New("panic"))
	assert.Equal(t, []string{"s1"}, h.alerts.faults)
}

func TestFeedStatusWithoutFeed(t *testing.T) {
	svc := NewLiveService(LiveDeps{Host: newFakeHost(), Metrics: metrics.New(), Logger: testLogger()}, LiveOptions{})

	_, err := svc.FeedStatus()
	assert.ErrorIs(t, err, domain.ErrFeedDisconnected)
	assert.ErrorIs(t, svc.ReconnectFeed(), domain.ErrFeedDisconnected)
}

func ptr[T any](v T) *T { return &v }
