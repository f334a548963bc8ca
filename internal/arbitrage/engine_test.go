package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineHarness struct {
	cmds   chan Command
	events chan Event
	errc   chan error
	cancel context.CancelFunc
}

func startEngine(t *testing.T, opts EngineOptions, prepare func(*Engine)) *engineHarness {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.StatsInterval == 0 {
		opts.StatsInterval = time.Hour
	}
	h := &engineHarness{
		cmds:   make(chan Command, 16),
		events: make(chan Event, 64),
		errc:   make(chan error, 1),
	}
	eng := NewEngine(h.cmds, h.events, opts)
	if prepare != nil {
		prepare(eng)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- eng.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

// drainUntilPriceMap sends a price-map request and returns every event
// received before the PRICE_MAP reply, plus the reply itself.
func (h *engineHarness) drainUntilPriceMap(t *testing.T) ([]Event, Event) {
	t.Helper()
	h.cmds <- RequestPriceMapCommand{}
	var before []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == EventPriceMap {
				return before, ev
			}
			before = append(before, ev)
		case <-timeout:
			t.Fatal("timed out waiting for PRICE_MAP")
		}
	}
}

func opportunities(events []Event) []domain.Opportunity {
	var out []domain.Opportunity
	for _, ev := range events {
		if ev.Type == EventOpportunity {
			out = append(out, *ev.Opportunity)
		}
	}
	return out
}

func TestEngineEndToEndScenario(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := startEngine(t, EngineOptions{SessionID: "s1", Now: func() time.Time { return now }}, nil)

	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
	for _, u := range scenarioUpdates() {
		h.cmds <- PriceUpdateCommand{Update: u}
	}

	before, pm := h.drainUntilPriceMap(t)
	opps := opportunities(before)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, domain.CategoryProfitable, opp.Category)
	assert.Equal(t, domain.DirectionForward, opp.Direction)
	assert.InDelta(t, 0.3, opp.ProfitPct, 1e-9)
	assert.Equal(t, "BTC-ETH-USDT", opp.TriangleKey)
	assert.Equal(t, [3]string{"BTC", "ETH", "USDT"}, [3]string{opp.CurrA, opp.CurrB, opp.CurrC})
	assert.Equal(t, domain.ActionBuy, opp.Steps[0].Action)
	assert.Equal(t, domain.ActionSell, opp.Steps[1].Action)
	assert.Equal(t, domain.ActionBuy, opp.Steps[2].Action)
	assert.Equal(t, now, opp.Timestamp)
	assert.Equal(t, "BTC-ETH-USDT-forward-"+strconv.FormatInt(now.UnixMilli(), 10)+"-0", opp.ID)
	assert.Equal(t, "s1", before[0].SessionID)

	assert.Len(t, pm.PriceMap, 3)
}

func TestEngineIDsUniqueWithinSameMillisecond(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := startEngine(t, EngineOptions{Now: func() time.Time { return now }}, nil)

	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
	for _, u := range scenarioUpdates() {
		h.cmds <- PriceUpdateCommand{Update: u}
	}
	for i := 0; i < 5; i++ {
		h.cmds <- PriceUpdateCommand{Update: scenarioUpdates()[2]}
	}

	before, _ := h.drainUntilPriceMap(t)
	opps := opportunities(before)
	require.Len(t, opps, 6)

	ids := map[string]bool{}
	for _, o := range opps {
		assert.False(t, ids[o.ID])
		ids[o.ID] = true
	}
}

func TestEngineDropsMalformedPayloads(t *testing.T) {
	h := startEngine(t, EngineOptions{}, nil)

	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
	h.cmds <- RawPriceCommand{Payload: []byte(`{"garbage"`)}
	h.cmds <- RawPriceCommand{Payload: []byte(`{"s":"ETHBTC","b":"oops"}`)}
	h.cmds <- RawPriceCommand{Payload: []byte(`{"stream":"ethbtc@bookTicker","data":{"s":"ETHBTC","b":"0.0499","B":"1","a":"0.05","A":"1"}}`)}

	_, pm := h.drainUntilPriceMap(t)
	require.Len(t, pm.PriceMap, 1)
	assert.Equal(t, "ETHBTC", pm.PriceMap[0].Symbol)
	assert.Equal(t, 0.05, pm.PriceMap[0].Ask)
}

func TestEngineInitClearsPrices(t *testing.T) {
	h := startEngine(t, EngineOptions{}, nil)

	h.cmds <- PriceUpdateCommand{Update: scenarioUpdates()[0]}
	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}

	_, pm := h.drainUntilPriceMap(t)
	assert.Empty(t, pm.PriceMap)
}

func TestEngineConfigUpdate(t *testing.T) {
	h := startEngine(t, EngineOptions{}, nil)

	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
	strict := scenarioConfig()
	strict.MinProfitPct = 0.5
	h.cmds <- ConfigUpdateCommand{Config: strict}
	for _, u := range scenarioUpdates() {
		h.cmds <- PriceUpdateCommand{Update: u}
	}

	before, _ := h.drainUntilPriceMap(t)
	assert.Empty(t, opportunities(before))
}

func TestEngineEmitsStats(t *testing.T) {
	h := startEngine(t, EngineOptions{StatsInterval: 20 * time.Millisecond}, nil)

	h.cmds <- InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
	for _, u := range scenarioUpdates() {
		h.cmds <- PriceUpdateCommand{Update: u}
	}

	var stats []Stats
	timeout := time.After(2 * time.Second)
	for len(stats) < 2 {
		select {
		case ev := <-h.events:
			if ev.Type == EventStats {
				stats = append(stats, *ev.Stats)
			}
		case <-timeout:
			t.Fatal("timed out waiting for stats")
		}
	}

	total := 0
	for _, s := range stats {
		total += s.ChecksPerSecond
		assert.LessOrEqual(t, s.PriceMapSize, 3)
	}
	assert.LessOrEqual(t, total, 3)
	assert.Equal(t, 3, stats[len(stats)-1].PriceMapSize)
}

func TestEngineRecoversFault(t *testing.T) {
	h := startEngine(t, EngineOptions{}, func(e *Engine) { e.cache = nil })

	h.cmds <- PriceUpdateCommand{Update: scenarioUpdates()[0]}

	select {
	case err := <-h.errc:
		var fault *FaultError
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, "PRICE_UPDATE", fault.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after fault")
	}
}

func TestEngineStopsOnCancel(t *testing.T) {
	h := startEngine(t, EngineOptions{}, nil)
	h.cancel()

	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
