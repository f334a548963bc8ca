package arbitrage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func scenarioInit() InitCommand {
	return InitCommand{Triangles: []domain.Triangle{btcEthUsdt}, Pairs: scenarioPairs(), Config: scenarioConfig()}
}

func TestHostRejectsInvalidConfig(t *testing.T) {
	h := NewHost(HostOptions{StatsInterval: time.Hour}, discardLogger())
	defer h.Close()

	ic := scenarioInit()
	ic.Config.Notional = 0
	err := h.Start(ic)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Empty(t, h.SessionID())
}

func TestHostSendWithoutInstance(t *testing.T) {
	h := NewHost(HostOptions{}, discardLogger())
	defer h.Close()

	err := h.Send(context.Background(), RequestPriceMapCommand{})
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
	assert.False(t, h.TrySend(RequestPriceMapCommand{}))
}

func TestHostRestartDropsOldSession(t *testing.T) {
	h := NewHost(HostOptions{StatsInterval: time.Hour}, discardLogger())
	defer h.Close()
	ctx := context.Background()

	require.NoError(t, h.Start(scenarioInit()))
	oldSession := h.SessionID()
	require.NotEmpty(t, oldSession)

	// Nobody reads Events yet, so the old instance has opportunities in flight.
	for i := 0; i < 5; i++ {
		for _, u := range scenarioUpdates() {
			require.NoError(t, h.Send(ctx, PriceUpdateCommand{Update: u}))
		}
	}

	require.NoError(t, h.Start(scenarioInit()))
	newSession := h.SessionID()
	require.NotEqual(t, oldSession, newSession)

	require.NoError(t, h.Send(ctx, RequestPriceMapCommand{}))
	select {
	case ev := <-h.Events():
		assert.Equal(t, newSession, ev.SessionID)
		assert.Equal(t, EventPriceMap, ev.Type)
		assert.Empty(t, ev.PriceMap)
	case <-time.After(2 * time.Second):
		t.Fatal("no event from new session")
	}
}

func TestHostStopSilencesEvents(t *testing.T) {
	h := NewHost(HostOptions{StatsInterval: 5 * time.Millisecond}, discardLogger())
	defer h.Close()

	require.NoError(t, h.Start(scenarioInit()))
	h.Stop()
	assert.Empty(t, h.SessionID())

	select {
	case ev := <-h.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHostCloseRejectsStart(t *testing.T) {
	h := NewHost(HostOptions{}, discardLogger())
	h.Close()

	assert.ErrorIs(t, h.Start(scenarioInit()), domain.ErrEngineStopped)
}
