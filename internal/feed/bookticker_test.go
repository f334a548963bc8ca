package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (s *recordingSink) TrySend(cmd arbitrage.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	raw, ok := cmd.(arbitrage.RawPriceCommand)
	if ok {
		s.frames = append(s.frames, raw.Payload)
	}
	return ok
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// fakeConn fails to connect while failing is set, otherwise delivers frames
// and then blocks until cancelled.
type fakeConn struct {
	failing *atomic.Bool
	frames  [][]byte
	dials   *atomic.Int32
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.dials.Add(1)
	if c.failing.Load() {
		return errors.New("dial refused")
	}
	return nil
}

func (c *fakeConn) Run(ctx context.Context, handler binance.FrameHandler) error {
	for _, fr := range c.frames {
		handler(fr)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConn) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoff(t *testing.T) {
	base, ceiling := time.Second, 30*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for n, w := range want {
		assert.Equal(t, w*time.Second, Backoff(n, base, ceiling), "attempt %d", n)
	}
}

func newTestFeed(sink Sink, failing *atomic.Bool, dials *atomic.Int32, frames [][]byte) *BookTickerFeed {
	return NewBookTickerFeed(BookTickerOptions{
		MaxStreamsPerConn: 2,
		MaxAttempts:       3,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		Dial: func(symbols []string) StreamConn {
			return &fakeConn{failing: failing, frames: frames, dials: dials}
		},
	}, sink, quietLogger())
}

func TestFeedDeliversFramesAcrossShards(t *testing.T) {
	sink := &recordingSink{}
	var failing atomic.Bool
	var dials atomic.Int32
	f := newTestFeed(sink, &failing, &dials, [][]byte{[]byte(`{"s":"BTCUSDT"}`)})
	f.SetSymbols([]string{"BTCUSDT", "ETHUSDT", "ETHBTC"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.Eventually(t, func() bool {
		return f.Status().State == domain.FeedConnected && sink.count() == 2
	}, 2*time.Second, 5*time.Millisecond)

	st := f.Status()
	assert.Equal(t, 2, st.Connections)
	assert.Equal(t, 2, st.Connected)
	assert.Equal(t, 3, st.Symbols)
	assert.EqualValues(t, 2, st.TotalMessages)
}

func TestFeedGivesUpThenReconnects(t *testing.T) {
	sink := &recordingSink{}
	var failing atomic.Bool
	failing.Store(true)
	var dials atomic.Int32
	f := newTestFeed(sink, &failing, &dials, [][]byte{[]byte(`{}`)})
	f.SetSymbols([]string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.Eventually(t, func() bool {
		st := f.Status()
		return st.State == domain.FeedDisconnected && st.LastError != ""
	}, 2*time.Second, 5*time.Millisecond)
	// One initial dial plus MaxAttempts retries, then nothing until Reconnect.
	assert.EqualValues(t, 4, dials.Load())
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 4, dials.Load())

	failing.Store(false)
	f.Reconnect()
	assert.Eventually(t, func() bool {
		return f.Status().State == domain.FeedConnected && sink.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.Status().LastError)
}

func TestFeedCountsDroppedFrames(t *testing.T) {
	sink := &recordingSink{full: true}
	var failing atomic.Bool
	var dials atomic.Int32
	f := newTestFeed(sink, &failing, &dials, [][]byte{[]byte(`{}`), []byte(`{}`)})
	f.SetSymbols([]string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.Eventually(t, func() bool {
		return f.Status().Dropped == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeedStopsOnCancel(t *testing.T) {
	var failing atomic.Bool
	var dials atomic.Int32
	f := newTestFeed(&recordingSink{}, &failing, &dials, nil)
	f.SetSymbols([]string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx) }()
	assert.Eventually(t, func() bool {
		return f.Status().State == domain.FeedConnected
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.Equal(t, domain.FeedDisconnected, f.Status().State)
}
