package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
)

// Sink accepts raw price frames. It must not block; a false return counts
// the frame as dropped.
type Sink interface {
	TrySend(cmd arbitrage.Command) bool
}

// StreamConn is one market data connection. *binance.StreamClient satisfies it.
type StreamConn interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, handler binance.FrameHandler) error
	Close() error
}

// BookTickerOptions configures a BookTickerFeed.
type BookTickerOptions struct {
	WsURL             string
	MaxStreamsPerConn int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	// OnStatus is called after every state change.
	OnStatus func(domain.FeedStatus)
	// Dial overrides connection construction.
	Dial func(symbols []string) StreamConn
}

// Backoff returns the delay before reconnect attempt n (zero based):
// min(base*2^n, ceiling).
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < n && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// BookTickerFeed streams top-of-book frames for the universe's symbols into a
// Sink. Symbols are sharded across connections. Each connection reconnects
// with exponential backoff; once any connection exhausts its attempts the
// feed stays disconnected until Reconnect or SetSymbols is called.
type BookTickerFeed struct {
	opts   BookTickerOptions
	sink   Sink
	logger *slog.Logger

	restart chan struct{}

	mu        sync.Mutex
	symbols   []string
	cancelRun context.CancelFunc
	status    domain.FeedStatus

	msgs       atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// NewBookTickerFeed creates a feed delivering into sink.
func NewBookTickerFeed(opts BookTickerOptions, sink Sink, logger *slog.Logger) *BookTickerFeed {
	if opts.MaxStreamsPerConn <= 0 {
		opts.MaxStreamsPerConn = 200
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = 30 * opts.BaseBackoff
	}
	if opts.Dial == nil {
		wsURL := opts.WsURL
		opts.Dial = func(symbols []string) StreamConn {
			return binance.NewStreamClient(wsURL, symbols)
		}
	}
	return &BookTickerFeed{
		opts:    opts,
		sink:    sink,
		logger:  logger.With(slog.String("component", "bookticker_feed")),
		restart: make(chan struct{}, 1),
		status: domain.FeedStatus{
			State:     domain.FeedDisconnected,
			UpdatedAt: time.Now(),
		},
	}
}

// SetSymbols replaces the streamed symbol set and restarts all connections.
func (f *BookTickerFeed) SetSymbols(symbols []string) {
	f.mu.Lock()
	f.symbols = append([]string(nil), symbols...)
	f.mu.Unlock()
	f.Reconnect()
}

// Reconnect drops any live connections and starts over with a fresh attempt
// budget.
func (f *BookTickerFeed) Reconnect() {
	select {
	case f.restart <- struct{}{}:
	default:
	}
	f.mu.Lock()
	if f.cancelRun != nil {
		f.cancelRun()
	}
	f.mu.Unlock()
}

// Status returns the current feed status.
func (f *BookTickerFeed) Status() domain.FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.TotalMessages = f.msgs.Load()
	st.Dropped = f.dropped.Load()
	st.Reconnects = f.reconnects.Load()
	return st
}

// Run drives the feed until ctx is cancelled.
func (f *BookTickerFeed) Run(ctx context.Context) error {
	go f.sampleRate(ctx)

	for {
		select {
		case <-f.restart:
		default:
		}

		f.mu.Lock()
		symbols := f.symbols
		runCtx, cancel := context.WithCancel(ctx)
		f.cancelRun = cancel
		f.mu.Unlock()

		if len(symbols) == 0 {
			f.logger.Info("no symbols to stream, waiting")
		} else {
			err := f.runShards(runCtx, symbols)
			if errors.Is(err, domain.ErrRetriesExhausted) {
				f.logger.Error("market feed gave up reconnecting", slog.String("error", err.Error()))
				f.update(func(st *domain.FeedStatus) {
					st.State = domain.FeedDisconnected
					st.Connected = 0
					st.LastError = err.Error()
				})
			}
		}
		cancel()

		select {
		case <-ctx.Done():
			f.update(func(st *domain.FeedStatus) {
				st.State = domain.FeedDisconnected
				st.Connected = 0
			})
			return ctx.Err()
		case <-f.restart:
			f.logger.Info("market feed restarting")
		}
	}
}

func (f *BookTickerFeed) runShards(ctx context.Context, symbols []string) error {
	shards := binance.Shard(symbols, f.opts.MaxStreamsPerConn)
	f.update(func(st *domain.FeedStatus) {
		st.State = domain.FeedConnecting
		st.Connections = len(shards)
		st.Connected = 0
		st.Symbols = len(symbols)
	})

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			return f.runShard(gctx, i, shard)
		})
	}
	return g.Wait()
}

// runShard keeps one connection alive. It returns ctx.Err() on cancellation
// or ErrRetriesExhausted once the attempt budget is spent.
func (f *BookTickerFeed) runShard(ctx context.Context, idx int, symbols []string) error {
	attempts := 0
	for {
		conn := f.opts.Dial(symbols)
		err := conn.Connect(ctx)
		if err == nil {
			attempts = 0
			f.shardUp(idx)
			err = conn.Run(ctx, f.handleFrame)
			f.shardDown(idx, err, ctx.Err() == nil)
		}
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempts >= f.opts.MaxAttempts {
			return fmt.Errorf("feed: shard %d: %w: %v", idx, domain.ErrRetriesExhausted, err)
		}
		delay := Backoff(attempts, f.opts.BaseBackoff, f.opts.MaxBackoff)
		attempts++
		f.reconnects.Add(1)
		f.logger.Warn("market stream down, reconnecting",
			slog.Int("shard", idx),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		f.update(func(st *domain.FeedStatus) {
			st.State = domain.FeedError
			st.LastError = err.Error()
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		f.update(func(st *domain.FeedStatus) {
			if st.State == domain.FeedError {
				st.State = domain.FeedConnecting
			}
		})
	}
}

func (f *BookTickerFeed) handleFrame(frame []byte) {
	f.msgs.Add(1)
	if !f.sink.TrySend(arbitrage.RawPriceCommand{Payload: frame}) {
		f.dropped.Add(1)
	}
}

func (f *BookTickerFeed) shardUp(idx int) {
	f.logger.Info("market stream connected", slog.Int("shard", idx))
	f.update(func(st *domain.FeedStatus) {
		st.Connected++
		if st.Connected >= st.Connections {
			st.State = domain.FeedConnected
			st.LastError = ""
		}
	})
}

func (f *BookTickerFeed) shardDown(idx int, err error, unexpected bool) {
	if unexpected {
		f.logger.Warn("market stream dropped", slog.Int("shard", idx))
	}
	f.update(func(st *domain.FeedStatus) {
		if st.Connected > 0 {
			st.Connected--
		}
		if unexpected && err != nil {
			st.State = domain.FeedError
			st.LastError = err.Error()
		}
	})
}

// sampleRate refreshes MessagesPerSec once a second.
func (f *BookTickerFeed) sampleRate(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := f.msgs.Load()
	lastAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := f.msgs.Load()
			rate := float64(cur-last) / now.Sub(lastAt).Seconds()
			last, lastAt = cur, now
			f.mu.Lock()
			f.status.MessagesPerSec = rate
			f.mu.Unlock()
		}
	}
}

func (f *BookTickerFeed) update(fn func(st *domain.FeedStatus)) {
	f.mu.Lock()
	prev := f.status.State
	fn(&f.status)
	f.status.UpdatedAt = time.Now()
	changed := f.status.State != prev
	f.mu.Unlock()

	if changed && f.opts.OnStatus != nil {
		f.opts.OnStatus(f.Status())
	}
}
