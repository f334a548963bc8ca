package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// defaultStatsInterval is how often an Engine reports throughput.
const defaultStatsInterval = time.Second

// EngineOptions configures an Engine.
type EngineOptions struct {
	SessionID     string
	StatsInterval time.Duration
	// Now overrides the wall clock; used by tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Engine is one detection worker. It owns its price cache, triangle list and
// configuration, consumes commands from a single inbound channel and emits
// events on a single outbound channel. All state is confined to the Run
// goroutine.
type Engine struct {
	sessionID string
	cmds      <-chan Command
	events    chan<- Event

	cache     *PriceCache
	triangles []domain.Triangle
	pairs     PairIndex
	cfg       domain.DetectionConfig

	seq           uint64
	checks        int
	statsInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewEngine creates an Engine reading cmds and writing events.
func NewEngine(cmds <-chan Command, events chan<- Event, opts EngineOptions) *Engine {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatsInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		sessionID:     opts.SessionID,
		cmds:          cmds,
		events:        events,
		cache:         NewPriceCache(),
		pairs:         PairIndex{},
		cfg:           domain.DefaultDetectionConfig(),
		statsInterval: opts.StatsInterval,
		now:           opts.Now,
		logger: opts.Logger.With(
			slog.String("component", "detection_engine"),
			slog.String("session", opts.SessionID),
		),
	}
}

// Run processes commands until ctx is cancelled or the command channel is
// closed. A panic while handling a command is recovered and returned as a
// *FaultError.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.statsInterval)
	defer ticker.Stop()

	e.logger.Info("detection engine started", slog.Int("triangles", len(e.triangles)))
	defer e.logger.Info("detection engine stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-e.cmds:
			if !ok {
				return nil
			}
			if err := e.safeHandle(ctx, cmd); err != nil {
				return err
			}
		case <-ticker.C:
			e.emitStats(ctx)
		}
	}
}

// FaultError wraps a panic recovered inside an Engine.
type FaultError struct {
	Command string
	Cause   any
}

func (f *FaultError) Error() string {
	return fmt.Sprintf("arbitrage: engine fault handling %s: %v", f.Command, f.Cause)
}

func (e *Engine) safeHandle(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Command: cmd.commandName(), Cause: r}
		}
	}()
	e.handle(ctx, cmd)
	return nil
}

func (e *Engine) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case InitCommand:
		e.load(c)
	case PriceUpdateCommand:
		e.onPrice(ctx, c.Update)
	case RawPriceCommand:
		u, err := ParsePriceUpdate(c.Payload)
		if err != nil {
			return
		}
		e.onPrice(ctx, u)
	case ConfigUpdateCommand:
		if err := c.Config.Validate(); err != nil {
			e.logger.Warn("config update rejected", slog.String("error", err.Error()))
			return
		}
		e.cfg = c.Config
	case RequestPriceMapCommand:
		e.emit(ctx, Event{Type: EventPriceMap, PriceMap: e.cache.Snapshot()})
	default:
		e.logger.Warn("unknown command", slog.String("type", fmt.Sprintf("%T", cmd)))
	}
}

func (e *Engine) load(c InitCommand) {
	e.triangles = c.Triangles
	e.pairs = IndexPairs(c.Pairs)
	e.cfg = c.Config
	e.cache.Reset()
	e.checks = 0
}

func (e *Engine) onPrice(ctx context.Context, u domain.PriceUpdate) {
	now := e.now()
	e.cache.Apply(u, now)
	e.checks++

	for _, t := range e.triangles {
		for _, dir := range domain.Directions {
			res, ok := Evaluate(t, dir, e.cache, e.pairs, e.cfg)
			if !ok {
				continue
			}
			category, ok := Classify(res.ProfitPct, e.cfg)
			if !ok {
				continue
			}
			opp := e.newOpportunity(t, dir, res, category, now)
			e.emit(ctx, Event{Type: EventOpportunity, Opportunity: &opp})
		}
	}
}

func (e *Engine) newOpportunity(t domain.Triangle, dir domain.Direction, res Evaluation, category domain.Category, now time.Time) domain.Opportunity {
	seq := e.seq
	e.seq++
	return domain.Opportunity{
		ID:          domain.OpportunityID(t.Key, dir, now, seq),
		Timestamp:   now,
		TriangleKey: t.Key,
		CurrA:       t.Currencies[0],
		CurrB:       t.Currencies[1],
		CurrC:       t.Currencies[2],
		Direction:   dir,
		ProfitPct:   res.ProfitPct,
		Category:    category,
		Steps:       res.Steps,
	}
}

func (e *Engine) emitStats(ctx context.Context) {
	checks := e.checks
	e.checks = 0
	e.emit(ctx, Event{Type: EventStats, Stats: &Stats{
		PriceMapSize:    e.cache.Len(),
		ChecksPerSecond: checks,
		At:              e.now(),
	}})
}

// emit blocks until the event is accepted or ctx is done.
func (e *Engine) emit(ctx context.Context, ev Event) {
	ev.SessionID = e.sessionID
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}
