package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// HostOptions configures a Host.
type HostOptions struct {
	CommandBuffer int
	EventBuffer   int
	StatsInterval time.Duration
	// MaxRestarts bounds automatic worker recreation after faults within one
	// session. Zero disables recreation.
	MaxRestarts int
	// OnFault, when set, is called for every recovered worker fault.
	OnFault func(sessionID string, err error)
	Now     func() time.Time
}

// instance is one running Engine plus the goroutine forwarding its events.
type instance struct {
	id     string
	cmds   chan Command
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Host owns at most one detection Engine at a time. Configuration and
// universe changes replace the running instance instead of mutating it, and
// no event from a replaced instance is forwarded once its teardown returns.
type Host struct {
	opts   HostOptions
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	events chan Event

	mu       sync.Mutex
	cur      *instance
	lastInit InitCommand
	restarts int
	closed   bool

	session atomic.Pointer[string]
}

// NewHost creates a Host with no running engine. Call Start to spawn one.
func NewHost(opts HostOptions, logger *slog.Logger) *Host {
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = 1024
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 4096
	}
	base, cancel := context.WithCancel(context.Background())
	h := &Host{
		opts:   opts,
		logger: logger.With(slog.String("component", "engine_host")),
		base:   base,
		cancel: cancel,
		// Unbuffered: an event is only handed over while its instance is
		// still live.
		events: make(chan Event),
	}
	empty := ""
	h.session.Store(&empty)
	return h
}

// Events is the single stream of events from whichever instance is current.
func (h *Host) Events() <-chan Event {
	return h.events
}

// SessionID returns the id of the current instance, or "" when stopped.
func (h *Host) SessionID() string {
	return *h.session.Load()
}

// Start tears down any running instance and spawns a fresh one initialised
// with init.
func (h *Host) Start(ic InitCommand) error {
	if err := ic.Config.Validate(); err != nil {
		return fmt.Errorf("arbitrage: start engine: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrEngineStopped
	}
	h.teardownLocked()
	h.lastInit = ic
	h.restarts = 0
	h.spawnLocked(ic)
	return nil
}

// Stop tears down the running instance, if any.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked()
}

// Close stops the host permanently.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked()
	h.closed = true
	h.cancel()
}

// Send delivers cmd to the current instance.
func (h *Host) Send(ctx context.Context, cmd Command) error {
	h.mu.Lock()
	inst := h.cur
	h.mu.Unlock()
	if inst == nil {
		return domain.ErrEngineStopped
	}
	select {
	case inst.cmds <- cmd:
		return nil
	case <-inst.ctx.Done():
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers cmd without blocking. It reports false when the current
// instance's queue is full or no instance is running.
func (h *Host) TrySend(cmd Command) bool {
	h.mu.Lock()
	inst := h.cur
	h.mu.Unlock()
	if inst == nil {
		return false
	}
	select {
	case inst.cmds <- cmd:
		return true
	default:
		return false
	}
}

func (h *Host) spawnLocked(ic InitCommand) {
	ctx, cancel := context.WithCancel(h.base)
	inst := &instance{
		id:     uuid.NewString(),
		cmds:   make(chan Command, h.opts.CommandBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	out := make(chan Event, h.opts.EventBuffer)
	eng := NewEngine(inst.cmds, out, EngineOptions{
		SessionID:     inst.id,
		StatsInterval: h.opts.StatsInterval,
		Now:           h.opts.Now,
		Logger:        h.logger,
	})
	eng.load(ic)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(out)
		err := eng.Run(ctx)
		var fault *FaultError
		if errors.As(err, &fault) {
			go h.recoverFault(inst, fault)
		}
	}()
	go func() {
		defer wg.Done()
		h.forward(ctx, out)
	}()
	go func() {
		wg.Wait()
		close(inst.done)
	}()

	h.cur = inst
	id := inst.id
	h.session.Store(&id)
	h.logger.Info("engine instance started",
		slog.String("session", inst.id),
		slog.Int("triangles", len(ic.Triangles)),
	)
}

func (h *Host) teardownLocked() {
	if h.cur == nil {
		return
	}
	inst := h.cur
	inst.cancel()
	<-inst.done
	h.cur = nil
	empty := ""
	h.session.Store(&empty)
	h.logger.Info("engine instance stopped", slog.String("session", inst.id))
}

func (h *Host) forward(ctx context.Context, out <-chan Event) {
	for ev := range out {
		if ctx.Err() != nil {
			return
		}
		select {
		case h.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Host) recoverFault(inst *instance, fault *FaultError) {
	h.logger.Error("engine instance faulted",
		slog.String("session", inst.id),
		slog.String("error", fault.Error()),
	)
	if h.opts.OnFault != nil {
		h.opts.OnFault(inst.id, fault)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != inst || h.closed {
		return
	}
	h.teardownLocked()
	if h.restarts >= h.opts.MaxRestarts {
		h.logger.Error("engine restart budget exhausted", slog.Int("restarts", h.restarts))
		return
	}
	h.restarts++
	h.spawnLocked(h.lastInit)
}
