// Package notify fans operator alerts out to chat webhooks (Telegram,
// Discord). Alerts are filtered by event type and rate limited per key so a
// route that keeps firing produces one message per cooldown.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Event types operators can subscribe to.
const (
	EventProfitableGroup  = "profitable_group"
	EventFeedDisconnected = "feed_disconnected"
	EventEngineFault      = "engine_fault"
)

// DefaultCooldown is the minimum gap between two alerts with the same key.
const DefaultCooldown = 5 * time.Minute

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every Sender whose event type is enabled.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier creates a Notifier. An empty events list enables every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: DefaultCooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Enabled reports whether alerts of the given type would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers an alert unless its event type is filtered out or an alert
// with the same key went out within the cooldown. An empty key disables the
// cooldown.
func (n *Notifier) Notify(ctx context.Context, event, key, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if key != "" && !n.claim(event+"/"+key) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// ProfitableGroup alerts on a newly created profitable group.
func (n *Notifier) ProfitableGroup(ctx context.Context, g domain.Group) error {
	title := fmt.Sprintf("Triangular arbitrage %.2f%%", g.RoundedProfitPct)
	msg := fmt.Sprintf("%s → %s → %s → %s (%s)\nvolume $%.2f, seen %dx",
		g.CurrA, nextCurrency(g, 1), nextCurrency(g, 2), g.CurrA, g.Direction, g.VolumeUSD, g.Count)
	return n.Notify(ctx, EventProfitableGroup, g.DedupKey, title, msg)
}

// FeedDisconnected alerts when the market feed gives up reconnecting.
func (n *Notifier) FeedDisconnected(ctx context.Context, st domain.FeedStatus) error {
	msg := fmt.Sprintf("status %s after %d reconnect attempts", st.State, st.Reconnects)
	if st.LastError != "" {
		msg += "\nlast error: " + st.LastError
	}
	return n.Notify(ctx, EventFeedDisconnected, "feed", "Market feed disconnected", msg)
}

// EngineFault alerts on a recovered detection engine fault.
func (n *Notifier) EngineFault(ctx context.Context, sessionID string, err error) error {
	return n.Notify(ctx, EventEngineFault, "engine", "Detection engine fault",
		fmt.Sprintf("session %s: %v", sessionID, err))
}

func nextCurrency(g domain.Group, step int) string {
	order := [3]string{g.CurrA, g.CurrB, g.CurrC}
	if g.Direction == domain.DirectionReverse {
		order = [3]string{g.CurrA, g.CurrC, g.CurrB}
	}
	return order[step]
}

func (n *Notifier) claim(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.last[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
