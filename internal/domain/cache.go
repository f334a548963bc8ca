package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the engine's price map outside the process.
type QuoteCache interface {
	SetQuotes(ctx context.Context, quotes []Quote) error
	GetQuotes(ctx context.Context) ([]Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Publisher fans a payload out to subscribers of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus topics. The websocket hub uses the same names as client channels.
const (
	TopicGroup          = "group"
	TopicStats          = "stats"
	TopicFeed           = "feed"
	StreamOpportunities = "opportunities"
)
