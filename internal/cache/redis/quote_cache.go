package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// quoteTTL expires the mirror if the detector stops refreshing it.
const quoteTTL = 5 * time.Minute

// QuoteCache implements domain.QuoteCache as a single Redis hash keyed by
// pair symbol, each field holding the JSON-encoded quote. Every SetQuotes
// replaces the whole snapshot.
type QuoteCache struct {
	rdb *redis.Client
	key string
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), key: c.Key("quotes")}
}

// SetQuotes atomically replaces the mirrored price map.
func (qc *QuoteCache) SetQuotes(ctx context.Context, quotes []domain.Quote) error {
	fields, err := encodeQuotes(quotes)
	if err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}

	_, err = qc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, qc.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, qc.key, fields)
			pipe.Expire(ctx, qc.key, quoteTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuotes returns the mirrored price map sorted by symbol.
func (qc *QuoteCache) GetQuotes(ctx context.Context) ([]domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, qc.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}
	quotes, err := decodeQuotes(vals)
	if err != nil {
		return nil, fmt.Errorf("redis: get quotes: %w", err)
	}
	return quotes, nil
}

func encodeQuotes(quotes []domain.Quote) (map[string]any, error) {
	fields := make(map[string]any, len(quotes))
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", q.Symbol, err)
		}
		fields[q.Symbol] = data
	}
	return fields, nil
}

func decodeQuotes(vals map[string]string) ([]domain.Quote, error) {
	quotes := make([]domain.Quote, 0, len(vals))
	for sym, raw := range vals {
		var q domain.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("decode %s: %w", sym, err)
		}
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
