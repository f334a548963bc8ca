package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
)

// PairSource lists exchange trading pairs. *binance.RestClient satisfies it.
type PairSource interface {
	ExchangeInfo(ctx context.Context) ([]domain.Pair, error)
}

// UniverseLoader fetches the exchange's pairs and prepares the triangle
// universe around the configured hub assets.
type UniverseLoader struct {
	source PairSource
	hubs   []string
	logger *slog.Logger
}

// NewUniverseLoader creates a loader. Empty hubs fall back to the default
// hub set.
func NewUniverseLoader(source PairSource, hubs []string, logger *slog.Logger) *UniverseLoader {
	return &UniverseLoader{
		source: source,
		hubs:   hubs,
		logger: logger.With(slog.String("component", "universe_loader")),
	}
}

// Load returns the current universe. It fails when the exchange yields no
// triangle at all.
func (l *UniverseLoader) Load(ctx context.Context) (arbitrage.Universe, error) {
	pairs, err := l.source.ExchangeInfo(ctx)
	if err != nil {
		return arbitrage.Universe{}, fmt.Errorf("service: load universe: %w", err)
	}

	u := arbitrage.BuildUniverse(pairs, l.hubs)
	if len(u.Triangles) == 0 {
		return arbitrage.Universe{}, fmt.Errorf("service: load universe: no triangles among %d pairs", len(pairs))
	}

	l.logger.InfoContext(ctx, "universe loaded",
		slog.Int("listed_pairs", len(pairs)),
		slog.Int("relevant_pairs", len(u.Pairs)),
		slog.Int("triangles", len(u.Triangles)),
		slog.Int("symbols", len(u.Symbols())),
	)
	return u, nil
}
