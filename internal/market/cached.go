package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/Masterora/agent-arena/internal/domain"
)

// CandleCache persists fetched series keyed by source, symbol and timeframe.
type CandleCache interface {
	// LoadCandles returns the cached series and when it was written. A
	// missing entry returns no candles and a zero time.
	LoadCandles(ctx context.Context, source, symbol, timeframe string) ([]domain.Candle, time.Time, error)

	// SaveCandles replaces the cached series.
	SaveCandles(ctx context.Context, source, symbol, timeframe string, candles []domain.Candle) error

	// ListSymbols returns the symbols cached for source, sorted.
	ListSymbols(ctx context.Context, source string) ([]string, error)
}

// Compile-time interface check.
var _ Source = (*Cached)(nil)

// Cached serves fresh, long enough cache entries and otherwise refreshes
// them from the upstream source. Requests pinned to an End time bypass the
// cache.
type Cached struct {
	upstream Source
	cache    CandleCache
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewCached wraps upstream with cache entries valid for ttl.
func NewCached(upstream Source, cache CandleCache, ttl time.Duration) *Cached {
	return &Cached{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
		log:      slog.Default().With("source", upstream.Name(), "cache", "parquet"),
	}
}

// Name returns the upstream name; caching is transparent.
func (c *Cached) Name() string { return c.upstream.Name() }

// Symbols lists the symbols with a cached series for this source.
func (c *Cached) Symbols(ctx context.Context) ([]string, error) {
	return c.cache.ListSymbols(ctx, c.upstream.Name())
}

func (c *Cached) Candles(ctx context.Context, req Request) ([]domain.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !req.End.IsZero() {
		return c.upstream.Candles(ctx, req)
	}

	name := c.upstream.Name()
	cached, written, err := c.cache.LoadCandles(ctx, name, req.Symbol, req.Timeframe)
	if err != nil {
		c.log.Warn("cache read failed", "symbol", req.Symbol, "error", err)
	} else if len(cached) >= req.Steps && c.now().Sub(written) < c.ttl {
		c.log.Debug("cache hit", "symbol", req.Symbol, "timeframe", req.Timeframe)
		return tail(cached, req)
	}

	candles, err := c.upstream.Candles(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SaveCandles(ctx, name, req.Symbol, req.Timeframe, candles); err != nil {
		c.log.Warn("cache write failed", "symbol", req.Symbol, "error", err)
	}
	return candles, nil
}
