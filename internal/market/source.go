// Package market supplies the candle series a match is played on: seeded
// synthetic generators, Alpaca crypto bars and a parquet-backed cache in
// front of either.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterora/agent-arena/internal/domain"
)

// Request describes the series a match needs. Steps is the number of
// candles wanted; MinSteps, when set, is the fewest a source may return
// instead of failing.
type Request struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Steps     int       `json:"steps"`
	MinSteps  int       `json:"min_steps,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Seed      int64     `json:"seed,omitempty"`
	End       time.Time `json:"end,omitempty"`
}

// Validate checks the fields every source relies on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("symbol required: %w", domain.ErrInvalidConfig)
	}
	if r.Steps <= 0 {
		return fmt.Errorf("steps %d must be positive: %w", r.Steps, domain.ErrInvalidConfig)
	}
	if r.MinSteps < 0 || r.MinSteps > r.Steps {
		return fmt.Errorf("min_steps %d not in [0, %d]: %w", r.MinSteps, r.Steps, domain.ErrInvalidConfig)
	}
	return nil
}

// required is the fewest candles that satisfy r.
func (r Request) required() int {
	if r.MinSteps > 0 {
		return r.MinSteps
	}
	return r.Steps
}

// Source produces an ordered, fully materialized candle series of at most
// Steps candles. A source that cannot supply the required count fails with
// domain.ErrInsufficientData.
type Source interface {
	Name() string
	Candles(ctx context.Context, req Request) ([]domain.Candle, error)
}

// Sources is a name-keyed set of market sources.
type Sources struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewSources returns a set holding srcs keyed by Name().
func NewSources(srcs ...Source) *Sources {
	s := &Sources{sources: make(map[string]Source, len(srcs))}
	for _, src := range srcs {
		s.Add(src)
	}
	return s
}

// Add registers src, replacing any source with the same name.
func (s *Sources) Add(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.Name()] = src
}

// Get returns the named source.
func (s *Sources) Get(name string) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("market source %q: %w", name, domain.ErrInvalidConfig)
	}
	return src, nil
}

// Names returns the registered source names, sorted.
func (s *Sources) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CachedSymbols returns, per caching source, the symbols it holds on disk.
// Sources without a cache are omitted.
func (s *Sources) CachedSymbols(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for name, src := range s.sources {
		c, ok := src.(*Cached)
		if !ok {
			continue
		}
		symbols, err := c.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("cached symbols of %s: %w", name, err)
		}
		if symbols == nil {
			symbols = []string{}
		}
		out[name] = symbols
	}
	return out, nil
}

// tail returns the last req.Steps candles, or all of them when there are
// fewer but still at least req.MinSteps.
func tail(candles []domain.Candle, req Request) ([]domain.Candle, error) {
	if need := req.required(); len(candles) < need {
		return nil, fmt.Errorf("got %d candles, need %d: %w", len(candles), need, domain.ErrInsufficientData)
	}
	if len(candles) > req.Steps {
		candles = candles[len(candles)-req.Steps:]
	}
	return candles, nil
}
