package market

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/util"
)

// Synthetic market kinds.
const (
	KindRandom   = "random"
	KindTrending = "trending"
	KindRanging  = "ranging"
)

// Generator defaults.
const (
	DefaultStartPrice = 2000.0
	PriceFloor        = 100.0

	randomVolatility   = 0.02
	trendingDrift      = 0.001
	trendingVolatility = 0.015
	rangingWidth       = 0.05
)

// Compile-time interface check.
var _ Source = (*Synthetic)(nil)

// Synthetic generates seeded price series. Equal requests with a non-zero
// seed produce identical candles.
type Synthetic struct {
	StartPrice float64
	now        func() time.Time
}

// NewSynthetic returns a generator starting at DefaultStartPrice.
func NewSynthetic() *Synthetic {
	return &Synthetic{StartPrice: DefaultStartPrice, now: time.Now}
}

// Name returns "synthetic".
func (s *Synthetic) Name() string { return "synthetic" }

// Kinds lists the supported series shapes.
func (s *Synthetic) Kinds() []string {
	return []string{KindRandom, KindTrending, KindRanging}
}

// Candles generates req.Steps candles ending at req.End (now when zero).
// A zero seed draws a fresh one.
func (s *Synthetic) Candles(ctx context.Context, req Request) ([]domain.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := req.Timeframe
	if tf == "" {
		tf = "5m"
	}
	step, err := util.ParseTimeframe(tf)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidConfig)
	}

	seed := uint64(req.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var closes []float64
	switch req.Kind {
	case "", KindRandom:
		closes = s.walk(rng, req.Steps, 0, randomVolatility)
	case KindTrending:
		closes = s.walk(rng, req.Steps, trendingDrift, trendingVolatility)
	case KindRanging:
		closes = s.ranging(rng, req.Steps, rangingWidth)
	default:
		return nil, fmt.Errorf("synthetic kind %q: %w", req.Kind, domain.ErrInvalidConfig)
	}

	end := req.End
	if end.IsZero() {
		end = s.now()
	}
	end = end.UTC().Truncate(step)
	start := end.Add(-time.Duration(req.Steps-1) * step)

	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = bar(rng, start.Add(time.Duration(i)*step), c)
	}
	return candles, nil
}

func (s *Synthetic) walk(rng *rand.Rand, n int, drift, vol float64) []float64 {
	prices := make([]float64, n)
	prices[0] = s.start()
	for i := 1; i < n; i++ {
		change := drift + vol*rng.NormFloat64()
		prices[i] = math.Max(prices[i-1]*(1+change), PriceFloor)
	}
	return prices
}

func (s *Synthetic) ranging(rng *rand.Rand, n int, width float64) []float64 {
	center := s.start()
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = math.Max(center*(1+uniform(rng, -width, width)), PriceFloor)
	}
	return prices
}

func (s *Synthetic) start() float64 {
	if s.StartPrice > 0 {
		return s.StartPrice
	}
	return DefaultStartPrice
}

func bar(rng *rand.Rand, ts time.Time, price float64) domain.Candle {
	open := price * (1 + uniform(rng, -0.005, 0.005))
	return domain.Candle{
		Timestamp: ts,
		Open:      open,
		High:      math.Max(open, price) * (1 + uniform(rng, 0, 0.01)),
		Low:       math.Min(open, price) * (1 - uniform(rng, 0, 0.01)),
		Close:     price,
		Volume:    uniform(rng, 100, 1000),
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}
