package builtins

import (
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum)(nil)

// Momentum compares the current close with the close lookback bars back
// (inclusive of the current bar) and follows the trend.
type Momentum struct {
	params domain.StrategyParams
	env    strategy.Env
}

// NewMomentum is the registry factory for TypeMomentum.
func NewMomentum(spec domain.StrategySpec, env strategy.Env) (strategy.Strategy, error) {
	return &Momentum{params: spec.Params, env: env}, nil
}

// Name returns "momentum".
func (s *Momentum) Name() string {
	return TypeMomentum
}

func (s *Momentum) Decide(history []domain.Candle, _ int, pf domain.PortfolioView) (domain.Action, error) {
	n := s.params.LookbackPeriod
	if len(history) < n {
		return domain.Hold(s.env.Asset), nil
	}
	past := history[len(history)-n].Close
	if past <= 0 {
		return domain.Hold(s.env.Asset), nil
	}
	ratio := lastClose(history) / past

	switch {
	case ratio > s.params.BuyThreshold:
		if pf.Cash() > s.env.InitialCapital*minCashFraction {
			return domain.Buy(s.env.Asset, pf.Cash()*s.params.PositionSize), nil
		}
	case ratio < s.params.SellThreshold:
		if qty := pf.Quantity(s.env.Asset); qty > 0 {
			return domain.Sell(s.env.Asset, qty*0.5), nil
		}
	}
	return domain.Hold(s.env.Asset), nil
}
