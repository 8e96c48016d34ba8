package builtins

import (
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MeanReversion)(nil)

// MeanReversion buys when the close drops below its trailing average by the
// buy threshold and sells half the holding when it rises above it by the
// sell threshold.
type MeanReversion struct {
	params domain.StrategyParams
	env    strategy.Env
}

// NewMeanReversion is the registry factory for TypeMeanReversion.
func NewMeanReversion(spec domain.StrategySpec, env strategy.Env) (strategy.Strategy, error) {
	return &MeanReversion{params: spec.Params, env: env}, nil
}

// Name returns "mean_reversion".
func (s *MeanReversion) Name() string {
	return TypeMeanReversion
}

func (s *MeanReversion) Decide(history []domain.Candle, _ int, pf domain.PortfolioView) (domain.Action, error) {
	n := s.params.LookbackPeriod
	if len(history) < n {
		return domain.Hold(s.env.Asset), nil
	}

	var sum float64
	for _, c := range history[len(history)-n:] {
		sum += c.Close
	}
	avg := sum / float64(n)
	price := lastClose(history)

	switch {
	case price < avg*s.params.BuyThreshold:
		if pf.Cash() > s.env.InitialCapital*minCashFraction {
			return domain.Buy(s.env.Asset, pf.Cash()*s.params.PositionSize), nil
		}
	case price > avg*s.params.SellThreshold:
		if qty := pf.Quantity(s.env.Asset); qty > 0 {
			return domain.Sell(s.env.Asset, qty*0.5), nil
		}
	}
	return domain.Hold(s.env.Asset), nil
}
