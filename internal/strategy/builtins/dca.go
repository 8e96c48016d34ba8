package builtins

import (
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*DCA)(nil)

// DCA buys position_size of the initial capital every lookback_period steps,
// regardless of price, as long as cash covers the full amount.
type DCA struct {
	interval int
	amount   float64
	asset    string
}

// NewDCA is the registry factory for TypeDCA.
func NewDCA(spec domain.StrategySpec, env strategy.Env) (strategy.Strategy, error) {
	return &DCA{
		interval: spec.Params.LookbackPeriod,
		amount:   spec.Params.PositionSize * env.InitialCapital,
		asset:    env.Asset,
	}, nil
}

// Name returns "dca".
func (s *DCA) Name() string {
	return TypeDCA
}

func (s *DCA) Decide(_ []domain.Candle, step int, pf domain.PortfolioView) (domain.Action, error) {
	if step%s.interval == 0 && pf.Cash() >= s.amount {
		return domain.Buy(s.asset, s.amount), nil
	}
	return domain.Hold(s.asset), nil
}
