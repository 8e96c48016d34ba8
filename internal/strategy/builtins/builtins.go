// Package builtins provides the strategy implementations that ship with the
// arena: mean reversion, momentum, periodic accumulation and user scripts.
package builtins

import (
	"time"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// Type tags accepted by the registry.
const (
	TypeMeanReversion = "mean_reversion"
	TypeMomentum      = "momentum"
	TypeDCA           = "dca"
	TypeScript        = "script"
)

// minCashFraction is the share of initial capital a signal strategy keeps in
// reserve; below it, buy signals are ignored.
const minCashFraction = 0.1

// Register adds every built-in strategy type to r. scriptTimeout bounds a
// single decide call of a script strategy.
func Register(r *strategy.Registry, scriptTimeout time.Duration) {
	r.Register(TypeMeanReversion, domain.StrategyParams{
		LookbackPeriod: 20,
		BuyThreshold:   0.97,
		SellThreshold:  1.03,
		PositionSize:   0.2,
	}, NewMeanReversion)

	r.Register(TypeMomentum, domain.StrategyParams{
		LookbackPeriod: 10,
		BuyThreshold:   1.02,
		SellThreshold:  0.98,
		PositionSize:   0.3,
	}, NewMomentum)

	r.Register(TypeDCA, domain.StrategyParams{
		LookbackPeriod: 10,
		BuyThreshold:   1,
		SellThreshold:  1,
		PositionSize:   0.1,
	}, NewDCA)

	r.Register(TypeScript, domain.StrategyParams{
		LookbackPeriod: 20,
		BuyThreshold:   1,
		SellThreshold:  1,
		PositionSize:   0.1,
	}, ScriptFactory(scriptTimeout))
}

// NewRegistry returns a registry holding all built-in types.
func NewRegistry(scriptTimeout time.Duration) *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r, scriptTimeout)
	return r
}

func lastClose(history []domain.Candle) float64 {
	return history[len(history)-1].Close
}
