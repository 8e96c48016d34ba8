package strategy

import (
	"fmt"

	"github.com/Masterora/agent-arena/internal/domain"
)

// MaxLookback bounds the lookback window a strategy may request.
const MaxLookback = 200

// WithDefaults returns p with every zero field taken from defaults.
// MaxPositionPct falls back to domain.DefaultMaxPositionPct when neither
// sets it.
func WithDefaults(p, defaults domain.StrategyParams) domain.StrategyParams {
	if p.LookbackPeriod == 0 {
		p.LookbackPeriod = defaults.LookbackPeriod
	}
	if p.BuyThreshold == 0 {
		p.BuyThreshold = defaults.BuyThreshold
	}
	if p.SellThreshold == 0 {
		p.SellThreshold = defaults.SellThreshold
	}
	if p.PositionSize == 0 {
		p.PositionSize = defaults.PositionSize
	}
	if p.MaxPositionPct == 0 {
		p.MaxPositionPct = defaults.MaxPositionPct
	}
	if p.MaxPositionPct == 0 {
		p.MaxPositionPct = domain.DefaultMaxPositionPct
	}
	if p.StopLoss == nil {
		p.StopLoss = defaults.StopLoss
	}
	if p.TakeProfit == nil {
		p.TakeProfit = defaults.TakeProfit
	}
	return p
}

// Validate checks that p is within the accepted ranges.
func Validate(p domain.StrategyParams) error {
	switch {
	case p.LookbackPeriod < 1 || p.LookbackPeriod > MaxLookback:
		return fmt.Errorf("lookback_period %d not in [1, %d]: %w", p.LookbackPeriod, MaxLookback, domain.ErrInvalidConfig)
	case p.BuyThreshold <= 0:
		return fmt.Errorf("buy_threshold %v must be positive: %w", p.BuyThreshold, domain.ErrInvalidConfig)
	case p.SellThreshold <= 0:
		return fmt.Errorf("sell_threshold %v must be positive: %w", p.SellThreshold, domain.ErrInvalidConfig)
	case p.PositionSize <= 0 || p.PositionSize > 1:
		return fmt.Errorf("position_size %v not in (0, 1]: %w", p.PositionSize, domain.ErrInvalidConfig)
	case p.MaxPositionPct <= 0 || p.MaxPositionPct > 1:
		return fmt.Errorf("max_position_pct %v not in (0, 1]: %w", p.MaxPositionPct, domain.ErrInvalidConfig)
	case p.StopLoss != nil && (*p.StopLoss <= 0 || *p.StopLoss >= 1):
		return fmt.Errorf("stop_loss %v not in (0, 1): %w", *p.StopLoss, domain.ErrInvalidConfig)
	case p.TakeProfit != nil && *p.TakeProfit <= 1:
		return fmt.Errorf("take_profit %v must exceed 1: %w", *p.TakeProfit, domain.ErrInvalidConfig)
	}
	return nil
}
