package engine

import (
	"github.com/Masterora/agent-arena/internal/broker"
	"github.com/Masterora/agent-arena/internal/domain"
)

// Forced exit reasons recorded in the step log.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// RiskManager enforces one strategy's risk rules: stop-loss and take-profit
// exits measured against cost basis, and the single-asset position cap.
type RiskManager struct {
	maxPositionPct float64
	stopLoss       *float64
	takeProfit     *float64
}

// NewRiskManager creates a RiskManager from resolved strategy params.
//
//   - MaxPositionPct: maximum fraction of total value held in the asset
//     before further buys are refused (e.g. 0.5).
//   - StopLoss: fractional drop below cost basis that forces an exit
//     (e.g. 0.05).
//   - TakeProfit: multiple of cost basis that forces an exit (e.g. 1.2).
func NewRiskManager(p domain.StrategyParams) *RiskManager {
	pct := p.MaxPositionPct
	if pct <= 0 {
		pct = domain.DefaultMaxPositionPct
	}
	return &RiskManager{
		maxPositionPct: pct,
		stopLoss:       p.StopLoss,
		takeProfit:     p.TakeProfit,
	}
}

// ForcedExit returns a sell of the whole holding of asset when price has
// crossed the stop-loss or take-profit level, together with the reason. It
// reports false when the account holds nothing or has no cost basis.
func (rm *RiskManager) ForcedExit(acct *broker.Account, asset string, price float64) (domain.Action, string, bool) {
	qty := acct.Portfolio.Quantity(asset)
	cost, ok := acct.CostBasis[asset]
	if qty <= 0 || !ok || cost <= 0 {
		return domain.Action{}, "", false
	}

	ratio := price / cost
	if rm.stopLoss != nil && ratio <= 1-*rm.stopLoss {
		return domain.Sell(asset, qty), ReasonStopLoss, true
	}
	if rm.takeProfit != nil && ratio >= *rm.takeProfit {
		return domain.Sell(asset, qty), ReasonTakeProfit, true
	}
	return domain.Action{}, "", false
}

// CapBuy downgrades a buy to hold when the value already held in the asset
// meets or exceeds the position cap. The portfolio's TotalValue must be
// marked at price. Non-buy actions pass through.
func (rm *RiskManager) CapBuy(p *domain.Portfolio, action domain.Action, price float64) (domain.Action, bool) {
	if action.Type != domain.ActionBuy {
		return action, false
	}
	held := p.Quantity(action.Asset) * price
	if held >= rm.maxPositionPct*p.TotalValue {
		return domain.Hold(action.Asset), true
	}
	return action, false
}
