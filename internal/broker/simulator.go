package broker

import (
	"fmt"
	"math"

	"github.com/Masterora/agent-arena/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

const (
	DefaultFeeRate      = 0.002
	DefaultSlippageRate = 0.001

	// MinTradeValue is the smallest cash amount a buy may spend.
	MinTradeValue = 10.0
	// MinSellQty is the smallest quantity a sell may liquidate.
	MinSellQty = 0.001
	// DustQty is the residual holding snapped to zero after a sell.
	DustQty = 0.0001
)

// SimulatorBroker fills every intent immediately at the given price, charging
// a flat fee and a flat slippage on both legs.
type SimulatorBroker struct {
	feeRate      float64
	slippageRate float64
}

// NewSimulatorBroker creates a SimulatorBroker with the given rates. Rates
// must be non-negative and below 1.
func NewSimulatorBroker(feeRate, slippageRate float64) (*SimulatorBroker, error) {
	if feeRate < 0 || slippageRate < 0 || feeRate+slippageRate >= 1 {
		return nil, fmt.Errorf("fee rate %v, slippage rate %v: %w", feeRate, slippageRate, domain.ErrInvalidConfig)
	}
	return &SimulatorBroker{feeRate: feeRate, slippageRate: slippageRate}, nil
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// FeeRate returns the configured fee rate.
func (b *SimulatorBroker) FeeRate() float64 { return b.feeRate }

// SlippageRate returns the configured slippage rate.
func (b *SimulatorBroker) SlippageRate() float64 { return b.slippageRate }

// Execute dispatches buys and sells; holds never mutate the account.
func (b *SimulatorBroker) Execute(acct *Account, action domain.Action, price float64) (*Fill, error) {
	if action.Type == domain.ActionHold {
		return nil, nil
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("execution price %v must be positive", price)
	}
	if math.IsNaN(action.Amount) || action.Amount < 0 {
		return nil, fmt.Errorf("action amount %v must be non-negative", action.Amount)
	}
	switch action.Type {
	case domain.ActionBuy:
		return b.buy(acct, action.Asset, action.Amount, price), nil
	case domain.ActionSell:
		return b.sell(acct, action.Asset, action.Amount, price), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (b *SimulatorBroker) buy(acct *Account, asset string, spend, price float64) *Fill {
	p := acct.Portfolio
	if spend > p.Cash {
		spend = p.Cash
	}
	if spend < MinTradeValue {
		return nil
	}

	fee := spend * b.feeRate
	slippage := spend * b.slippageRate
	qty := (spend - fee - slippage) / price

	oldQty := p.Positions[asset]
	if oldCost, ok := acct.CostBasis[asset]; ok && oldQty > 0 {
		acct.CostBasis[asset] = (oldQty*oldCost + qty*price) / (oldQty + qty)
	} else {
		acct.CostBasis[asset] = price
	}

	p.Cash -= spend
	if p.Cash < 0 {
		p.Cash = 0
	}
	p.Positions[asset] = oldQty + qty

	return &Fill{
		Side:     domain.ActionBuy,
		Asset:    asset,
		Quantity: qty,
		Price:    price,
		Notional: spend,
		Fee:      fee,
		Slippage: slippage,
	}
}

func (b *SimulatorBroker) sell(acct *Account, asset string, qty, price float64) *Fill {
	p := acct.Portfolio
	held := p.Positions[asset]
	if qty > held {
		qty = held
	}
	if qty < MinSellQty {
		return nil
	}

	cost, hasCost := acct.CostBasis[asset]
	win := hasCost && price > cost
	acct.Sells++
	if win {
		acct.Wins++
	}

	revenue := qty * price
	fee := revenue * b.feeRate
	slippage := revenue * b.slippageRate
	p.Cash += revenue - fee - slippage

	remaining := held - qty
	if remaining < DustQty {
		delete(p.Positions, asset)
		delete(acct.CostBasis, asset)
	} else {
		p.Positions[asset] = remaining
	}

	return &Fill{
		Side:     domain.ActionSell,
		Asset:    asset,
		Quantity: qty,
		Price:    price,
		Notional: revenue,
		Fee:      fee,
		Slippage: slippage,
		Win:      win,
	}
}
