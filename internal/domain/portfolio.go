package domain

import "maps"

// Portfolio is the cash and single-asset holdings of one strategy for the
// duration of one match. Only the trade executor mutates it.
type Portfolio struct {
	StrategyID string
	Cash       float64
	Positions  map[string]float64
	TotalValue float64
}

// NewPortfolio returns a portfolio funded with capital and no positions.
func NewPortfolio(strategyID string, capital float64) *Portfolio {
	return &Portfolio{
		StrategyID: strategyID,
		Cash:       capital,
		Positions:  make(map[string]float64),
		TotalValue: capital,
	}
}

// Quantity returns the held quantity of asset (0 when absent).
func (p *Portfolio) Quantity(asset string) float64 {
	return p.Positions[asset]
}

// UpdateValue recomputes TotalValue as cash plus every position marked at
// prices. Assets missing from prices are valued at zero.
func (p *Portfolio) UpdateValue(prices map[string]float64) float64 {
	total := p.Cash
	for asset, qty := range p.Positions {
		total += qty * prices[asset]
	}
	p.TotalValue = total
	return total
}

// View returns a detached read-only copy handed to strategies.
func (p *Portfolio) View() PortfolioView {
	return PortfolioView{
		cash:       p.Cash,
		positions:  maps.Clone(p.Positions),
		totalValue: p.TotalValue,
	}
}

// PortfolioView is an immutable snapshot of a Portfolio.
type PortfolioView struct {
	cash       float64
	positions  map[string]float64
	totalValue float64
}

// NewPortfolioView builds a view from raw values, mostly for tests and
// scripted strategies.
func NewPortfolioView(cash float64, positions map[string]float64, totalValue float64) PortfolioView {
	return PortfolioView{cash: cash, positions: maps.Clone(positions), totalValue: totalValue}
}

func (v PortfolioView) Cash() float64       { return v.cash }
func (v PortfolioView) TotalValue() float64 { return v.totalValue }

// Quantity returns the held quantity of asset.
func (v PortfolioView) Quantity(asset string) float64 { return v.positions[asset] }

// Positions returns a copy of all holdings.
func (v PortfolioView) Positions() map[string]float64 {
	out := maps.Clone(v.positions)
	if out == nil {
		out = map[string]float64{}
	}
	return out
}
