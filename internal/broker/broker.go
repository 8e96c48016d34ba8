// Package broker defines the Broker interface and the simulated executor
// that turns trade intents into portfolio mutations.
package broker

import (
	"github.com/Masterora/agent-arena/internal/domain"
)

// Broker executes trade intents against one strategy's account.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Execute applies action at price. A nil Fill with a nil error means the
	// intent was a hold or was rejected as a dust trade.
	Execute(acct *Account, action domain.Action, price float64) (*Fill, error)
}

// Account is the per-strategy execution state owned by the match engine:
// the portfolio, the weighted-average cost basis per asset and the number
// of sells that closed above cost.
type Account struct {
	Portfolio *domain.Portfolio
	CostBasis map[string]float64
	Wins      int
	Sells     int
}

// NewAccount wraps p with an empty cost basis.
func NewAccount(p *domain.Portfolio) *Account {
	return &Account{
		Portfolio: p,
		CostBasis: make(map[string]float64),
	}
}

// Fill describes an executed trade.
type Fill struct {
	Side     domain.ActionType
	Asset    string
	Quantity float64
	Price    float64
	Notional float64
	Fee      float64
	Slippage float64
	Win      bool
}
