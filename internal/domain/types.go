// Package domain holds the value types shared by the match engine, its
// collaborators and the surrounding service.
package domain

import (
	"strings"
	"time"
)

// Candle is one OHLCV bar of the traded pair.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ActionType is the kind of trade intent a strategy emits.
type ActionType string

const (
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
	ActionHold ActionType = "hold"
)

// Valid reports whether t is one of the known action kinds.
func (t ActionType) Valid() bool {
	switch t {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Action is a trade intent. For buys Amount is the cash to spend; for sells
// it is the asset quantity to liquidate.
type Action struct {
	Type   ActionType `json:"type"`
	Asset  string     `json:"asset"`
	Amount float64    `json:"amount"`
}

// Hold returns the no-op intent for asset.
func Hold(asset string) Action {
	return Action{Type: ActionHold, Asset: asset}
}

// Buy returns an intent to spend amount of cash on asset.
func Buy(asset string, amount float64) Action {
	return Action{Type: ActionBuy, Asset: asset, Amount: amount}
}

// Sell returns an intent to liquidate qty units of asset.
func Sell(asset string, qty float64) Action {
	return Action{Type: ActionSell, Asset: asset, Amount: qty}
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchRunning   MatchStatus = "running"
	MatchCompleted MatchStatus = "completed"
	MatchFailed    MatchStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchFailed
}

// MatchConfig is the engine-facing configuration of one match.
type MatchConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	TradingPair    string  `json:"trading_pair"`
	Timeframe      string  `json:"timeframe"`
	DurationSteps  int     `json:"duration_steps"`
	FeeRate        float64 `json:"fee_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
}

// BaseAsset returns the traded asset of the pair, e.g. "ETH" for "ETH/USDC".
func (c MatchConfig) BaseAsset() string {
	pair := strings.TrimSpace(c.TradingPair)
	if i := strings.IndexAny(pair, "/-"); i > 0 {
		return strings.ToUpper(pair[:i])
	}
	return strings.ToUpper(pair)
}

// StrategyParams configures one strategy instance. Zero values are replaced
// by per-type defaults when the strategy is built.
type StrategyParams struct {
	LookbackPeriod int      `json:"lookback_period"`
	BuyThreshold   float64  `json:"buy_threshold"`
	SellThreshold  float64  `json:"sell_threshold"`
	PositionSize   float64  `json:"position_size"`
	MaxPositionPct float64  `json:"max_position_pct"`
	StopLoss       *float64 `json:"stop_loss,omitempty"`
	TakeProfit     *float64 `json:"take_profit,omitempty"`
}

// DefaultMaxPositionPct caps a single asset at half of the portfolio.
const DefaultMaxPositionPct = 0.5

// StrategyStats are career statistics accumulated over completed matches.
type StrategyStats struct {
	TotalMatches int     `json:"total_matches"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	AvgReturn    float64 `json:"avg_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// StrategySpec is a registered strategy definition.
type StrategySpec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Params      StrategyParams `json:"params"`
	Code        string         `json:"code,omitempty"`
	Description string         `json:"description,omitempty"`
	Stats       StrategyStats  `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PortfolioSnapshot is a rounded, detached copy of a portfolio for logs.
type PortfolioSnapshot struct {
	Cash       float64            `json:"cash"`
	Positions  map[string]float64 `json:"positions"`
	TotalValue float64            `json:"total_value"`
}

// LogEntry records what one strategy did in one step.
type LogEntry struct {
	Step       int               `json:"step"`
	StrategyID string            `json:"strategy_id"`
	Action     Action            `json:"action"`
	Filled     bool              `json:"filled"`
	Forced     string            `json:"forced,omitempty"`
	Portfolio  PortfolioSnapshot `json:"portfolio"`
	Price      float64           `json:"price"`
}

// MatchResult is the final per-strategy record of a match.
type MatchResult struct {
	StrategyID  string  `json:"strategy_id"`
	FinalValue  float64 `json:"final_value"`
	ReturnPct   float64 `json:"return_pct"`
	TotalTrades int     `json:"total_trades"`
	WinTrades   int     `json:"win_trades"`
	SellTrades  int     `json:"sell_trades"`
	WinRate     float64 `json:"win_rate"`
	Rank        int     `json:"rank"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// Match aggregates configuration, participants, the execution log and the
// final results of a single competition.
type Match struct {
	ID           string        `json:"id"`
	Status       MatchStatus   `json:"status"`
	Config       MatchConfig   `json:"config"`
	StrategyIDs  []string      `json:"strategy_ids"`
	MarketSource string        `json:"market_source,omitempty"`
	MarketKind   string        `json:"market_kind,omitempty"`
	StartTime    *time.Time    `json:"start_time,omitempty"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Results      []MatchResult `json:"results"`
	Log          []LogEntry    `json:"log,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
