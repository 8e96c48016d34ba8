// Package httpapi exposes the arena service as a JSON REST API.
package httpapi

import (
	"github.com/Masterora/agent-arena/internal/domain"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version,omitempty"`
	Sources    []string `json:"sources"`
	Strategies []string `json:"strategy_types"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValueHistoryResponse is one strategy's value curve in a match.
type ValueHistoryResponse struct {
	MatchID    string    `json:"match_id"`
	StrategyID string    `json:"strategy_id"`
	Values     []float64 `json:"values"`
}

// CandlesResponse wraps a previewed candle series.
type CandlesResponse struct {
	Source    string          `json:"source"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Candles   []domain.Candle `json:"candles"`
}

// SymbolsResponse lists cached symbols keyed by market source.
type SymbolsResponse struct {
	Sources map[string][]string `json:"sources"`
}
