// Package store defines storage interfaces for strategies and matches with
// a SQLite implementation, plus the Parquet candle cache.
package store

import (
	"context"

	"github.com/Masterora/agent-arena/internal/domain"
)

// StrategyStore persists registered strategy definitions and their career
// statistics.
type StrategyStore interface {
	// CreateStrategy inserts a new strategy.
	CreateStrategy(ctx context.Context, s *domain.StrategySpec) error

	// GetStrategy retrieves a strategy by id or returns domain.ErrNotFound.
	GetStrategy(ctx context.Context, id string) (*domain.StrategySpec, error)

	// ListStrategies returns all strategies, oldest first.
	ListStrategies(ctx context.Context) ([]domain.StrategySpec, error)

	// UpdateStrategy persists name, type, params, code and description.
	UpdateStrategy(ctx context.Context, s *domain.StrategySpec) error

	// DeleteStrategy removes a strategy.
	DeleteStrategy(ctx context.Context, id string) error

	// UpdateStrategyStats applies fn to the stored stats inside one
	// transaction.
	UpdateStrategyStats(ctx context.Context, id string, fn func(domain.StrategyStats) domain.StrategyStats) error
}

// MatchStore persists matches, their results, value histories and step
// logs.
type MatchStore interface {
	// CreateMatch inserts a new match header.
	CreateMatch(ctx context.Context, m *domain.Match) error

	// UpdateMatchStatus persists status, times and error message.
	UpdateMatchStatus(ctx context.Context, m *domain.Match) error

	// CompleteMatch persists the final header, per-strategy results with
	// their value histories, and the step log in one transaction.
	CompleteMatch(ctx context.Context, m *domain.Match, histories map[string][]float64) error

	// GetMatch retrieves a match with its results; the step log is loaded
	// only when includeLogs is set.
	GetMatch(ctx context.Context, id string, includeLogs bool) (*domain.Match, error)

	// ListMatches returns up to limit matches, newest first.
	ListMatches(ctx context.Context, limit int) ([]domain.Match, error)

	// ValueHistory returns one strategy's recorded values in a match.
	ValueHistory(ctx context.Context, matchID, strategyID string) ([]float64, error)
}
