package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterora/agent-arena/internal/analytics"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/util"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	cp := ps.candlePath("alpaca", "eth/usd", "5M")
	want := filepath.Join("/data", "candles", "alpaca", "ETH-USD", "5m.parquet")
	if cp != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", cp, want)
	}
}

func TestParquetStoreSaveLoadCandles(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	got, written, err := ps.LoadCandles(ctx, "alpaca", "ETH/USD", "5m")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, written.IsZero())

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := []domain.Candle{
		{Timestamp: start.Add(5 * time.Minute), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 10},
		{Timestamp: start, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 20.25},
	}
	require.NoError(t, ps.SaveCandles(ctx, "alpaca", "ETH/USD", "5m", candles))

	got, written, err = ps.LoadCandles(ctx, "alpaca", "ETH/USD", "5m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, written.IsZero())
	assert.Equal(t, candles[1], got[0], "sorted by timestamp")
	assert.Equal(t, candles[0], got[1])

	symbols, err := ps.ListSymbols(ctx, "alpaca")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH-USD"}, symbols)

	none, err := ps.ListSymbols(ctx, "nowhere")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "arena.db"), util.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.db")
	s, err := NewSQLiteStore(path, util.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, util.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestStrategyCRUD(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sl := 0.05

	st := &domain.StrategySpec{
		ID:   "s1",
		Name: "dip buyer",
		Type: "mean_reversion",
		Params: domain.StrategyParams{
			LookbackPeriod: 20,
			BuyThreshold:   0.97,
			StopLoss:       &sl,
		},
		Description: "buys dips",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateStrategy(ctx, st))
	assert.Error(t, s.CreateStrategy(ctx, st), "duplicate id")

	got, err := s.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, st, got)

	st.Name = "renamed"
	st.Params.LookbackPeriod = 30
	require.NoError(t, s.UpdateStrategy(ctx, st))
	got, err = s.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 30, got.Params.LookbackPeriod)

	require.NoError(t, s.CreateStrategy(ctx, &domain.StrategySpec{ID: "s2", Name: "b", Type: "dca", CreatedAt: now.Add(time.Second), UpdatedAt: now}))
	list, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)

	require.NoError(t, s.DeleteStrategy(ctx, "s2"))
	assert.ErrorIs(t, s.DeleteStrategy(ctx, "s2"), domain.ErrNotFound)
	_, err = s.GetStrategy(ctx, "s2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateStrategy(ctx, &domain.StrategySpec{ID: "ghost"}), domain.ErrNotFound)
}

func TestUpdateStrategyStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateStrategy(ctx, &domain.StrategySpec{ID: "s1", Name: "a", Type: "dca"}))

	results := []domain.MatchResult{
		{Rank: 1, ReturnPct: 10, SharpeRatio: 2, MaxDrawdown: 5},
		{Rank: 2, ReturnPct: -2, SharpeRatio: 0, MaxDrawdown: 9},
	}
	for _, r := range results {
		require.NoError(t, s.UpdateStrategyStats(ctx, "s1", func(st domain.StrategyStats) domain.StrategyStats {
			return analytics.Accumulate(st, r)
		}))
	}

	got, err := s.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStats{
		TotalMatches: 2, Wins: 1, WinRate: 0.5, AvgReturn: 4, SharpeRatio: 1, MaxDrawdown: 9,
	}, got.Stats)

	err = s.UpdateStrategyStats(ctx, "ghost", func(st domain.StrategyStats) domain.StrategyStats { return st })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMatchLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	m := &domain.Match{
		ID:     "m1",
		Status: domain.MatchPending,
		Config: domain.MatchConfig{
			InitialCapital: 10000, TradingPair: "ETH/USDC", Timeframe: "5m",
			DurationSteps: 2, FeeRate: 0.002, SlippageRate: 0.001,
		},
		StrategyIDs:  []string{"a", "b"},
		MarketSource: "synthetic",
		MarketKind:   "trending",
		CreatedAt:    created,
	}
	require.NoError(t, s.CreateMatch(ctx, m))

	got, err := s.GetMatch(ctx, "m1", false)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchPending, got.Status)
	assert.Equal(t, m.Config, got.Config)
	assert.Equal(t, []string{"a", "b"}, got.StrategyIDs)
	assert.Nil(t, got.StartTime)
	assert.Empty(t, got.Results)

	start := created.Add(time.Second)
	m.Status = domain.MatchRunning
	m.StartTime = &start
	require.NoError(t, s.UpdateMatchStatus(ctx, m))

	end := start.Add(time.Minute)
	m.Status = domain.MatchCompleted
	m.EndTime = &end
	m.Results = []domain.MatchResult{
		{StrategyID: "b", FinalValue: 11000, ReturnPct: 10, TotalTrades: 1, Rank: 1},
		{StrategyID: "a", FinalValue: 10000, ReturnPct: 0, Rank: 2},
	}
	m.Log = []domain.LogEntry{
		{Step: 0, StrategyID: "a", Action: domain.Hold("ETH"), Portfolio: domain.PortfolioSnapshot{Cash: 10000, Positions: map[string]float64{}, TotalValue: 10000}, Price: 100},
		{Step: 0, StrategyID: "b", Action: domain.Buy("ETH", 10000), Filled: true, Portfolio: domain.PortfolioSnapshot{Cash: 0, Positions: map[string]float64{"ETH": 100}, TotalValue: 10000}, Price: 100},
	}
	hist := map[string][]float64{"a": {10000, 10000, 10000}, "b": {10000, 10000, 11000}}
	require.NoError(t, s.CompleteMatch(ctx, m, hist))

	got, err = s.GetMatch(ctx, "m1", true)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCompleted, got.Status)
	require.NotNil(t, got.StartTime)
	assert.True(t, start.Equal(*got.StartTime))
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.Equal(t, m.Results, got.Results)
	assert.Equal(t, m.Log, got.Log)

	noLogs, err := s.GetMatch(ctx, "m1", false)
	require.NoError(t, err)
	assert.Empty(t, noLogs.Log)

	vh, err := s.ValueHistory(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, hist["b"], vh)
	_, err = s.ValueHistory(ctx, "m1", "zzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetMatch(ctx, "nope", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMatchesNewestFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.CreateMatch(ctx, &domain.Match{
			ID: id, Status: domain.MatchFailed, StrategyIDs: []string{"x"},
			ErrorMessage: "insufficient market data",
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}))
	}

	list, err := s.ListMatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "insufficient market data", list[0].ErrorMessage)
}
