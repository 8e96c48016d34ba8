// Package engine runs a match: it owns every participant's portfolio, cost
// basis and value history, consults risk controls and strategies once per
// step, and produces ranked results when the match is finalized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/Masterora/agent-arena/internal/analytics"
	"github.com/Masterora/agent-arena/internal/broker"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
	"github.com/Masterora/agent-arena/internal/util"
)

// DefaultTimeframe is the bar interval assumed when a match does not set one.
const DefaultTimeframe = "5m"

// StepEvent describes one executed step. Entries holds the log entries of
// the strategies that acted successfully; Values holds every strategy's
// marked total value.
type StepEvent struct {
	MatchID string             `json:"match_id"`
	Step    int                `json:"step"`
	Price   float64            `json:"price"`
	Entries []domain.LogEntry  `json:"entries"`
	Values  map[string]float64 `json:"values"`
}

// Option configures optional engine behaviour.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithBroker replaces the simulator built from the match fee and slippage.
func WithBroker(b broker.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// WithMeter records engine metrics on m instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// WithMatchID fixes the id of the match Initialize creates.
func WithMatchID(id string) Option {
	return func(e *Engine) { e.matchID = id }
}

// WithStepHook registers fn to be called synchronously after every step.
func WithStepHook(fn func(StepEvent)) Option {
	return func(e *Engine) { e.onStep = fn }
}

type participant struct {
	spec    domain.StrategySpec
	strat   strategy.Strategy
	acct    *broker.Account
	risk    *RiskManager
	history []float64
}

// Engine simulates one match. It is not safe for concurrent use; run
// independent matches on independent engines.
type Engine struct {
	cfg          domain.MatchConfig
	asset        string
	stepsPerYear float64
	registry     *strategy.Registry
	broker       broker.Broker
	log          *slog.Logger
	meter        metric.Meter
	metrics      *engineMetrics
	matchID      string
	onStep       func(StepEvent)

	match        *domain.Match
	participants []*participant
}

// NewEngine validates cfg and returns an engine ready to Initialize.
func NewEngine(cfg domain.MatchConfig, registry *strategy.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("strategy registry required: %w", domain.ErrInvalidConfig)
	}
	if !(cfg.InitialCapital > 0) || math.IsInf(cfg.InitialCapital, 0) {
		return nil, fmt.Errorf("initial capital %v must be positive: %w", cfg.InitialCapital, domain.ErrInvalidConfig)
	}
	if cfg.DurationSteps <= 0 {
		return nil, fmt.Errorf("duration steps %d must be positive: %w", cfg.DurationSteps, domain.ErrInvalidConfig)
	}
	if cfg.TradingPair == "" {
		return nil, fmt.Errorf("trading pair required: %w", domain.ErrInvalidConfig)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}
	spy, err := util.StepsPerYear(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidConfig)
	}

	e := &Engine{
		cfg:          cfg,
		asset:        cfg.BaseAsset(),
		stepsPerYear: spy,
		registry:     registry,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.broker == nil {
		sim, err := broker.NewSimulatorBroker(cfg.FeeRate, cfg.SlippageRate)
		if err != nil {
			return nil, err
		}
		e.broker = sim
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.metrics = newEngineMetrics(e.meter)
	return e, nil
}

// Asset returns the traded base asset.
func (e *Engine) Asset() string { return e.asset }

// Config returns the validated match configuration.
func (e *Engine) Config() domain.MatchConfig { return e.cfg }

// Initialize funds one portfolio per spec and builds its strategy. Any
// unknown type, invalid params or repeated id aborts setup and no match is
// created. Specs run in the given order at every step.
func (e *Engine) Initialize(specs []domain.StrategySpec) (*domain.Match, error) {
	if e.match != nil {
		return nil, fmt.Errorf("match %s already initialized", e.match.ID)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one strategy required: %w", domain.ErrInvalidConfig)
	}

	env := strategy.Env{Asset: e.asset, InitialCapital: e.cfg.InitialCapital}
	seen := make(map[string]bool, len(specs))
	parts := make([]*participant, 0, len(specs))
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("strategy id required: %w", domain.ErrInvalidConfig)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("strategy %s: %w", spec.ID, domain.ErrDuplicateStrategy)
		}
		seen[spec.ID] = true

		params, err := e.registry.Resolve(spec)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", spec.ID, err)
		}
		spec.Params = params
		s, err := e.registry.New(spec, env)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", spec.ID, err)
		}

		parts = append(parts, &participant{
			spec:    spec,
			strat:   s,
			acct:    broker.NewAccount(domain.NewPortfolio(spec.ID, e.cfg.InitialCapital)),
			risk:    NewRiskManager(params),
			history: []float64{e.cfg.InitialCapital},
		})
		ids = append(ids, spec.ID)
	}

	id := e.matchID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	e.participants = parts
	e.match = &domain.Match{
		ID:          id,
		Status:      domain.MatchRunning,
		Config:      e.cfg,
		StrategyIDs: ids,
		StartTime:   &now,
		CreatedAt:   now,
	}
	e.log.Info("match initialized", "match", id, "strategies", len(parts), "pair", e.cfg.TradingPair, "steps", e.cfg.DurationSteps)
	return e.Snapshot(), nil
}

// ExecuteStep advances every strategy by one step at price. history holds
// the candles visible to strategies, ending with the current one. A failing
// strategy contributes nothing for the step but is still marked to market.
func (e *Engine) ExecuteStep(step int, history []domain.Candle, price float64) error {
	if e.match == nil || e.match.Status != domain.MatchRunning {
		return domain.ErrMatchNotRunning
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return fmt.Errorf("step %d: invalid price %v", step, price)
	}

	prices := map[string]float64{e.asset: price}
	ev := StepEvent{
		MatchID: e.match.ID,
		Step:    step,
		Price:   price,
		Values:  make(map[string]float64, len(e.participants)),
	}
	for _, p := range e.participants {
		entry, err := e.stepOne(p, step, history, price, prices)
		if err != nil {
			e.metrics.failure(p.spec.Type)
			e.log.Error("strategy step failed", "match", e.match.ID, "strategy", p.spec.ID, "step", step, "error", err)
		} else {
			e.match.Log = append(e.match.Log, entry)
			ev.Entries = append(ev.Entries, entry)
		}
		v := p.acct.Portfolio.UpdateValue(prices)
		p.history = append(p.history, v)
		ev.Values[p.spec.ID] = v
	}
	e.metrics.step()

	if e.onStep != nil {
		e.onStep(ev)
	}
	return nil
}

func (e *Engine) stepOne(p *participant, step int, history []domain.Candle, price float64, prices map[string]float64) (entry domain.LogEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	pf := p.acct.Portfolio
	pf.UpdateValue(prices)

	action, reason, forced := p.risk.ForcedExit(p.acct, e.asset, price)
	if forced {
		e.metrics.forcedExit(reason)
		e.log.Debug("forced exit", "match", e.match.ID, "strategy", p.spec.ID, "step", step, "reason", reason)
	} else {
		action, err = p.strat.Decide(history, step, pf.View())
		if err != nil {
			return domain.LogEntry{}, err
		}
		if action.Asset == "" {
			action.Asset = e.asset
		}
		if !action.Type.Valid() {
			return domain.LogEntry{}, fmt.Errorf("unknown action type %q", action.Type)
		}
		if action.Asset != e.asset {
			return domain.LogEntry{}, fmt.Errorf("asset %q is not traded in this match", action.Asset)
		}
	}

	action, capped := p.risk.CapBuy(pf, action, price)
	if capped {
		e.log.Debug("buy refused by position cap", "match", e.match.ID, "strategy", p.spec.ID, "step", step)
	}

	fill, err := e.broker.Execute(p.acct, action, price)
	if err != nil {
		return domain.LogEntry{}, err
	}
	if fill != nil {
		e.metrics.trade(string(fill.Side))
		e.log.Debug("trade", "match", e.match.ID, "strategy", p.spec.ID, "step", step,
			"side", fill.Side, "qty", fill.Quantity, "price", fill.Price, "fee", fill.Fee)
	}
	pf.UpdateValue(prices)

	return domain.LogEntry{
		Step:       step,
		StrategyID: p.spec.ID,
		Action:     action,
		Filled:     fill != nil,
		Forced:     reason,
		Portfolio:  snapshot(pf),
		Price:      analytics.Round(price, 2),
	}, nil
}

func snapshot(p *domain.Portfolio) domain.PortfolioSnapshot {
	positions := make(map[string]float64, len(p.Positions))
	for asset, qty := range p.Positions {
		positions[asset] = analytics.Round(qty, 4)
	}
	return domain.PortfolioSnapshot{
		Cash:       analytics.Round(p.Cash, 2),
		Positions:  positions,
		TotalValue: analytics.Round(p.TotalValue, 2),
	}
}

// Run executes DurationSteps steps over candles and finalizes the match.
// Candles beyond DurationSteps at the front of the slice are warm-up
// history visible to strategies but not traded on. Cancellation of ctx or a
// short candle series fails the match.
func (e *Engine) Run(ctx context.Context, candles []domain.Candle) ([]domain.MatchResult, error) {
	if e.match == nil || e.match.Status != domain.MatchRunning {
		return nil, domain.ErrMatchNotRunning
	}
	n := e.cfg.DurationSteps
	if len(candles) < n {
		err := fmt.Errorf("have %d candles, need %d: %w", len(candles), n, domain.ErrInsufficientData)
		e.Fail(err.Error())
		return nil, err
	}

	offset := len(candles) - n
	for step := 0; step < n; step++ {
		if err := ctx.Err(); err != nil {
			e.Fail(fmt.Sprintf("cancelled at step %d: %v", step, err))
			return nil, err
		}
		i := offset + step
		if err := e.ExecuteStep(step, candles[:i+1], candles[i].Close); err != nil {
			e.Fail(err.Error())
			return nil, err
		}
	}
	return e.Finalize()
}

// Finalize computes every strategy's result, ranks them by return and seals
// the match as completed.
func (e *Engine) Finalize() ([]domain.MatchResult, error) {
	if e.match == nil || e.match.Status != domain.MatchRunning {
		return nil, domain.ErrMatchNotRunning
	}

	// Every non-hold intent in the log is a trade, filled or rejected as dust.
	trades := make(map[string]int, len(e.participants))
	for _, entry := range e.match.Log {
		if entry.Action.Type != domain.ActionHold {
			trades[entry.StrategyID]++
		}
	}

	results := make([]domain.MatchResult, 0, len(e.participants))
	for _, p := range e.participants {
		final := p.history[len(p.history)-1]
		results = append(results, domain.MatchResult{
			StrategyID:  p.spec.ID,
			FinalValue:  analytics.Round(final, 2),
			ReturnPct:   analytics.ReturnPct(e.cfg.InitialCapital, final),
			TotalTrades: trades[p.spec.ID],
			WinTrades:   p.acct.Wins,
			SellTrades:  p.acct.Sells,
			WinRate:     analytics.WinRate(p.acct.Wins, p.acct.Sells),
			MaxDrawdown: analytics.MaxDrawdown(p.history),
			SharpeRatio: analytics.SharpeRatio(p.history, e.stepsPerYear),
		})
	}
	analytics.Rank(results)

	now := time.Now().UTC()
	e.match.Results = results
	e.match.Status = domain.MatchCompleted
	e.match.EndTime = &now
	e.log.Info("match completed", "match", e.match.ID, "winner", results[0].StrategyID, "return_pct", results[0].ReturnPct)
	return slices.Clone(results), nil
}

// Fail marks a pending or running match failed with reason. Terminal
// matches are left untouched.
func (e *Engine) Fail(reason string) {
	if e.match == nil || e.match.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	e.match.Status = domain.MatchFailed
	e.match.ErrorMessage = reason
	e.match.EndTime = &now
	e.log.Warn("match failed", "match", e.match.ID, "reason", reason)
}

// Snapshot returns a deep copy of the match, or nil before Initialize.
func (e *Engine) Snapshot() *domain.Match {
	if e.match == nil {
		return nil
	}
	m := *e.match
	m.StrategyIDs = slices.Clone(e.match.StrategyIDs)
	m.Results = slices.Clone(e.match.Results)
	m.Log = make([]domain.LogEntry, len(e.match.Log))
	for i, entry := range e.match.Log {
		entry.Portfolio.Positions = maps.Clone(entry.Portfolio.Positions)
		m.Log[i] = entry
	}
	if e.match.StartTime != nil {
		t := *e.match.StartTime
		m.StartTime = &t
	}
	if e.match.EndTime != nil {
		t := *e.match.EndTime
		m.EndTime = &t
	}
	return &m
}

// ValueHistory returns a copy of a strategy's recorded total values.
func (e *Engine) ValueHistory(strategyID string) ([]float64, error) {
	for _, p := range e.participants {
		if p.spec.ID == strategyID {
			return slices.Clone(p.history), nil
		}
	}
	return nil, fmt.Errorf("strategy %s: %w", strategyID, domain.ErrNotFound)
}

// ValueHistories returns a copy of every strategy's value history.
func (e *Engine) ValueHistories() map[string][]float64 {
	out := make(map[string][]float64, len(e.participants))
	for _, p := range e.participants {
		out[p.spec.ID] = slices.Clone(p.history)
	}
	return out
}

// Participant exposes a copy of one strategy's portfolio state for callers
// outside the step loop.
func (e *Engine) Participant(strategyID string) (domain.PortfolioView, map[string]float64, error) {
	for _, p := range e.participants {
		if p.spec.ID == strategyID {
			return p.acct.Portfolio.View(), maps.Clone(p.acct.CostBasis), nil
		}
	}
	return domain.PortfolioView{}, nil, fmt.Errorf("strategy %s: %w", strategyID, domain.ErrNotFound)
}

// IsConfigError reports whether err stems from invalid match or strategy
// setup rather than a runtime failure.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfig) ||
		errors.Is(err, domain.ErrUnsupportedStrategy) ||
		errors.Is(err, domain.ErrDuplicateStrategy)
}
