// Package arena orchestrates matches on top of the engine: it manages
// strategy definitions, runs matches on a bounded worker pool, persists
// their outcome and publishes progress to subscribers.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Masterora/agent-arena/internal/analytics"
	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/engine"
	"github.com/Masterora/agent-arena/internal/market"
	"github.com/Masterora/agent-arena/internal/store"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// ErrClosed is returned by RunMatch after Close.
var ErrClosed = errors.New("arena service closed")

// Options holds the service limits and match defaults.
type Options struct {
	DefaultCapital   float64
	DefaultPair      string
	DefaultTimeframe string
	DefaultSource    string
	DefaultKind      string
	DefaultSteps     int
	MaxStrategies    int
	MaxDurationSteps int
	FeeRate          float64
	SlippageRate     float64
	Workers          int
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		DefaultCapital:   10000,
		DefaultPair:      "ETH/USDC",
		DefaultTimeframe: engine.DefaultTimeframe,
		DefaultSource:    "synthetic",
		DefaultKind:      market.KindRandom,
		DefaultSteps:     100,
		MaxStrategies:    10,
		MaxDurationSteps: 500,
		FeeRate:          0.002,
		SlippageRate:     0.001,
		Workers:          4,
	}
}

// RunRequest asks for a new match between stored strategies.
type RunRequest struct {
	StrategyIDs    []string `json:"strategy_ids"`
	InitialCapital float64  `json:"initial_capital,omitempty"`
	DurationSteps  int      `json:"duration_steps,omitempty"`
	TradingPair    string   `json:"trading_pair,omitempty"`
	Timeframe      string   `json:"timeframe,omitempty"`
	Source         string   `json:"source,omitempty"`
	MarketKind     string   `json:"market_kind,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
}

// StrategyInput is the user-editable part of a strategy definition.
type StrategyInput struct {
	Name        string                `json:"name"`
	Type        string                `json:"type"`
	Params      domain.StrategyParams `json:"params"`
	Code        string                `json:"code,omitempty"`
	Description string                `json:"description,omitempty"`
}

// TypeInfo describes a registered strategy type.
type TypeInfo struct {
	Type     string                `json:"type"`
	Defaults domain.StrategyParams `json:"defaults"`
}

// Service is the arena's application layer.
type Service struct {
	strategies store.StrategyStore
	matches    store.MatchStore
	registry   *strategy.Registry
	sources    *market.Sources
	opts       Options
	log        *slog.Logger
	metrics    *serviceMetrics
	hub        *Hub

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool.Pool
	mu     sync.Mutex
	closed bool
}

// NewService wires the service. Zero fields of opts take their
// DefaultOptions value.
func NewService(strategies store.StrategyStore, matches store.MatchStore, registry *strategy.Registry, sources *market.Sources, opts Options, log *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.DefaultCapital <= 0 {
		opts.DefaultCapital = def.DefaultCapital
	}
	if opts.DefaultPair == "" {
		opts.DefaultPair = def.DefaultPair
	}
	if opts.DefaultTimeframe == "" {
		opts.DefaultTimeframe = def.DefaultTimeframe
	}
	if opts.DefaultSource == "" {
		opts.DefaultSource = def.DefaultSource
	}
	if opts.DefaultKind == "" {
		opts.DefaultKind = def.DefaultKind
	}
	if opts.MaxStrategies <= 0 {
		opts.MaxStrategies = def.MaxStrategies
	}
	if opts.MaxDurationSteps <= 0 {
		opts.MaxDurationSteps = def.MaxDurationSteps
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.DefaultSteps <= 0 {
		opts.DefaultSteps = def.DefaultSteps
	}
	if opts.DefaultSteps > opts.MaxDurationSteps {
		opts.DefaultSteps = opts.MaxDurationSteps
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		strategies: strategies,
		matches:    matches,
		registry:   registry,
		sources:    sources,
		opts:       opts,
		log:        log,
		metrics:    newServiceMetrics(),
		hub:        NewHub(),
		ctx:        ctx,
		cancel:     cancel,
		pool:       pool.New().WithMaxGoroutines(opts.Workers),
	}
}

// Events returns the hub match progress is published on.
func (s *Service) Events() *Hub { return s.hub }

// Options returns the effective limits.
func (s *Service) Options() Options { return s.opts }

// Close cancels running matches and waits for workers to exit.
func (s *Service) Close() {
	// Cancel before locking: a RunMatch waiting for a free worker holds mu
	// until a running match gives up its slot.
	s.cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.pool.Wait()
}

// -----------------------------------------------------------------------
// Strategies
// -----------------------------------------------------------------------

// StrategyTypes lists every registered type with its default params.
func (s *Service) StrategyTypes() []TypeInfo {
	types := s.registry.List()
	out := make([]TypeInfo, 0, len(types))
	for _, t := range types {
		d, _ := s.registry.Defaults(t)
		out = append(out, TypeInfo{Type: t, Defaults: d})
	}
	return out
}

// CreateStrategy validates in and stores it with resolved params.
func (s *Service) CreateStrategy(ctx context.Context, in StrategyInput) (*domain.StrategySpec, error) {
	now := time.Now().UTC()
	spec := &domain.StrategySpec{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apply(spec, in); err != nil {
		return nil, err
	}
	if err := s.strategies.CreateStrategy(ctx, spec); err != nil {
		return nil, err
	}
	s.log.Info("strategy created", "id", spec.ID, "type", spec.Type, "name", spec.Name)
	return spec, nil
}

// UpdateStrategy replaces the editable fields of a stored strategy. Career
// stats are kept.
func (s *Service) UpdateStrategy(ctx context.Context, id string, in StrategyInput) (*domain.StrategySpec, error) {
	spec, err := s.strategies.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(spec, in); err != nil {
		return nil, err
	}
	spec.UpdatedAt = time.Now().UTC()
	if err := s.strategies.UpdateStrategy(ctx, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// apply validates in by building a throwaway strategy from it and copies it
// onto spec.
func (s *Service) apply(spec *domain.StrategySpec, in StrategyInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return fmt.Errorf("strategy name required: %w", domain.ErrInvalidConfig)
	}
	candidate := domain.StrategySpec{
		ID:          spec.ID,
		Name:        name,
		Type:        strings.TrimSpace(in.Type),
		Params:      in.Params,
		Code:        in.Code,
		Description: in.Description,
	}
	params, err := s.registry.Resolve(candidate)
	if err != nil {
		return err
	}
	candidate.Params = params
	env := strategy.Env{Asset: domain.MatchConfig{TradingPair: s.opts.DefaultPair}.BaseAsset(), InitialCapital: s.opts.DefaultCapital}
	if _, err := s.registry.New(candidate, env); err != nil {
		return err
	}

	spec.Name = candidate.Name
	spec.Type = candidate.Type
	spec.Params = candidate.Params
	spec.Code = candidate.Code
	spec.Description = candidate.Description
	return nil
}

// GetStrategy returns one strategy.
func (s *Service) GetStrategy(ctx context.Context, id string) (*domain.StrategySpec, error) {
	return s.strategies.GetStrategy(ctx, id)
}

// ListStrategies returns every stored strategy.
func (s *Service) ListStrategies(ctx context.Context) ([]domain.StrategySpec, error) {
	return s.strategies.ListStrategies(ctx)
}

// DeleteStrategy removes a strategy. Past matches keep their results.
func (s *Service) DeleteStrategy(ctx context.Context, id string) error {
	if err := s.strategies.DeleteStrategy(ctx, id); err != nil {
		return err
	}
	s.log.Info("strategy deleted", "id", id)
	return nil
}

// -----------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------

// run is a prepared match waiting to execute.
type run struct {
	eng     *engine.Engine
	match   *domain.Match
	source  market.Source
	request market.Request
}

// prepare validates req, loads the strategies and initializes an engine.
// Nothing is persisted when it fails.
func (s *Service) prepare(ctx context.Context, req RunRequest) (*run, error) {
	if n := len(req.StrategyIDs); n == 0 || n > s.opts.MaxStrategies {
		return nil, fmt.Errorf("match needs 1 to %d strategies, got %d: %w", s.opts.MaxStrategies, n, domain.ErrInvalidConfig)
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = s.opts.DefaultCapital
	}
	if req.DurationSteps == 0 {
		req.DurationSteps = s.opts.DefaultSteps
	}
	if req.DurationSteps < 0 || req.DurationSteps > s.opts.MaxDurationSteps {
		return nil, fmt.Errorf("duration %d outside 1..%d: %w", req.DurationSteps, s.opts.MaxDurationSteps, domain.ErrInvalidConfig)
	}
	if req.TradingPair == "" {
		req.TradingPair = s.opts.DefaultPair
	}
	if req.Timeframe == "" {
		req.Timeframe = s.opts.DefaultTimeframe
	}
	if req.Source == "" {
		req.Source = s.opts.DefaultSource
	}
	if req.MarketKind == "" {
		req.MarketKind = s.opts.DefaultKind
	}
	src, err := s.sources.Get(req.Source)
	if err != nil {
		return nil, err
	}

	specs := make([]domain.StrategySpec, 0, len(req.StrategyIDs))
	warmup := 0
	for _, id := range req.StrategyIDs {
		spec, err := s.strategies.GetStrategy(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("strategy %s does not exist: %w", id, domain.ErrInvalidConfig)
		}
		if err != nil {
			return nil, err
		}
		if params, err := s.registry.Resolve(*spec); err == nil && params.LookbackPeriod > warmup {
			warmup = params.LookbackPeriod
		}
		specs = append(specs, *spec)
	}

	matchID := uuid.NewString()
	cfg := domain.MatchConfig{
		InitialCapital: req.InitialCapital,
		TradingPair:    req.TradingPair,
		Timeframe:      req.Timeframe,
		DurationSteps:  req.DurationSteps,
		FeeRate:        s.opts.FeeRate,
		SlippageRate:   s.opts.SlippageRate,
	}
	eng, err := engine.NewEngine(cfg, s.registry,
		engine.WithLogger(s.log),
		engine.WithMatchID(matchID),
		engine.WithStepHook(func(ev engine.StepEvent) {
			s.hub.Publish(Event{Type: EventStep, MatchID: ev.MatchID, Step: &ev})
		}),
	)
	if err != nil {
		return nil, err
	}
	m, err := eng.Initialize(specs)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MatchPending
	m.StartTime = nil
	m.MarketSource = src.Name()
	m.MarketKind = req.MarketKind
	return &run{
		eng:    eng,
		match:  m,
		source: src,
		// Warm-up candles are best effort; only the stepped ones are required.
		request: market.Request{
			Symbol:    req.TradingPair,
			Timeframe: eng.Config().Timeframe,
			Steps:     req.DurationSteps + warmup,
			MinSteps:  req.DurationSteps,
			Kind:      req.MarketKind,
			Seed:      req.Seed,
		},
	}, nil
}

// RunMatch validates req, stores a pending match and schedules it on the
// worker pool. It blocks while every worker is busy; a match scheduled
// while the service is closing fails at once.
func (s *Service) RunMatch(ctx context.Context, req RunRequest) (*domain.Match, error) {
	r, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.matches.CreateMatch(ctx, r.match); err != nil {
		return nil, err
	}
	pending := *r.match

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		r.eng.Fail(ErrClosed.Error())
		_, _ = s.finish(context.WithoutCancel(ctx), r, time.Now(), ErrClosed)
		return nil, ErrClosed
	}
	s.pool.Go(func() {
		_, _ = s.execute(s.ctx, r)
	})
	return &pending, nil
}

// RunMatchSync runs a match inline and returns its final state. A match
// that fails after it was stored is returned together with the error.
func (s *Service) RunMatchSync(ctx context.Context, req RunRequest) (*domain.Match, error) {
	r, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.matches.CreateMatch(ctx, r.match); err != nil {
		return nil, err
	}
	return s.execute(ctx, r)
}

func (s *Service) execute(ctx context.Context, r *run) (*domain.Match, error) {
	started := time.Now()
	m := r.match
	// Writes must land even when ctx is cancelled mid-match.
	persist := context.WithoutCancel(ctx)

	now := started.UTC()
	m.Status = domain.MatchRunning
	m.StartTime = &now
	if err := s.matches.UpdateMatchStatus(persist, m); err != nil {
		s.log.Error("mark match running", "match", m.ID, "error", err)
	}
	s.hub.Publish(Event{Type: EventStatus, MatchID: m.ID, Status: domain.MatchRunning})

	candles, err := r.source.Candles(ctx, r.request)
	if err != nil {
		err = fmt.Errorf("market data from %s: %w", r.source.Name(), err)
		r.eng.Fail(err.Error())
		return s.finish(persist, r, started, err)
	}
	if _, err := r.eng.Run(ctx, candles); err != nil {
		return s.finish(persist, r, started, err)
	}
	return s.finish(persist, r, started, nil)
}

// finish persists the terminal state of r and notifies subscribers.
func (s *Service) finish(ctx context.Context, r *run, started time.Time, runErr error) (*domain.Match, error) {
	m := r.eng.Snapshot()
	m.MarketSource = r.match.MarketSource
	m.MarketKind = r.match.MarketKind
	m.CreatedAt = r.match.CreatedAt
	m.StartTime = r.match.StartTime
	s.metrics.finished(m.Status, m.MarketSource, time.Since(started))

	if runErr != nil {
		if err := s.matches.UpdateMatchStatus(ctx, m); err != nil {
			s.log.Error("persist failed match", "match", m.ID, "error", err)
		}
		s.hub.Publish(Event{Type: EventStatus, MatchID: m.ID, Status: m.Status, Error: m.ErrorMessage})
		return m, runErr
	}

	if err := s.matches.CompleteMatch(ctx, m, r.eng.ValueHistories()); err != nil {
		s.log.Error("persist completed match", "match", m.ID, "error", err)
		return m, err
	}
	for _, res := range m.Results {
		err := s.strategies.UpdateStrategyStats(ctx, res.StrategyID, func(st domain.StrategyStats) domain.StrategyStats {
			return analytics.Accumulate(st, res)
		})
		// A strategy deleted mid-match has nowhere to record stats.
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("update strategy stats", "strategy", res.StrategyID, "error", err)
		}
	}
	s.hub.Publish(Event{Type: EventStatus, MatchID: m.ID, Status: m.Status, Results: m.Results})
	s.log.Info("match stored", "match", m.ID, "elapsed", time.Since(started))
	return m, nil
}

// GetMatch returns a stored match, with its step log when includeLogs is
// set.
func (s *Service) GetMatch(ctx context.Context, id string, includeLogs bool) (*domain.Match, error) {
	return s.matches.GetMatch(ctx, id, includeLogs)
}

// ListMatches returns recent matches, newest first.
func (s *Service) ListMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	return s.matches.ListMatches(ctx, limit)
}

// ValueHistory returns one strategy's value curve in a completed match.
func (s *Service) ValueHistory(ctx context.Context, matchID, strategyID string) ([]float64, error) {
	return s.matches.ValueHistory(ctx, matchID, strategyID)
}

// CachedSymbols lists the symbols each caching market source holds.
func (s *Service) CachedSymbols(ctx context.Context) (map[string][]string, error) {
	return s.sources.CachedSymbols(ctx)
}

// Candles previews the series a source would serve for req.
func (s *Service) Candles(ctx context.Context, source string, req market.Request) ([]domain.Candle, error) {
	if source == "" {
		source = s.opts.DefaultSource
	}
	src, err := s.sources.Get(source)
	if err != nil {
		return nil, err
	}
	if req.Timeframe == "" {
		req.Timeframe = s.opts.DefaultTimeframe
	}
	if req.Symbol == "" {
		req.Symbol = s.opts.DefaultPair
	}
	if req.Steps > s.opts.MaxDurationSteps+strategy.MaxLookback {
		return nil, fmt.Errorf("steps %d exceed limit: %w", req.Steps, domain.ErrInvalidConfig)
	}
	return src.Candles(ctx, req)
}
