package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterora/agent-arena/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name   string
	params domain.StrategyParams
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Decide(_ []domain.Candle, _ int, _ domain.PortfolioView) (domain.Action, error) {
	return domain.Hold("ETH"), nil
}

func stubFactory(name string) Factory {
	return func(spec domain.StrategySpec, _ Env) (Strategy, error) {
		return &stubStrategy{name: name, params: spec.Params}, nil
	}
}

var stubDefaults = domain.StrategyParams{
	LookbackPeriod: 5,
	BuyThreshold:   0.9,
	SellThreshold:  1.1,
	PositionSize:   0.25,
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubDefaults, stubFactory("test-strategy"))

	s, err := r.New(domain.StrategySpec{ID: "s1", Type: "test-strategy"}, Env{Asset: "ETH", InitialCapital: 1000})
	require.NoError(t, err)
	if s.Name() != "test-strategy" {
		t.Errorf("New returned strategy with Name() = %q, want %q", s.Name(), "test-strategy")
	}

	got := s.(*stubStrategy).params
	assert.Equal(t, 5, got.LookbackPeriod)
	assert.Equal(t, 0.25, got.PositionSize)
	assert.Equal(t, domain.DefaultMaxPositionPct, got.MaxPositionPct)
}

func TestRegistryNew_Unsupported(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(domain.StrategySpec{ID: "s1", Type: "nonexistent"}, Env{})
	if !errors.Is(err, domain.ErrUnsupportedStrategy) {
		t.Errorf("New error = %v, want ErrUnsupportedStrategy", err)
	}
	if r.Has("nonexistent") {
		t.Error("Has returned true for unregistered type")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubDefaults, stubFactory("beta"))
	r.Register("alpha", stubDefaults, stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestResolveKeepsExplicitParams(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", stubDefaults, stubFactory("stub"))

	sl := 0.05
	p, err := r.Resolve(domain.StrategySpec{Type: "stub", Params: domain.StrategyParams{
		LookbackPeriod: 30,
		MaxPositionPct: 0.8,
		StopLoss:       &sl,
	}})
	require.NoError(t, err)
	assert.Equal(t, 30, p.LookbackPeriod)
	assert.Equal(t, 0.9, p.BuyThreshold)
	assert.Equal(t, 0.8, p.MaxPositionPct)
	require.NotNil(t, p.StopLoss)
	assert.Equal(t, 0.05, *p.StopLoss)
	assert.Nil(t, p.TakeProfit)
}

func TestValidate(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }
	base := WithDefaults(domain.StrategyParams{}, stubDefaults)
	require.NoError(t, Validate(base))

	tests := []struct {
		name   string
		mutate func(*domain.StrategyParams)
	}{
		{"lookback too large", func(p *domain.StrategyParams) { p.LookbackPeriod = MaxLookback + 1 }},
		{"negative lookback", func(p *domain.StrategyParams) { p.LookbackPeriod = -1 }},
		{"negative buy threshold", func(p *domain.StrategyParams) { p.BuyThreshold = -0.5 }},
		{"negative sell threshold", func(p *domain.StrategyParams) { p.SellThreshold = -1 }},
		{"position size above one", func(p *domain.StrategyParams) { p.PositionSize = 1.5 }},
		{"max position above one", func(p *domain.StrategyParams) { p.MaxPositionPct = 1.01 }},
		{"stop loss of one", func(p *domain.StrategyParams) { p.StopLoss = ptr(1) }},
		{"zero stop loss", func(p *domain.StrategyParams) { p.StopLoss = ptr(0) }},
		{"take profit below one", func(p *domain.StrategyParams) { p.TakeProfit = ptr(0.9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			assert.ErrorIs(t, Validate(p), domain.ErrInvalidConfig)
		})
	}
}
