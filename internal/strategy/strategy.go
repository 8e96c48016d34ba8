// Package strategy defines the Strategy capability that match participants
// implement and provides a Registry mapping strategy type tags to
// constructors.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterora/agent-arena/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the type tag this strategy was built from.
	Name() string

	// Decide is called once per step with every candle up to and including
	// the current one and a read-only copy of the strategy's portfolio. It
	// returns exactly one trade intent.
	Decide(history []domain.Candle, step int, pf domain.PortfolioView) (domain.Action, error)
}

// Env carries match-level facts a strategy may need at construction.
type Env struct {
	Asset          string
	InitialCapital float64
}

// Factory builds a Strategy from a spec whose params already have defaults
// applied and passed validation.
type Factory func(spec domain.StrategySpec, env Env) (Strategy, error)

type entry struct {
	defaults domain.StrategyParams
	factory  Factory
}

// Registry holds the set of strategy types a match may use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a strategy type with its parameter defaults. Registering an
// existing type replaces it.
func (r *Registry) Register(typ string, defaults domain.StrategyParams, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[typ] = entry{defaults: defaults, factory: f}
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typ]
	return ok
}

// Resolve fills zero params of spec with the defaults of its type and
// validates the result.
func (r *Registry) Resolve(spec domain.StrategySpec) (domain.StrategyParams, error) {
	r.mu.RLock()
	e, ok := r.entries[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return domain.StrategyParams{}, fmt.Errorf("%q: %w", spec.Type, domain.ErrUnsupportedStrategy)
	}
	p := WithDefaults(spec.Params, e.defaults)
	if err := Validate(p); err != nil {
		return domain.StrategyParams{}, err
	}
	return p, nil
}

// New builds the strategy described by spec. Unknown types fail with
// domain.ErrUnsupportedStrategy.
func (r *Registry) New(spec domain.StrategySpec, env Env) (Strategy, error) {
	p, err := r.Resolve(spec)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	e := r.entries[spec.Type]
	r.mu.RUnlock()

	spec.Params = p
	s, err := e.factory(spec, env)
	if err != nil {
		return nil, fmt.Errorf("build %s strategy %q: %w", spec.Type, spec.ID, err)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the parameter defaults of typ.
func (r *Registry) Defaults(typ string) (domain.StrategyParams, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	return e.defaults, ok
}
