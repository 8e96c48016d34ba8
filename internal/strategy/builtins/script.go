package builtins

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/strategy"
)

// DefaultScriptTimeout bounds one decide call when no timeout is configured.
const DefaultScriptTimeout = 200 * time.Millisecond

var errScriptTimeout = errors.New("script decide timed out")

// Compile-time interface check.
var _ strategy.Strategy = (*Script)(nil)

// Script runs a user supplied JavaScript module in its own goja runtime. The
// module must export decide(ctx) returning {type, amount}; ctx exposes
// history, step, portfolio, params, asset and initial_capital.
type Script struct {
	rt      *goja.Runtime
	decide  goja.Callable
	params  domain.StrategyParams
	env     strategy.Env
	timeout time.Duration
}

// ScriptFactory returns the registry factory for TypeScript.
func ScriptFactory(timeout time.Duration) strategy.Factory {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return func(spec domain.StrategySpec, env strategy.Env) (strategy.Strategy, error) {
		return NewScript(spec, env, timeout)
	}
}

// NewScript compiles and evaluates spec.Code.
func NewScript(spec domain.StrategySpec, env strategy.Env, timeout time.Duration) (*Script, error) {
	src := strings.TrimSpace(spec.Code)
	if src == "" {
		return nil, fmt.Errorf("script strategy requires code: %w", domain.ErrInvalidConfig)
	}
	name := spec.ID
	if name == "" {
		name = "strategy.js"
	}
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %v: %w", err, domain.ErrInvalidConfig)
	}

	rt := goja.New()
	exports, err := runModule(rt, prog, timeout)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidConfig)
	}
	fn, ok := goja.AssertFunction(exports.Get("decide"))
	if !ok {
		return nil, fmt.Errorf("script must export a decide function: %w", domain.ErrInvalidConfig)
	}

	return &Script{
		rt:      rt,
		decide:  fn,
		params:  spec.Params,
		env:     env,
		timeout: timeout,
	}, nil
}

// Name returns "script".
func (s *Script) Name() string {
	return TypeScript
}

// Decide calls the exported decide function. Thrown exceptions, timeouts and
// malformed return values are reported as errors.
func (s *Script) Decide(history []domain.Candle, step int, pf domain.PortfolioView) (domain.Action, error) {
	rt := s.rt
	ctx := rt.NewObject()
	_ = ctx.Set("history", s.history(history))
	_ = ctx.Set("step", step)
	_ = ctx.Set("asset", s.env.Asset)
	_ = ctx.Set("initial_capital", s.env.InitialCapital)
	_ = ctx.Set("params", s.paramsObject())
	_ = ctx.Set("portfolio", map[string]any{
		"cash":        pf.Cash(),
		"total_value": pf.TotalValue(),
		"positions":   pf.Positions(),
		"quantity":    pf.Quantity(s.env.Asset),
	})

	res, err := s.call(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	return s.toAction(res)
}

func (s *Script) call(arg goja.Value) (goja.Value, error) {
	timer := time.AfterFunc(s.timeout, func() {
		s.rt.Interrupt(errScriptTimeout)
	})
	res, err := s.decide(goja.Undefined(), arg)
	timer.Stop()
	s.rt.ClearInterrupt()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, errScriptTimeout
		}
		return nil, fmt.Errorf("script decide: %w", err)
	}
	return res, nil
}

func (s *Script) toAction(res goja.Value) (domain.Action, error) {
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return domain.Hold(s.env.Asset), nil
	}
	if str, ok := res.Export().(string); ok {
		res = s.rt.ToValue(map[string]any{"type": str})
	}

	obj := res.ToObject(s.rt)
	typ := domain.ActionType(strings.ToLower(valueString(obj.Get("type"))))
	if !typ.Valid() {
		return domain.Action{}, fmt.Errorf("script returned unknown action type %q", typ)
	}
	var amount float64
	if v := obj.Get("amount"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		amount = v.ToFloat()
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return domain.Action{}, fmt.Errorf("script returned invalid amount %v", amount)
	}

	switch typ {
	case domain.ActionBuy:
		return domain.Buy(s.env.Asset, amount), nil
	case domain.ActionSell:
		return domain.Sell(s.env.Asset, amount), nil
	default:
		return domain.Hold(s.env.Asset), nil
	}
}

// history converts candles to fresh JS objects on every call, so a script
// that writes to ctx.history cannot alter what it sees on later steps.
func (s *Script) history(history []domain.Candle) []any {
	out := make([]any, len(history))
	for i, c := range history {
		out[i] = map[string]any{
			"timestamp": c.Timestamp.UnixMilli(),
			"open":      c.Open,
			"high":      c.High,
			"low":       c.Low,
			"close":     c.Close,
			"volume":    c.Volume,
		}
	}
	return out
}

func (s *Script) paramsObject() map[string]any {
	p := map[string]any{
		"lookback_period":  s.params.LookbackPeriod,
		"buy_threshold":    s.params.BuyThreshold,
		"sell_threshold":   s.params.SellThreshold,
		"position_size":    s.params.PositionSize,
		"max_position_pct": s.params.MaxPositionPct,
	}
	if s.params.StopLoss != nil {
		p["stop_loss"] = *s.params.StopLoss
	}
	if s.params.TakeProfit != nil {
		p["take_profit"] = *s.params.TakeProfit
	}
	return p
}

func runModule(rt *goja.Runtime, prog *goja.Program, timeout time.Duration) (*goja.Object, error) {
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("console", buildConsole(rt)); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}

	timer := time.AfterFunc(timeout, func() {
		rt.Interrupt(errScriptTimeout)
	})
	_, err := rt.RunProgram(prog)
	timer.Stop()
	rt.ClearInterrupt()
	if err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}

	obj := module.Get("exports").ToObject(rt)
	if obj == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return obj, nil
}

func buildConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = console.Set("log", noop)
	_ = console.Set("error", noop)
	_ = console.Set("warn", noop)
	_ = console.Set("info", noop)
	return console
}

func valueString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
