package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	steps       metric.Int64Counter
	trades      metric.Int64Counter
	failures    metric.Int64Counter
	forcedExits metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) *engineMetrics {
	if meter == nil {
		meter = otel.Meter("arena.engine")
	}
	m := &engineMetrics{}
	m.steps, _ = meter.Int64Counter("arena.engine.steps",
		metric.WithDescription("Match steps executed"),
		metric.WithUnit("{step}"))
	m.trades, _ = meter.Int64Counter("arena.engine.trades",
		metric.WithDescription("Filled simulated trades"),
		metric.WithUnit("{trade}"))
	m.failures, _ = meter.Int64Counter("arena.engine.strategy_failures",
		metric.WithDescription("Strategy steps that failed and were skipped"),
		metric.WithUnit("{failure}"))
	m.forcedExits, _ = meter.Int64Counter("arena.engine.forced_exits",
		metric.WithDescription("Liquidations forced by stop-loss or take-profit"),
		metric.WithUnit("{exit}"))
	return m
}

func add(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *engineMetrics) step() { add(m.steps) }

func (m *engineMetrics) trade(side string) {
	add(m.trades, attribute.String("side", side))
}

func (m *engineMetrics) failure(strategyType string) {
	add(m.failures, attribute.String("strategy_type", strategyType))
}

func (m *engineMetrics) forcedExit(reason string) {
	add(m.forcedExits, attribute.String("reason", reason))
}
