package arena

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Masterora/agent-arena/internal/domain"
)

type serviceMetrics struct {
	matches  metric.Int64Counter
	duration metric.Float64Histogram
}

func newServiceMetrics() *serviceMetrics {
	meter := otel.Meter("arena.service")
	m := &serviceMetrics{}
	m.matches, _ = meter.Int64Counter("arena.matches",
		metric.WithDescription("Matches that reached a terminal state"),
		metric.WithUnit("{match}"))
	m.duration, _ = meter.Float64Histogram("arena.match.duration",
		metric.WithDescription("Wall time from match start to terminal state"),
		metric.WithUnit("ms"))
	return m
}

func (m *serviceMetrics) finished(status domain.MatchStatus, source string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("source", source),
	)
	ctx := context.Background()
	if m.matches != nil {
		m.matches.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}
