package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"lumen/internal/core"
)

// Metrics records per-turn counters. With no provider installed the global
// otel meter is a no-op.
type Metrics struct {
	turns    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("lumen/assistant")

	turns, err := meter.Int64Counter("lumen.turns.total",
		metric.WithDescription("Turns handled by capability and status"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("lumen.turns.failures",
		metric.WithDescription("Failed turns by capability and error kind"))
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("lumen.turn.duration",
		metric.WithDescription("Turn latency from receipt to record"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{turns: turns, failures: failures, latency: latency}, nil
}

func (m *Metrics) RecordTurn(ctx context.Context, t core.Turn, kind core.Kind) {
	if m == nil {
		return
	}

	capability := t.Capability
	if capability == "" {
		capability = "fallback"
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("status", string(t.Status)),
	)

	m.turns.Add(ctx, 1, attrs)
	m.latency.Record(ctx, t.Duration().Seconds(), attrs)

	if kind != "" {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("kind", string(kind)),
		))
	}
}

// SetupStdoutMetrics exports metrics to w every interval. The returned
// function flushes and stops the exporter.
func SetupStdoutMetrics(w io.Writer, interval time.Duration) (func(context.Context) error, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("stdout metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}
