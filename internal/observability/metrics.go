package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "graphql-pg"

// CompilerMetrics records the compile, execute and request instruments of the
// one-query pipeline.
type CompilerMetrics struct {
	compileDuration metric.Float64Histogram
	executeDuration metric.Float64Histogram
	requests        metric.Int64Counter
	errors          metric.Int64Counter
	sqlParams       metric.Int64Histogram
}

// NewCompilerMetrics creates the instruments on the global meter provider.
func NewCompilerMetrics() (*CompilerMetrics, error) {
	return NewCompilerMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewCompilerMetricsWithMeter creates the instruments on meter.
func NewCompilerMetricsWithMeter(meter metric.Meter) (*CompilerMetrics, error) {
	compileDuration, err := meter.Float64Histogram(
		"graphql.compile.duration",
		metric.WithDescription("Time spent compiling a GraphQL document into SQL"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	executeDuration, err := meter.Float64Histogram(
		"graphql.execute.duration",
		metric.WithDescription("Time spent executing the compiled SQL"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execute duration histogram: %w", err)
	}

	requests, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL documents processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errs, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of failed GraphQL documents by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	sqlParams, err := meter.Int64Histogram(
		"graphql.sql.params",
		metric.WithDescription("Number of bind parameters in a compiled query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql params histogram: %w", err)
	}

	return &CompilerMetrics{
		compileDuration: compileDuration,
		executeDuration: executeDuration,
		requests:        requests,
		errors:          errs,
		sqlParams:       sqlParams,
	}, nil
}

// RecordCompile records one compilation and the size of its parameter list.
func (m *CompilerMetrics) RecordCompile(ctx context.Context, duration time.Duration, operationType string, params int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation_type", operationType))
	m.compileDuration.Record(ctx, millis(duration), attrs)
	m.sqlParams.Record(ctx, int64(params), attrs)
}

// RecordExecute records one database round trip.
func (m *CompilerMetrics) RecordExecute(ctx context.Context, duration time.Duration, operationType string, failed bool) {
	if m == nil {
		return
	}
	m.executeDuration.Record(ctx, millis(duration), metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", failed),
	))
}

// RecordRequest counts a processed document. errorKind is empty on success.
func (m *CompilerMetrics) RecordRequest(ctx context.Context, operationType, errorKind string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", errorKind != ""),
	))
	if errorKind != "" {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
			attribute.String("error_kind", errorKind),
		))
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
