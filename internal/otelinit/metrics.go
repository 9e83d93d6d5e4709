package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments shared across the scheduling pipeline.
type Metrics struct {
	SubTaskCostUSD   metric.Float64Histogram
	SubTaskDuration  metric.Float64Histogram
	UpgradeTotal     metric.Int64Counter
	DowngradeTotal   metric.Int64Counter
	BudgetExhausted  metric.Int64Counter
	RetryAttempts    metric.Int64Counter
	CircuitOpenTotal metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push over gRPC). On
// failure it returns a no-op shutdown and instruments backed by the default
// no-op meter provider so callers never have to nil-check.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed, metrics disabled", "error", err)
		return func(context.Context) error { return nil }, createCommonInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("pyrrhus")
	cost, _ := meter.Float64Histogram("pyrrhus_subtask_cost_usd")
	dur, _ := meter.Float64Histogram("pyrrhus_subtask_duration_ms")
	up, _ := meter.Int64Counter("pyrrhus_upgrade_total")
	down, _ := meter.Int64Counter("pyrrhus_downgrade_total")
	exhausted, _ := meter.Int64Counter("pyrrhus_budget_exhausted_total")
	retry, _ := meter.Int64Counter("pyrrhus_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("pyrrhus_resilience_circuit_open_total")
	return Metrics{
		SubTaskCostUSD:   cost,
		SubTaskDuration:  dur,
		UpgradeTotal:     up,
		DowngradeTotal:   down,
		BudgetExhausted:  exhausted,
		RetryAttempts:    retry,
		CircuitOpenTotal: circuit,
	}
}
