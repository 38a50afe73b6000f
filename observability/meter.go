package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/blockflow/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the engine's metric instruments.
type Metrics struct {
	blockRunTotal     metric.Int64Counter
	blockRunDuration  metric.Float64Histogram
	blockRunActive    metric.Int64UpDownCounter
	dynamicChildren   metric.Int64Counter
	schedulerRequeues metric.Int64Counter
	errorTotal        metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	blockRunTotal, err := meter.Int64Counter("blockflow.block_run.total",
		metric.WithDescription("Block runs finished, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating block_run.total counter: %w", err)
	}

	blockRunDuration, err := meter.Float64Histogram("blockflow.block_run.duration",
		metric.WithDescription("Duration of block executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating block_run.duration histogram: %w", err)
	}

	blockRunActive, err := meter.Int64UpDownCounter("blockflow.block_run.active",
		metric.WithDescription("Block executions in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating block_run.active gauge: %w", err)
	}

	dynamicChildren, err := meter.Int64Counter("blockflow.dynamic.children",
		metric.WithDescription("Dynamic child runs created"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic.children counter: %w", err)
	}

	schedulerRequeues, err := meter.Int64Counter("blockflow.scheduler.requeues",
		metric.WithDescription("Blocks re-queued because an upstream was not ready"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler.requeues counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("blockflow.error.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &Metrics{
		blockRunTotal:     blockRunTotal,
		blockRunDuration:  blockRunDuration,
		blockRunActive:    blockRunActive,
		dynamicChildren:   dynamicChildren,
		schedulerRequeues: schedulerRequeues,
		errorTotal:        errorTotal,
	}, nil
}

// RecordBlockStart increments the active block execution count.
func (m *Metrics) RecordBlockStart(ctx context.Context) {
	m.blockRunActive.Add(ctx, 1)
}

// RecordBlockEnd decrements active executions and records the finished run.
func (m *Metrics) RecordBlockEnd(ctx context.Context, pipeline, blockType, status string, duration time.Duration) {
	m.blockRunActive.Add(ctx, -1)
	m.blockRunTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("block_type", blockType),
		attribute.String("status", status),
	))
	m.blockRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("block_type", blockType),
	))
}

// RecordChildren records dynamic child runs created for a block.
func (m *Metrics) RecordChildren(ctx context.Context, pipeline string, n int) {
	m.dynamicChildren.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("pipeline", pipeline),
	))
}

// RecordRequeue records a block popped before its upstreams were ready.
func (m *Metrics) RecordRequeue(ctx context.Context, pipeline string) {
	m.schedulerRequeues.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
	))
}

// RecordError records an error by code and component.
func (m *Metrics) RecordError(ctx context.Context, code, component string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("component", component),
	))
}
