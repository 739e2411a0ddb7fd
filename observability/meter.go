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

	"github.com/kbukum/e2ekit/logger"
)

// InitMeter installs a global meter provider exporting over OTLP HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))
	return mp, nil
}

// Meter returns the module meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics holds the operation instruments shared by the snapshot engine,
// container providers and the control plane.
type Metrics struct {
	operationTotal    metric.Int64Counter
	operationDuration metric.Float64Histogram
	rowsTotal         metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	operationTotal, err := meter.Int64Counter("e2ekit.operation.total",
		metric.WithDescription("Snapshot, restore and lifecycle operations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating e2ekit.operation.total counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram("e2ekit.operation.duration",
		metric.WithDescription("Duration of operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating e2ekit.operation.duration histogram: %w", err)
	}

	rowsTotal, err := meter.Int64Counter("e2ekit.snapshot.rows",
		metric.WithDescription("Rows dumped or restored"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating e2ekit.snapshot.rows counter: %w", err)
	}

	return &Metrics{
		operationTotal:    operationTotal,
		operationDuration: operationDuration,
		rowsTotal:         rowsTotal,
	}, nil
}

// DefaultMetrics creates instruments on the global meter, falling back to nil
// (no recording) if instrument creation fails.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(Meter())
	if err != nil {
		logger.Warn("metrics disabled", logger.Fields(logger.FieldError, err.Error()))
		return nil
	}
	return m
}

// RecordOperation records one finished operation.
func (m *Metrics) RecordOperation(ctx context.Context, component, operation, suiteID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("suite_id", suiteID),
		attribute.String("status", status),
	))
	m.operationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
	))
}

// RecordRows adds n to the row counter for a snapshot operation.
func (m *Metrics) RecordRows(ctx context.Context, operation, suiteID string, n int64) {
	if m == nil {
		return
	}
	m.rowsTotal.Add(ctx, n, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("suite_id", suiteID),
	))
}
