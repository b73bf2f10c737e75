package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/shopfront/api"

// Meter returns the application meter, or m when non-nil.
func Meter(m metric.Meter) metric.Meter {
	if m != nil {
		return m
	}
	return otel.GetMeterProvider().Meter(meterName)
}

// Counter wraps an Int64Counter that silently no-ops when registration failed.
type Counter struct {
	inner metric.Int64Counter
}

// NewCounter registers a monotonic counter. Registration failures are logged, never returned,
// so instrumentation cannot break the operation it observes.
func NewCounter(m metric.Meter, name, description string, logger *zap.Logger) Counter {
	counter, err := Meter(m).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		if logger != nil {
			logger.Warn("metrics: unable to register counter", zap.String("name", name), zap.Error(err))
		}
		return Counter{}
	}
	return Counter{inner: counter}
}

// Inc adds one with the given attributes.
func (c Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	if c.inner == nil {
		return
	}
	c.inner.Add(ctx, 1, metric.WithAttributes(attrs...))
}
