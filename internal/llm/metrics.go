package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const costMeterName = "github.com/dativo-io/superadvisor/internal/llm"

var (
	costRequestHistogram  metric.Float64Histogram
	costMetricsOnce       sync.Once
	costMetricsRegistered bool
)

func initCostMetrics() {
	meter := otel.Meter(costMeterName)
	var err error
	costRequestHistogram, err = meter.Float64Histogram(
		"superadvisor.cost.request",
		metric.WithDescription("Cost in USD per model request"),
		metric.WithUnit("usd"),
	)
	if err != nil {
		return
	}
	costMetricsRegistered = true
}

// RecordCostMetrics records cost per request after a model call. The stage
// attribute ("classification", "synthesis", "validation") allows per-stage
// filtering in observability backends.
func RecordCostMetrics(ctx context.Context, costUSD float64, stage, model string) {
	costMetricsOnce.Do(initCostMetrics)
	if !costMetricsRegistered {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("model", model),
	)
	costRequestHistogram.Record(ctx, costUSD, attrs)
}
