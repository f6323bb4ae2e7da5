package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const detectionInstrumentation = "github.com/Francovarelav/pickpackpromx/internal/services/detection"

var detectionTracer = otel.Tracer(detectionInstrumentation)

// DetectionMetrics counts bottle detection outcomes.
type DetectionMetrics struct {
	cycles    metric.Int64Counter
	failures  metric.Int64Counter
	cooldowns metric.Int64Counter
	discards  metric.Int64Counter
}

// NewDetectionMetrics registers the detection counters on meter, falling back to the global
// meter provider when meter is nil.
func NewDetectionMetrics(meter metric.Meter) (*DetectionMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(detectionInstrumentation)
	}
	cycles, err := meter.Int64Counter("fulfillment.detection.cycles",
		metric.WithDescription("Completed bottle detection cycles"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("fulfillment.detection.failures",
		metric.WithDescription("Detection cycles skipped because a collaborator failed"))
	if err != nil {
		return nil, err
	}
	cooldowns, err := meter.Int64Counter("fulfillment.detection.cooldowns",
		metric.WithDescription("Rate limit signals received from the vision service"))
	if err != nil {
		return nil, err
	}
	discards, err := meter.Int64Counter("fulfillment.detection.discards",
		metric.WithDescription("Bottles discarded and added to the missing ledger"))
	if err != nil {
		return nil, err
	}
	return &DetectionMetrics{cycles: cycles, failures: failures, cooldowns: cooldowns, discards: discards}, nil
}

func (m *DetectionMetrics) cycle(ctx context.Context, cartID string, bottles int) {
	if m == nil {
		return
	}
	m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("cart.id", cartID), attribute.Int("bottles", bottles)))
}

func (m *DetectionMetrics) failure(ctx context.Context, cartID, stage string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("cart.id", cartID), attribute.String("stage", stage)))
}

func (m *DetectionMetrics) cooldown(ctx context.Context, cartID string) {
	if m == nil {
		return
	}
	m.cooldowns.Add(ctx, 1, metric.WithAttributes(attribute.String("cart.id", cartID)))
}

func (m *DetectionMetrics) discarded(ctx context.Context, cartID string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.discards.Add(ctx, int64(count), metric.WithAttributes(attribute.String("cart.id", cartID)))
}
