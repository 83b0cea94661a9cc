package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("chat-orchestrator-metrics")

// EventMetrics provides metrics collection for outbox event delivery.
type EventMetrics struct {
	publishedCounter     metric.Int64Counter
	publishFailedCounter metric.Int64Counter
}

// NewEventMetrics creates a new outbox event metrics collector.
func NewEventMetrics() (*EventMetrics, error) {
	publishedCounter, err := meter.Int64Counter(
		"chat_orchestrator.outbox.published",
		metric.WithDescription("Total number of outbox events published to the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	publishFailedCounter, err := meter.Int64Counter(
		"chat_orchestrator.outbox.publish_failed",
		metric.WithDescription("Total number of failed outbox publish attempts"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &EventMetrics{
		publishedCounter:     publishedCounter,
		publishFailedCounter: publishFailedCounter,
	}, nil
}

// RecordPublished records one successful publish.
func (em *EventMetrics) RecordPublished(ctx context.Context, eventType string) {
	em.publishedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RecordPublishFailed records one failed publish attempt.
func (em *EventMetrics) RecordPublishFailed(ctx context.Context, eventType string) {
	em.publishFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
}

// RunMetrics provides metrics collection for agent run execution.
type RunMetrics struct {
	runsCompletedCounter metric.Int64Counter
	runsFailedCounter    metric.Int64Counter
	runDurationHistogram metric.Float64Histogram
	runsActiveGauge      metric.Int64UpDownCounter
}

// NewRunMetrics creates a new run metrics collector.
func NewRunMetrics() (*RunMetrics, error) {
	runsCompletedCounter, err := meter.Int64Counter(
		"chat_orchestrator.runs.completed",
		metric.WithDescription("Total number of runs completed successfully"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFailedCounter, err := meter.Int64Counter(
		"chat_orchestrator.runs.failed",
		metric.WithDescription("Total number of runs that failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"chat_orchestrator.run.duration",
		metric.WithDescription("Duration of run processing in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"chat_orchestrator.runs.active",
		metric.WithDescription("Number of runs currently being processed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsCompletedCounter: runsCompletedCounter,
		runsFailedCounter:    runsFailedCounter,
		runDurationHistogram: runDurationHistogram,
		runsActiveGauge:      runsActiveGauge,
	}, nil
}

// RecordRunStarted records a run entering processing.
func (rm *RunMetrics) RecordRunStarted(ctx context.Context, threadID string) {
	rm.runsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("thread.id", threadID),
		),
	)
}

// RecordRunCompleted records a successful run.
func (rm *RunMetrics) RecordRunCompleted(ctx context.Context, threadID string, duration time.Duration) {
	rm.runsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("status", "completed"),
		),
	)
	rm.runDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("status", "completed"),
		),
	)
	rm.runsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("thread.id", threadID),
		),
	)
}

// RecordRunFailed records a failed run.
func (rm *RunMetrics) RecordRunFailed(ctx context.Context, threadID, reason string, duration time.Duration) {
	rm.runsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("status", "failed"),
			attribute.String("failure.reason", reason),
		),
	)
	rm.runDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("status", "failed"),
		),
	)
	rm.runsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("thread.id", threadID),
		),
	)
}
