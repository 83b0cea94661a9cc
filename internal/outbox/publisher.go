package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

const (
	defaultBatchSize    = 10
	defaultIdleInterval = 250 * time.Millisecond
)

// EventPublisher appends one event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event models.AgentEvent) error
}

// RetryableEventSource is the slice of the outbox store the publisher drives.
type RetryableEventSource interface {
	ListRetryableEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	MarkPublishFailed(ctx context.Context, id string, publishErr string) error
}

// PublisherConfig configures a Publisher. Store and Bus are required.
type PublisherConfig struct {
	Store        RetryableEventSource
	Bus          EventPublisher
	BatchSize    int           // default 10
	IdleInterval time.Duration // sleep when a pass finds no work, default 250ms
	Logger       zerolog.Logger
	Metrics      *metrics.EventMetrics // optional
}

// Publisher polls the outbox for retryable events and relays them to the bus.
// One event's publish failure never aborts the batch; the failure is recorded
// on the row and retried on a later pass.
type Publisher struct {
	store        RetryableEventSource
	bus          EventPublisher
	batchSize    int
	idleInterval time.Duration
	logger       zerolog.Logger
	metrics      *metrics.EventMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPublisher creates an outbox publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	idleInterval := cfg.IdleInterval
	if idleInterval <= 0 {
		idleInterval = defaultIdleInterval
	}

	return &Publisher{
		store:        cfg.Store,
		bus:          cfg.Bus,
		batchSize:    batchSize,
		idleInterval: idleInterval,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// ProcessOnce relays one batch of retryable events. It returns the number of
// records attempted, not the number of successes, so callers can distinguish
// "no work" from "work occurred".
func (p *Publisher) ProcessOnce(ctx context.Context) (int, error) {
	records, err := p.store.ListRetryableEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	for _, record := range records {
		if err := p.bus.Publish(ctx, record.Event); err != nil {
			safeMessage := err.Error()
			if markErr := p.store.MarkPublishFailed(ctx, record.ID, safeMessage); markErr != nil {
				p.logger.Error().
					Str("eventId", record.ID).
					Err(markErr).
					Msg("failed to record outbox publish failure")
			}
			if p.metrics != nil {
				p.metrics.RecordPublishFailed(ctx, string(record.Event.Type))
			}
			p.logger.Error().
				Str("eventId", record.ID).
				Str("correlationId", record.Event.CorrelationID).
				Str("error", safeMessage).
				Msg("outbox publish failed")
			continue
		}

		if err := p.store.MarkPublished(ctx, record.ID); err != nil {
			p.logger.Error().
				Str("eventId", record.ID).
				Err(err).
				Msg("failed to record outbox publish success")
		}
		if p.metrics != nil {
			p.metrics.RecordPublished(ctx, string(record.Event.Type))
		}
		p.logger.Info().
			Str("eventId", record.ID).
			Str("correlationId", record.Event.CorrelationID).
			Msg("outbox publish succeeded")
	}

	return len(records), nil
}

// Start launches the poll loop. Calling Start on a running publisher is a
// no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.poll(ctx)
}

// Stop prevents the next poll iteration from starting and waits for in-flight
// work to finish. A batch already being processed is not aborted.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Publisher) poll(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := p.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("outbox poll pass failed")
		}

		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleInterval):
			}
		}
	}
}
