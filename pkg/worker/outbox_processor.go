package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/messaging"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is the number of publish attempts before an event is marked failed.
	RetryAttempts int
	// RetryDelay is the first backoff; it doubles with every failed attempt.
	RetryDelay    time.Duration
	ChannelPrefix string
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("PollInterval must be greater than 0")
	case c.RetryAttempts <= 0:
		return errors.New("RetryAttempts must be greater than 0")
	case c.RetryDelay <= 0:
		return errors.New("RetryDelay must be greater than 0")
	}
	return nil
}

// OutboxProcessor relays outbox events to the broker. Rows are locked for the
// duration of a batch so several processors can run side by side.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	tx      repository.Transactor
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*OutboxProcessor)

func WithClock(now func() time.Time) Option {
	return func(p *OutboxProcessor) { p.now = now }
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	tx repository.Transactor,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	opts ...Option,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}

	p := &OutboxProcessor{
		repo:    repo,
		tx:      tx,
		broker:  broker,
		config:  config,
		logger:  logger.With("outbox_processor"),
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessOnce handles one batch and reports how many events were published.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	published := 0
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
		if err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
			return fmt.Errorf("failed to get pending events: %w", err)
		}
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

		for _, event := range events {
			ok, err := p.processEvent(ctx, event)
			if err != nil {
				return err
			}
			if ok {
				published++
			}
		}
		return nil
	})
	return published, err
}

// processEvent only returns an error when the outcome could not be recorded.
func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) (bool, error) {
	msg := messaging.Message{
		ID:          event.ID,
		Type:        event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  event.CreatedAt,
		Payload:     event.Payload,
	}

	pubErr := p.broker.Publish(ctx, messaging.Channel(p.config.ChannelPrefix, event.EventType), msg)
	if pubErr == nil {
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("update_event_status", "error").Inc()
			return false, fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
		}
		p.metrics.OutboxEventsProcessed.Inc()
		return true, nil
	}

	errStr := pubErr.Error()
	attempt := event.RetryCount + 1
	if attempt >= p.config.RetryAttempts {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(pubErr, "Giving up on event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", attempt)
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errStr, nil); err != nil {
			return false, fmt.Errorf("failed to mark event %s failed: %w", event.ID, err)
		}
		return false, nil
	}

	retryAt := p.now().Add(p.backoff(event.RetryCount)).UTC()
	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	p.logger.Warn("Failed to publish event, will retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"attempt", attempt,
		"retry_at", retryAt,
		"error", errStr)
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusRetry, &errStr, &retryAt); err != nil {
		return false, fmt.Errorf("failed to schedule retry of event %s: %w", event.ID, err)
	}
	return false, nil
}

func (p *OutboxProcessor) backoff(retries int) time.Duration {
	if retries > 10 {
		retries = 10
	}
	return p.config.RetryDelay << uint(retries)
}
