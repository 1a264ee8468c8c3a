package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunevault/platform/internal/domain"
)

// OutboxSource reads and acknowledges rows from the event_outbox table.
type OutboxSource interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	MarkPublished(ctx context.Context, seqIDs []int64) error
}

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller relays committed purchase events from the outbox to Kafka.
// Delivery is at-least-once: a row is acknowledged only after a successful publish.
type OutboxPoller struct {
	source      OutboxSource
	publisher   Publisher
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(source OutboxSource, publisher Publisher, cfg *Config, logger *slog.Logger) *OutboxPoller {
	interval := cfg.OutboxPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := cfg.OutboxBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &OutboxPoller{
		source:      source,
		publisher:   publisher,
		logger:      logger,
		topicPrefix: cfg.KafkaTopicPrefix,
		interval:    interval,
		batchSize:   batch,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// PollOnce publishes one batch and returns how many events were acknowledged.
// Publishing stops at the first failure so per-partition order is preserved.
func (p *OutboxPoller) PollOnce(ctx context.Context) (int, error) {
	events, err := p.source.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		msg, err := json.Marshal(map[string]interface{}{
			"event_id":       e.EventID,
			"aggregate_type": e.AggregateType,
			"aggregate_id":   e.AggregateID,
			"event_type":     e.EventType,
			"headers":        e.Headers,
			"payload":        e.Payload,
			"occurred_at":    e.OccurredAt,
		})
		if err != nil {
			publishErr = fmt.Errorf("encode event %s: %w", e.EventID, err)
			break
		}

		if err := p.publisher.Publish(ctx, e.Topic(p.topicPrefix), []byte(e.PartitionKey), msg); err != nil {
			publishErr = fmt.Errorf("publish event %s: %w", e.EventID, err)
			break
		}
		published = append(published, e.SeqID)
	}

	if len(published) > 0 {
		if err := p.source.MarkPublished(ctx, published); err != nil {
			return 0, fmt.Errorf("mark published: %w", err)
		}
	}

	p.logger.Debug("outbox poll complete", "published", len(published), "fetched", len(events))
	return len(published), publishErr
}
