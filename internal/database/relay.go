package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const eventSource = "hardware-price-scraper"

// RedisClient is the part of *redis.Client the relay publishes through.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxStore is implemented by *OutboxRepository.
type OutboxStore interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, event *OutboxEvent, cause error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Lease hides claimed events from other relays while they are published.
	Lease time.Duration
	// Retention is how long published events are kept. Zero keeps them forever.
	Retention time.Duration
	// StreamMaxLen approximately caps every target stream. Zero disables trimming.
	StreamMaxLen int64
}

// Relay moves outbox events into Redis streams.
type Relay struct {
	redis     RedisClient
	outbox    OutboxStore
	cfg       RelayConfig
	logger    *slog.Logger
	now       func() time.Time
	lastPurge time.Time
}

func NewRelay(outbox OutboxStore, redisClient RedisClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		now:    time.Now,
	}
}

// Start relays batches every PollInterval until ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay started", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	published, failed, err := r.relayBatch(ctx)
	if err != nil {
		r.logger.Error("failed to relay outbox batch", "error", err)
	} else if published+failed > 0 {
		r.logger.Info("outbox batch relayed", "published", published, "failed", failed)
	}

	if r.cfg.Retention > 0 && r.now().Sub(r.lastPurge) >= r.cfg.Retention {
		r.lastPurge = r.now()
		purged, err := r.outbox.PurgePublished(ctx, r.lastPurge.Add(-r.cfg.Retention))
		if err != nil {
			r.logger.Error("failed to purge published events", "error", err)
		} else if purged > 0 {
			r.logger.Info("published events purged", "count", purged)
		}
	}
}

// relayBatch publishes one claimed batch. A failing event never stops the
// rest of the batch.
func (r *Relay) relayBatch(ctx context.Context) (published, failed int, err error) {
	events, err := r.outbox.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, 0, err
	}

	for _, event := range events {
		logger := r.logger.With("event_id", event.ID, "event_type", event.Type, "stream", event.Stream)

		if pubErr := r.publish(ctx, event); pubErr != nil {
			failed++
			if markErr := r.outbox.MarkFailed(ctx, event, pubErr); markErr != nil {
				logger.Error("failed to record delivery failure", "error", markErr, "cause", pubErr)
				continue
			}
			logger.Warn("event delivery failed", "error", pubErr, "attempts", event.Attempts, "status", event.Status)
			continue
		}

		published++
		if markErr := r.outbox.MarkPublished(ctx, event.ID); markErr != nil {
			// the lease expires and the event is delivered again
			logger.Error("failed to mark event published", "error", markErr)
		}
	}

	return published, failed, nil
}

// streamEnvelope is the JSON carried in the "data" field of every stream entry.
type streamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      streamMetadata  `json:"metadata"`
}

type streamMetadata struct {
	Source   string `json:"source"`
	Attempts int    `json:"attempts"`
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("event %s has an invalid payload", event.ID)
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.Type,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata:      streamMetadata{Source: eventSource, Attempts: event.Attempts},
	})
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: event.Stream,
		Values: map[string]any{
			"data":           string(data),
			"event_type":     event.Type,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		},
	}
	if r.cfg.StreamMaxLen > 0 {
		args.MaxLen = r.cfg.StreamMaxLen
		args.Approx = true
	}

	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// PendingCount returns the number of events still waiting for delivery.
func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, StatusPending, StatusFailed)
}

func (r *Relay) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, StatusDeadLetter)
}
