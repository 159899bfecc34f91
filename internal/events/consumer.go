package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultGroup    = "price-scraper-group"
	DefaultConsumer = "consumer-1"
)

// StreamClient is the subset of *redis.Client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ListingsHandler reacts to one delivered LISTINGS_SCRAPED event.
type ListingsHandler func(ctx context.Context, payload database.ListingsScrapedPayload) error

// envelope mirrors the "data" field the relay writes.
type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// Consumer reads the listings stream through a consumer group and acks every
// message its handler accepted. Failed messages stay pending in the group.
type Consumer struct {
	redis   StreamClient
	handler ListingsHandler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, handler ListingsHandler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.ListingsStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = DefaultConsumer
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		redis:   client,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "listings_consumer", "stream", cfg.Stream),
	}
}

// Run consumes until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("consumer started", "group", c.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		default:
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Error("failed to process message", "id", msg.ID, "error", err)
				continue
			}
			if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
			}
		}
	}
	return nil
}

// handle decodes one message. Events of other types are acked unhandled.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != database.EventListingsScraped {
		return nil
	}

	raw, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in event")
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}

	var payload database.ListingsScrapedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	if payload.Store == "" {
		return fmt.Errorf("missing store in payload of event %s", env.ID)
	}

	c.logger.Debug("listings scraped", "event_id", env.ID, "store", payload.Store, "count", payload.Count)
	return c.handler(ctx, payload)
}
