package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/hardware-price-scraper/internal/models"
)

const upsertListingQuery = `
	INSERT INTO listings (
		link, store, title, price, raw_price, original_price, discount,
		image, availability, category, search_query, scraped_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
	ON CONFLICT (link, store) DO UPDATE SET
		title = EXCLUDED.title,
		price = EXCLUDED.price,
		raw_price = EXCLUDED.raw_price,
		original_price = EXCLUDED.original_price,
		discount = EXCLUDED.discount,
		image = EXCLUDED.image,
		availability = EXCLUDED.availability,
		category = EXCLUDED.category,
		search_query = EXCLUDED.search_query,
		scraped_at = EXCLUDED.scraped_at,
		updated_at = CURRENT_TIMESTAMP`

// ListingsScrapedPayload is the outbox payload written with every batch.
type ListingsScrapedPayload struct {
	Store       string    `json:"store"`
	Category    string    `json:"category,omitempty"`
	SearchQuery string    `json:"search_query,omitempty"`
	Count       int       `json:"count"`
	MinPrice    float64   `json:"min_price"`
	MaxPrice    float64   `json:"max_price"`
	Links       []string  `json:"links"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// NewListingsScrapedPayload summarizes a de-duplicated, non-empty batch.
func NewListingsScrapedPayload(products []models.Product, now time.Time) ListingsScrapedPayload {
	first := products[0]
	payload := ListingsScrapedPayload{
		Store:       first.Store,
		Category:    first.Category,
		SearchQuery: first.SearchQuery,
		Count:       len(products),
		MinPrice:    first.Price,
		MaxPrice:    first.Price,
		Links:       make([]string, 0, len(products)),
		ScrapedAt:   now,
	}
	for _, p := range products {
		payload.MinPrice = min(payload.MinPrice, p.Price)
		payload.MaxPrice = max(payload.MaxPrice, p.Price)
		payload.Links = append(payload.Links, p.Link)
	}
	return payload
}

// ListingRepository stores listings keyed by (link, store).
type ListingRepository struct {
	db     *DB
	outbox *OutboxRepository
	logger *slog.Logger
}

func NewListingRepository(db *DB, logger *slog.Logger) *ListingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		logger: logger.With("component", "listing_repository"),
	}
}

// UpsertListings writes the batch and its LISTINGS_SCRAPED event in one
// transaction. Duplicate (link, store) pairs inside the batch keep the
// first occurrence.
func (r *ListingRepository) UpsertListings(ctx context.Context, products []models.Product) error {
	batch := models.DedupeByKey(products)
	if len(batch) == 0 {
		return nil
	}

	now := time.Now()
	payload, err := json.Marshal(NewListingsScrapedPayload(batch, now))
	if err != nil {
		return fmt.Errorf("failed to marshal listings event: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, p := range batch {
			scrapedAt := p.ScrapedAt
			if scrapedAt.IsZero() {
				scrapedAt = now
			}
			_, err := tx.Exec(ctx, upsertListingQuery,
				p.Link, p.Store, p.Title, p.Price, nullable(p.RawPrice), nullableFloat(p.OriginalPrice),
				nullable(p.Discount), nullable(p.Image), nullable(p.Availability), nullable(p.Category),
				nullable(p.SearchQuery), scrapedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert listing %s: %w", p.Link, err)
			}
		}

		return r.outbox.Enqueue(ctx, tx, &OutboxEvent{
			Stream:        ListingsStream,
			Type:          EventListingsScraped,
			AggregateType: ListingBatchAggregate,
			AggregateID:   batch[0].Store,
			Payload:       payload,
		})
	})
	if err != nil {
		return err
	}

	r.logger.Info("listings upserted", "store", batch[0].Store, "count", len(batch))
	return nil
}

// CountListings returns the number of stored listings of a store.
func (r *ListingRepository) CountListings(ctx context.Context, store string) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM listings WHERE store = $1", store).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableFloat(f float64) *float64 {
	if f <= 0 {
		return nil
	}
	return &f
}
