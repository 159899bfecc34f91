package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(link string, price float64) models.Product {
	return models.Product{
		Title:       "Процессор AMD Ryzen 5 7600 OEM",
		Price:       price,
		Link:        link,
		Store:       "DNS Shop",
		Category:    "cpu",
		SearchQuery: "ryzen",
		ScrapedAt:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "scraper", Password: "p@ss:word", Database: "hardware_prices"}
	assert.Equal(t, "postgres://scraper:p%40ss%3Aword@db:5433/hardware_prices?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")

	cfg.MaxConns = 4
	assert.Contains(t, cfg.DSN(), "pool_max_conns=4")
}

func TestNewListingsScrapedPayload(t *testing.T) {
	now := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	payload := NewListingsScrapedPayload([]models.Product{
		listing("https://www.dns-shop.ru/product/a/", 17499),
		listing("https://www.dns-shop.ru/product/b/", 10999),
		listing("https://www.dns-shop.ru/product/c/", 41999),
	}, now)

	assert.Equal(t, "DNS Shop", payload.Store)
	assert.Equal(t, "cpu", payload.Category)
	assert.Equal(t, 3, payload.Count)
	assert.Equal(t, 10999.0, payload.MinPrice)
	assert.Equal(t, 41999.0, payload.MaxPrice)
	assert.Len(t, payload.Links, 3)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"search_query":"ryzen"`)
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", *nullable("x"))
	assert.Nil(t, nullableFloat(0))
	assert.Equal(t, 1.5, *nullableFloat(1.5))
}

func TestListingRepository_UpsertListings(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewListingRepository(db, nil)

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, repo.UpsertListings(ctx, nil))
		count, err := repo.outbox.CountByStatus(ctx, StatusPending)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("duplicates inside a batch keep the first occurrence", func(t *testing.T) {
		err := repo.UpsertListings(ctx, []models.Product{
			listing("https://www.dns-shop.ru/product/a/", 17499),
			listing("https://www.dns-shop.ru/product/a/", 99999),
			listing("https://www.dns-shop.ru/product/b/", 10999),
		})
		require.NoError(t, err)

		count, err := repo.CountListings(ctx, "DNS Shop")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		var price float64
		err = db.QueryRow(ctx, "SELECT price::float8 FROM listings WHERE link = $1", "https://www.dns-shop.ru/product/a/").Scan(&price)
		require.NoError(t, err)
		assert.Equal(t, 17499.0, price)
	})

	t.Run("second upsert updates in place", func(t *testing.T) {
		require.NoError(t, repo.UpsertListings(ctx, []models.Product{
			listing("https://www.dns-shop.ru/product/a/", 16999),
		}))

		count, err := repo.CountListings(ctx, "DNS Shop")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		var price float64
		err = db.QueryRow(ctx, "SELECT price::float8 FROM listings WHERE link = $1", "https://www.dns-shop.ru/product/a/").Scan(&price)
		require.NoError(t, err)
		assert.Equal(t, 16999.0, price)

		events, err := repo.outbox.Claim(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventListingsScraped, events[0].Type)
		assert.Equal(t, ListingBatchAggregate, events[0].AggregateType)
		assert.Equal(t, "DNS Shop", events[1].AggregateID)
	})
}
