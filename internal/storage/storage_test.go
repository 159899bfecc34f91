package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(link, store string, price float64) models.Product {
	return models.Product{Title: "Процессор " + link, Price: price, Link: link, Store: store}
}

func newStore(t *testing.T) (*ListingStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.json")
	ls, err := NewListingStore(path)
	require.NoError(t, err)
	ls.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return ls, path
}

func TestUpsertListingsIsIdempotent(t *testing.T) {
	ls, _ := newStore(t)
	ctx := context.Background()

	batch := []models.Product{
		product("https://www.dns-shop.ru/product/a/", "DNS Shop", 17499),
		product("https://www.dns-shop.ru/product/b/", "DNS Shop", 10999),
		product("https://www.dns-shop.ru/product/a/", "Citilink", 17299),
	}

	require.NoError(t, ls.UpsertListings(ctx, batch))
	first := ls.ByStore("DNS Shop")
	require.NoError(t, ls.UpsertListings(ctx, batch))

	assert.Equal(t, 3, ls.Len())
	assert.Equal(t, first, ls.ByStore("DNS Shop"))
	assert.Equal(t, map[string]int{"DNS Shop": 2, "Citilink": 1, "total": 3}, ls.GetStats())
}

func TestUpsertListingsUpdatesKnownListing(t *testing.T) {
	ls, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, ls.UpsertListings(ctx, []models.Product{product("/a", "DNS Shop", 17499)}))
	require.NoError(t, ls.UpsertListings(ctx, []models.Product{
		product("/a", "DNS Shop", 16999),
		product("/a", "DNS Shop", 1),
	}))

	got, ok := ls.Get("/a", "DNS Shop")
	require.True(t, ok)
	assert.Equal(t, 16999.0, got.Price)
	assert.False(t, got.ScrapedAt.IsZero())

	_, ok = ls.Get("/a", "Citilink")
	assert.False(t, ok)
}

func TestUpsertListingsSkipsKeylessProducts(t *testing.T) {
	ls, _ := newStore(t)

	require.NoError(t, ls.UpsertListings(context.Background(), []models.Product{
		product("", "DNS Shop", 100),
		product("/a", "", 100),
	}))
	assert.Zero(t, ls.Len())
}

func TestListingStorePersists(t *testing.T) {
	ls, path := newStore(t)
	require.NoError(t, ls.UpsertListings(context.Background(), []models.Product{
		product("/a", "DNS Shop", 17499),
		product("/b", "DNS Shop", 10999),
	}))

	reopened, err := NewListingStore(path)
	require.NoError(t, err)

	got := reopened.ByStore("DNS Shop")
	require.Len(t, got, 2)
	assert.Equal(t, "/b", got[0].Link)
	assert.Equal(t, "/a", got[1].Link)
}

func TestNewListingStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewListingStore(path)
	assert.Error(t, err)
}

func TestUpsertListingsHonoursContext(t *testing.T) {
	ls, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ls.UpsertListings(ctx, []models.Product{product("/a", "DNS Shop", 1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ls.Len())
}

func TestUpsertListingsKeepsStateWhenSaveFails(t *testing.T) {
	ls, path := newStore(t)
	ctx := context.Background()
	link := "https://www.dns-shop.ru/product/a/"

	require.NoError(t, ls.UpsertListings(ctx, []models.Product{product(link, "DNS Shop", 17499)}))

	ls.filename = filepath.Join(t.TempDir(), "missing", "listings.json")
	err := ls.UpsertListings(ctx, []models.Product{
		product(link, "DNS Shop", 15999),
		product("https://www.dns-shop.ru/product/b/", "DNS Shop", 10999),
	})
	require.Error(t, err)

	assert.Equal(t, 1, ls.Len())
	p, ok := ls.Get(link, "DNS Shop")
	require.True(t, ok)
	assert.Equal(t, 17499.0, p.Price)

	reloaded, err := NewListingStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
}
