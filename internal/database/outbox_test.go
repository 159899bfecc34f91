package database

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DB_HOST and resets the tables, or skips.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("Test database not configured")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}

	ctx := context.Background()
	db, err := New(ctx, Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		Database: os.Getenv("TEST_DB_NAME"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE listings, outbox_event")
	require.NoError(t, err)

	return db
}

func enqueue(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	err := db.Transaction(context.Background(), func(tx pgx.Tx) error {
		return repo.Enqueue(context.Background(), tx, event)
	})
	require.NoError(t, err)
}

func batchEvent(store string) *OutboxEvent {
	return &OutboxEvent{
		Type:          EventListingsScraped,
		AggregateType: ListingBatchAggregate,
		AggregateID:   store,
		Payload:       json.RawMessage(`{"store":"` + store + `","count":2}`),
	}
}

func TestApplyDefaults(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	event := &OutboxEvent{Type: EventListingsScraped}

	event.applyDefaults(now)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, StatusPending, event.Status)
	assert.Equal(t, ListingsStream, event.Stream)
	assert.Equal(t, now, event.CreatedAt)
	assert.Equal(t, now, event.AvailableAt)

	id := uuid.New()
	later := now.Add(time.Hour)
	custom := &OutboxEvent{ID: id, Stream: "stream:prices", AvailableAt: later}
	custom.applyDefaults(now)
	assert.Equal(t, id, custom.ID)
	assert.Equal(t, "stream:prices", custom.Stream)
	assert.Equal(t, later, custom.AvailableAt)
}

func TestNextAttemptAt(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, maxRetryDelay},
		{40, maxRetryDelay},
	}
	for _, tt := range tests {
		assert.Equal(t, now.Add(tt.expected), nextAttemptAt(now, tt.attempts), "attempt %d", tt.attempts)
	}
}

func TestFailureStatus(t *testing.T) {
	assert.Equal(t, StatusFailed, failureStatus(1))
	assert.Equal(t, StatusFailed, failureStatus(MaxDeliveryAttempts-1))
	assert.Equal(t, StatusDeadLetter, failureStatus(MaxDeliveryAttempts))
}

func TestOutboxRepository_Enqueue(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("event becomes claimable after commit", func(t *testing.T) {
		event := batchEvent("DNS Shop")
		enqueue(t, db, repo, event)

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, StatusPending, event.Status)

		claimed, err := repo.Claim(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, event.ID, claimed[0].ID)
		assert.JSONEq(t, string(event.Payload), string(claimed[0].Payload))
	})

	t.Run("rolled back event is never delivered", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.Enqueue(ctx, tx, batchEvent("Citilink")); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.Error(t, err)

		count, err := repo.CountByStatus(ctx, StatusPending)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("payload must be JSON", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			event := batchEvent("DNS Shop")
			event.Payload = nil
			return repo.Enqueue(ctx, tx, event)
		})
		assert.Error(t, err)
	})
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := batchEvent("DNS Shop")
	enqueue(t, db, repo, event)

	claimed, err := repo.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := repo.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed events are leased")

	require.NoError(t, repo.MarkFailed(ctx, claimed[0], assert.AnError))
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, StatusFailed, claimed[0].Status)

	// a stale copy of the event lost the race
	stale := *event
	assert.ErrorIs(t, repo.MarkFailed(ctx, &stale, assert.AnError), ErrEventConflict)

	var status, message string
	var attempts int
	err = db.QueryRow(ctx,
		"SELECT status, attempts, last_error FROM outbox_event WHERE id = $1",
		event.ID).Scan(&status, &attempts, &message)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, assert.AnError.Error(), message)

	require.NoError(t, repo.MarkPublished(ctx, event.ID))
	count, err := repo.CountByStatus(ctx, StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Error(t, repo.MarkPublished(ctx, uuid.New()))

	purged, err := repo.PurgePublished(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
