package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox statuses. Failed events are retried with backoff until
// MaxDeliveryAttempts, then parked as dead letters.
const (
	StatusPending    = "pending"
	StatusPublished  = "published"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"

	MaxDeliveryAttempts = 5
	maxRetryDelay       = 5 * time.Minute

	ListingsStream        = "stream:listings"
	EventListingsScraped  = "LISTINGS_SCRAPED"
	ListingBatchAggregate = "listing_batch"
)

var ErrEventConflict = errors.New("outbox event was updated concurrently")

// OutboxEvent is one row of outbox_event: a message written in the same
// transaction as the data it describes and delivered to Stream later.
type OutboxEvent struct {
	ID            uuid.UUID
	Stream        string
	Type          string
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	AvailableAt   time.Time
}

func (e *OutboxEvent) applyDefaults(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Stream == "" {
		e.Stream = ListingsStream
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	e.CreatedAt = now
	if e.AvailableAt.IsZero() {
		e.AvailableAt = now
	}
}

type OutboxRepository struct {
	db  *DB
	now func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

// Enqueue writes event inside tx, so it is only visible once the caller's
// data is committed.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if len(event.Payload) == 0 || !json.Valid(event.Payload) {
		return fmt.Errorf("failed to enqueue %s event: payload is not valid JSON", event.Type)
	}
	event.applyDefaults(r.now())

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, stream, event_type, aggregate_type, aggregate_id, payload,
			status, attempts, created_at, available_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Stream, event.Type, event.AggregateType, event.AggregateID, event.Payload,
		event.Status, event.Attempts, event.CreatedAt, event.AvailableAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", event.Type, err)
	}
	return nil
}

// Claim leases up to limit deliverable events, oldest first. Claimed rows are
// hidden from other relays for lease; rows locked by a concurrent Claim are
// skipped rather than waited on.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]*OutboxEvent, error) {
	now := r.now()
	rows, err := r.db.Query(ctx, `
		UPDATE outbox_event SET available_at = $2
		WHERE id IN (
			SELECT id FROM outbox_event
			WHERE status IN ($3, $4) AND available_at <= $1
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, stream, event_type, aggregate_type, aggregate_id, payload,
			status, attempts, last_error, created_at, published_at, available_at`,
		now, now.Add(lease), StatusPending, StatusFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		e := &OutboxEvent{}
		if err := rows.Scan(
			&e.ID, &e.Stream, &e.Type, &e.AggregateType, &e.AggregateID, &e.Payload,
			&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt, &e.AvailableAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}

	// RETURNING has no order
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE outbox_event SET status = $1, published_at = $2, last_error = NULL WHERE id = $3",
		StatusPublished, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}
	return nil
}

// MarkFailed records one more failed delivery of event and schedules the next
// attempt. The update only applies if nobody else recorded an attempt since
// the event was claimed; otherwise ErrEventConflict is returned.
func (r *OutboxRepository) MarkFailed(ctx context.Context, event *OutboxEvent, cause error) error {
	attempts := event.Attempts + 1
	status := failureStatus(attempts)
	retryAt := nextAttemptAt(r.now(), attempts)
	msg := cause.Error()

	tag, err := r.db.Exec(ctx, `
		UPDATE outbox_event
		SET status = $1, attempts = $2, last_error = $3, available_at = $4
		WHERE id = $5 AND attempts = $6`,
		status, attempts, msg, retryAt, event.ID, event.Attempts)
	if err != nil {
		return fmt.Errorf("failed to mark event %s failed: %w", event.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventConflict, event.ID)
	}

	event.Status, event.Attempts, event.LastError, event.AvailableAt = status, attempts, &msg, retryAt
	return nil
}

// CountByStatus returns the number of events in any of statuses.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)", statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// PurgePublished deletes events published before cutoff.
func (r *OutboxRepository) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM outbox_event WHERE status = $1 AND published_at < $2", StatusPublished, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func failureStatus(attempts int) string {
	if attempts >= MaxDeliveryAttempts {
		return StatusDeadLetter
	}
	return StatusFailed
}

// nextAttemptAt doubles the wait per attempt (2s, 4s, 8s, ...) up to maxRetryDelay.
func nextAttemptAt(now time.Time, attempts int) time.Time {
	delay := maxRetryDelay
	if attempts < 9 {
		delay = min(time.Duration(1<<attempts)*time.Second, maxRetryDelay)
	}
	return now.Add(delay)
}
