package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter hands out evenly spaced slots for requests against one store.
// Callers reserve a slot under the lock and sleep outside it, so a waiting
// caller never blocks another caller's reservation.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   time.Duration
	next     time.Time
}

// New spaces slots interval apart plus a random extra delay below jitter.
func New(interval, jitter time.Duration) *Limiter {
	return &Limiter{interval: interval, jitter: jitter}
}

// PerMinute converts a requests-per-minute allowance into a fixed spacing.
// A non-positive allowance disables limiting.
func PerMinute(rpm int) *Limiter {
	return New(IntervalFor(rpm), 0)
}

// IntervalFor returns ceil(60s / rpm).
func IntervalFor(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	ms := (60000 + rpm - 1) / rpm
	return time.Duration(ms) * time.Millisecond
}

// Wait blocks until the caller's slot comes up. A cancelled wait still
// consumes its slot.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.spacing())
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Limiter) spacing() time.Duration {
	if l.jitter <= 0 {
		return l.interval
	}
	return l.interval + rand.N(l.jitter)
}

const (
	failuresBeforeWidening   = 3
	successesBeforeNarrowing = 5
)

// Backoff computes retry delays for failed scrapes. Its base delay grows by
// half after every run of consecutive failures and shrinks by a tenth after
// a run of successes, never dropping below its floor or rising above half
// the ceiling.
type Backoff struct {
	mu        sync.Mutex
	base      time.Duration
	floor     time.Duration
	ceiling   time.Duration
	failures  int
	successes int
}

func NewBackoff(base, ceiling time.Duration) *Backoff {
	return &Backoff{
		base:    base,
		floor:   min(time.Second, base),
		ceiling: ceiling,
	}
}

func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.successes++
	if b.successes <= successesBeforeNarrowing {
		return
	}
	b.successes = 0
	b.base = max(b.base*9/10, b.floor)
}

func (b *Backoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	b.failures++
	if b.failures < failuresBeforeWidening {
		return
	}
	b.failures = 0
	b.base = min(b.base*3/2, b.ceiling/2)
}

// Delay returns the wait before retry number attempt (1-based): the base
// doubled per attempt, capped at the ceiling.
func (b *Backoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.base
	for i := 1; i < attempt && d < b.ceiling; i++ {
		d *= 2
	}
	return min(d, b.ceiling)
}

func (b *Backoff) Base() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}
