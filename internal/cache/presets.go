package cache

import (
	"log/slog"
	"time"
)

// The three presets trade freshness for hit rate differently: quotes go stale
// in minutes, component metadata in hours.

type PresetConfig struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
}

var (
	PricePreset     = PresetConfig{TTL: 5 * time.Minute, MaxSize: 200, CleanupInterval: 2 * time.Minute}
	ComponentPreset = PresetConfig{TTL: 2 * time.Hour, MaxSize: 1000, CleanupInterval: 30 * time.Minute}
	GeneralPreset   = PresetConfig{TTL: 30 * time.Minute, MaxSize: 500, CleanupInterval: 10 * time.Minute}
)

// With overrides the preset's TTL and size; zero values keep the preset's.
func (p PresetConfig) With(ttl time.Duration, maxSize int) PresetConfig {
	if ttl > 0 {
		p.TTL = ttl
	}
	if maxSize > 0 {
		p.MaxSize = maxSize
	}
	return p
}

func newFromPreset[T any](p PresetConfig, logger *slog.Logger) *MemoryCache[T] {
	return New[T](Options{
		TTL:             p.TTL,
		MaxSize:         p.MaxSize,
		CleanupInterval: p.CleanupInterval,
		Logger:          logger,
	})
}

// NewPriceCache holds short-lived price quotes and API responses.
func NewPriceCache[T any](ttl time.Duration, maxSize int, logger *slog.Logger) *MemoryCache[T] {
	return newFromPreset[T](PricePreset.With(ttl, maxSize), logger)
}

// NewComponentCache holds per-retailer component scrapes.
func NewComponentCache[T any](ttl time.Duration, maxSize int, logger *slog.Logger) *MemoryCache[T] {
	return newFromPreset[T](ComponentPreset.With(ttl, maxSize), logger)
}

// NewGeneralCache holds aggregated comparisons.
func NewGeneralCache[T any](ttl time.Duration, maxSize int, logger *slog.Logger) *MemoryCache[T] {
	return newFromPreset[T](GeneralPreset.With(ttl, maxSize), logger)
}
