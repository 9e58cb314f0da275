// Package cache provides the TTL opinion cache with market-hours-aware TTL
// selection, backed by either a local map or a shared Redis instance.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consensus-trader/internal/models"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Store defines the backend operations for the opinion cache.
type Store interface {
	Get(ctx context.Context, key string) (models.SourceOpinion, error)
	Set(ctx context.Context, key string, opinion models.SourceOpinion, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// TTLs holds the per-source TTL pair.
type TTLs struct {
	MarketHours time.Duration
	OffHours    time.Duration
}

// OpinionCache caches source opinions keyed by source and symbol, choosing
// the TTL from the market calendar: shorter during active trading hours,
// longer off-hours to balance freshness against API cost.
type OpinionCache struct {
	store    Store
	calendar *Calendar
	ttls     map[string]TTLs
	fallback TTLs
}

// New creates an opinion cache over the given backend.
func New(store Store, calendar *Calendar) *OpinionCache {
	if calendar == nil {
		calendar = DefaultCalendar()
	}
	return &OpinionCache{
		store:    store,
		calendar: calendar,
		ttls:     make(map[string]TTLs),
		fallback: TTLs{MarketHours: 30 * time.Second, OffHours: 10 * time.Minute},
	}
}

// SetTTLs registers the TTL pair for a source.
func (c *OpinionCache) SetTTLs(sourceID string, ttls TTLs) {
	if ttls.MarketHours > 0 || ttls.OffHours > 0 {
		c.ttls[sourceID] = ttls
	}
}

// TTLFor returns the effective TTL for the source at the given instant.
func (c *OpinionCache) TTLFor(sourceID string, at time.Time) time.Duration {
	ttls, ok := c.ttls[sourceID]
	if !ok {
		ttls = c.fallback
	}
	if c.calendar.IsOpenAt(at) {
		return ttls.MarketHours
	}
	return ttls.OffHours
}

// Get returns the cached opinion for source+symbol, or ErrCacheMiss.
func (c *OpinionCache) Get(ctx context.Context, sourceID, symbol string) (models.SourceOpinion, error) {
	return c.store.Get(ctx, key(sourceID, symbol))
}

// Put stores an opinion under the source's current TTL.
func (c *OpinionCache) Put(ctx context.Context, opinion models.SourceOpinion) error {
	ttl := c.TTLFor(opinion.SourceID, time.Now())
	if ttl <= 0 {
		return nil
	}
	return c.store.Set(ctx, key(opinion.SourceID, opinion.Symbol), opinion, ttl)
}

// Invalidate drops the cached opinion for source+symbol.
func (c *OpinionCache) Invalidate(ctx context.Context, sourceID, symbol string) error {
	return c.store.Delete(ctx, key(sourceID, symbol))
}

// Close releases the backend.
func (c *OpinionCache) Close() error {
	return c.store.Close()
}

func key(sourceID, symbol string) string {
	return fmt.Sprintf("opinion:%s:%s", sourceID, symbol)
}
