package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-trader/internal/models"
)

// Wednesday 2026-01-07, 12:00 New York: market open.
var openTime = time.Date(2026, 1, 7, 12, 0, 0, 0, mustLoadNY())

// Same day, 20:00 New York: after the close.
var closedTime = time.Date(2026, 1, 7, 20, 0, 0, 0, mustLoadNY())

func mustLoadNY() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

func testOpinion(sourceID, symbol string) models.SourceOpinion {
	return models.SourceOpinion{
		SourceID:   sourceID,
		Symbol:     symbol,
		Direction:  models.DirectionBuy,
		Confidence: 70,
		FetchedAt:  time.Now(),
	}
}

func TestCalendarSessionBounds(t *testing.T) {
	cal := DefaultCalendar()

	assert.True(t, cal.IsOpenAt(openTime))
	assert.False(t, cal.IsOpenAt(closedTime))

	// Boundary minutes: open is inclusive, close exclusive.
	open := time.Date(2026, 1, 7, 9, 30, 0, 0, mustLoadNY())
	assert.True(t, cal.IsOpenAt(open))
	assert.False(t, cal.IsOpenAt(open.Add(-time.Minute)))
	closeAt := time.Date(2026, 1, 7, 16, 0, 0, 0, mustLoadNY())
	assert.False(t, cal.IsOpenAt(closeAt))

	// Saturday midday.
	saturday := time.Date(2026, 1, 10, 12, 0, 0, 0, mustLoadNY())
	assert.False(t, cal.IsOpenAt(saturday))
}

func TestCalendarNextOpenSkipsWeekend(t *testing.T) {
	cal := DefaultCalendar()

	// Friday after the close rolls to Monday.
	friday := time.Date(2026, 1, 9, 17, 0, 0, 0, mustLoadNY())
	next := cal.NextOpen(friday)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())

	// Before the open on a weekday stays on the same day.
	early := time.Date(2026, 1, 7, 8, 0, 0, 0, mustLoadNY())
	assert.Equal(t, early.Day(), cal.NextOpen(early).Day())
}

func TestTTLSelectionByMarketHours(t *testing.T) {
	c := New(NewMemoryStore(), DefaultCalendar())
	c.SetTTLs("market_data", TTLs{MarketHours: 30 * time.Second, OffHours: 10 * time.Minute})

	assert.Equal(t, 30*time.Second, c.TTLFor("market_data", openTime))
	assert.Equal(t, 10*time.Minute, c.TTLFor("market_data", closedTime))

	// Unknown sources use the fallback pair.
	assert.Equal(t, 30*time.Second, c.TTLFor("unknown", openTime))
	assert.Equal(t, 10*time.Minute, c.TTLFor("unknown", closedTime))
}

func TestOpinionCacheRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(), DefaultCalendar())
	ctx := context.Background()

	_, err := c.Get(ctx, "technical", "AAPL")
	assert.ErrorIs(t, err, ErrCacheMiss)

	opinion := testOpinion("technical", "AAPL")
	require.NoError(t, c.Put(ctx, opinion))

	got, err := c.Get(ctx, "technical", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, opinion.SourceID, got.SourceID)
	assert.InDelta(t, opinion.Confidence, got.Confidence, 1e-9)

	// Same source, different symbol is a separate key.
	_, err = c.Get(ctx, "technical", "MSFT")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Invalidate(ctx, "technical", "AAPL"))
	_, err = c.Get(ctx, "technical", "AAPL")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", testOpinion("s", "AAPL"), time.Minute))
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	// Past the TTL the entry misses and is evicted on read.
	current = current.Add(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreOverwriteExtendsTTL(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", testOpinion("s", "AAPL"), time.Minute))
	current = current.Add(50 * time.Second)
	require.NoError(t, store.Set(ctx, "k", testOpinion("s", "AAPL"), time.Minute))

	current = current.Add(50 * time.Second)
	_, err := store.Get(ctx, "k")
	assert.NoError(t, err, "rewrite must restart the TTL clock")
}
