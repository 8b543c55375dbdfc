package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ivf-outcome-server/internal/domain"
)

func sampleResults(oocytes float64) *domain.PredictionResults {
	return &domain.PredictionResults{
		Mode:         domain.PreRetrieval,
		AgeBracket:   domain.Age30To34,
		Oocytes:      domain.StageResult{Predicted: oocytes, Lower: oocytes * 0.75, Upper: oocytes * 1.25},
		ModelVersion: "test",
	}
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", sampleResults(12), 0))

	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.0, got.Oocytes.Predicted)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 0.5, stats.HitRate())
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	orig := sampleResults(9)
	require.NoError(t, c.Set(ctx, "k", orig, 0))
	orig.Oocytes.Predicted = 99

	got, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 9.0, got.Oocytes.Predicted)

	got.Oocytes.Predicted = 42
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, 9.0, again.Oocytes.Predicted)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)

	require.NoError(t, c.Set(ctx, "a", sampleResults(1), 0))
	require.NoError(t, c.Set(ctx, "b", sampleResults(2), 0))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", sampleResults(3), 0))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCache_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10, time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "default", sampleResults(1), 0))
	require.NoError(t, c.Set(ctx, "short", sampleResults(2), 10*time.Second))

	now = now.Add(30 * time.Second)
	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "per-call ttl should win over the default")
	_, ok, _ = c.Get(ctx, "default")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "default")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries, "expired entries are removed on read")
}

func TestMemoryCache_ZeroTTLKeepsEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "a", sampleResults(1), 0))
	now = now.Add(24 * 365 * time.Hour)
	_, ok, _ := c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCache_StartsNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemoryCache(10, time.Minute)
	require.NoError(t, c.Set(context.Background(), "a", sampleResults(1), 0))
	require.NoError(t, c.Close())
}

func TestMemoryCache_DeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	require.NoError(t, c.Set(ctx, "a", sampleResults(1), 0))
	require.NoError(t, c.Set(ctx, "b", sampleResults(2), 0))
	require.NoError(t, c.Delete(ctx, "a"))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
	assert.NoError(t, c.Close())
}

func TestStats_HitRateEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
}
