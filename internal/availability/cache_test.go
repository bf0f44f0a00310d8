package availability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/harborline/harborline/internal/fleet"
)

func newTestCache(t *testing.T) *SummaryCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute)
}

func sampleSummary(tripID int64) *TripSummary {
	return &TripSummary{
		TripID: tripID,
		Types: []TypeSummary{
			{Type: fleet.SeatTypePassenger, Total: 60, Allocated: 25, Remaining: 90},
		},
	}
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, sampleSummary(10)))

	cached, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), cached.TripID)
	require.Equal(t, 25, cached.Types[0].Allocated)
}

func TestSummaryCacheInvalidateBumpsVersion(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSummary(10)))
	require.NoError(t, cache.Invalidate(ctx, 10))

	_, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)

	// a fresh write under the new version is served again
	require.NoError(t, cache.Set(ctx, sampleSummary(10)))
	cached, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), cached.TripID)
}

func TestSummaryCacheIsolatesTrips(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSummary(10)))
	require.NoError(t, cache.Invalidate(ctx, 11))

	cached, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), cached.TripID)
}

func TestSummaryCacheNilClientIsDisabled(t *testing.T) {
	cache := NewSummaryCache(nil, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleSummary(10)))
	_, ok, err := cache.Get(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Invalidate(ctx, 10))
}
