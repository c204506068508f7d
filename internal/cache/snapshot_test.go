package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiwenlee/fundflow/internal/models"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, s
}

func sampleLatest(code string) *models.LatestValuation {
	return &models.LatestValuation{
		Code:      code,
		NAV:       decimal.RequireFromString("1.2340"),
		Estimate:  decimal.RequireFromString("1.2411"),
		ChangePct: decimal.RequireFromString("0.58"),
		Source:    "eastmoney",
		AsOf:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotCache_LatestRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 0, nil)
	ctx := context.Background()

	_, ok := c.GetLatest(ctx, "161725", "2024-03-01")
	assert.False(t, ok)

	c.PutLatest(ctx, "161725", "2024-03-01", sampleLatest("161725"))

	got, ok := c.GetLatest(ctx, "161725", "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, "161725", got.Code)
	assert.True(t, got.NAV.Equal(decimal.RequireFromString("1.2340")))
	assert.Equal(t, "eastmoney", got.Source)
}

func TestSnapshotCache_CorruptPayloadIsAMiss(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 0, nil)
	ctx := context.Background()

	key := latestKeyPrefix + "161725:2024-03-01"
	require.NoError(t, s.Set(key, "{not json"))

	_, ok := c.GetLatest(ctx, "161725", "2024-03-01")
	assert.False(t, ok)

	// The corrupt value must be dropped so the refetched value can land.
	assert.False(t, s.Exists(key))
}

func TestSnapshotCache_SeriesRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 0, nil)
	ctx := context.Background()

	points := []models.ValuationPoint{
		{Code: "161725", Date: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), NAV: decimal.RequireFromString("1.22")},
		{Code: "161725", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), NAV: decimal.RequireFromString("1.23")},
	}
	c.PutSeries(ctx, "161725", "2024-03-01:30", points)

	got, ok := c.GetSeries(ctx, "161725", "2024-03-01:30")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.True(t, got[0].Date.Before(got[1].Date))
}

func TestSnapshotCache_UniverseRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 30*time.Minute, nil)
	ctx := context.Background()

	universe := map[string]*models.LatestValuation{
		"161725": sampleLatest("161725"),
		"000001": sampleLatest("000001"),
	}
	c.PutUniverse(ctx, "2024-03-01", universe)

	got, ok := c.GetUniverse(ctx, "2024-03-01")
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, "000001", got["000001"].Code)
}

func TestSnapshotCache_TTLApplied(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 0, nil)
	ctx := context.Background()

	c.PutLatest(ctx, "161725", "2024-03-01", sampleLatest("161725"))

	// Past the TTL the key is gone.
	s.FastForward(time.Hour + time.Second)
	_, ok := c.GetLatest(ctx, "161725", "2024-03-01")
	assert.False(t, ok)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewSnapshotCache(client, time.Hour, 0, nil)
	ctx := context.Background()

	c.PutLatest(ctx, "161725", "2024-03-01", sampleLatest("161725"))
	c.PutLatest(ctx, "000001", "2024-03-01", sampleLatest("000001"))

	c.Invalidate(ctx, "161725")

	_, ok := c.GetLatest(ctx, "161725", "2024-03-01")
	assert.False(t, ok)
	_, ok = c.GetLatest(ctx, "000001", "2024-03-01")
	assert.True(t, ok)

	c.InvalidateAll(ctx)
	_, ok = c.GetLatest(ctx, "000001", "2024-03-01")
	assert.False(t, ok)
}
