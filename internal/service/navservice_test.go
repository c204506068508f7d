package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiwenlee/fundflow/internal/cache"
	"github.com/qiwenlee/fundflow/internal/config"
	"github.com/qiwenlee/fundflow/internal/fetch"
	"github.com/qiwenlee/fundflow/internal/health"
	"github.com/qiwenlee/fundflow/internal/models"
	"github.com/qiwenlee/fundflow/internal/providers"
	"github.com/qiwenlee/fundflow/internal/ratelimit"
	"github.com/qiwenlee/fundflow/internal/reconcile"
)

// failingProvider satisfies the adapter surface but never answers, so
// every fetch ends in total failure.
type failingProvider struct{ name string }

func (p *failingProvider) Name() string { return p.name }
func (p *failingProvider) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	return nil, &providers.ProviderError{Provider: p.name, Op: "fetch_series", Err: context.DeadlineExceeded}
}
func (p *failingProvider) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	return nil, &providers.ProviderError{Provider: p.name, Op: "fetch_latest", Err: context.DeadlineExceeded}
}
func (p *failingProvider) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	return nil, &providers.ProviderError{Provider: p.name, Op: "fetch_metadata", Err: context.DeadlineExceeded}
}

// seriesProvider serves a fixed ascending series and a latest derived
// from its last point.
type seriesProvider struct {
	name   string
	points []models.ValuationPoint
}

func (p *seriesProvider) Name() string { return p.name }
func (p *seriesProvider) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	return p.points, nil
}
func (p *seriesProvider) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	last := p.points[len(p.points)-1]
	return &models.LatestValuation{Code: code, NAV: last.NAV, Source: p.name, AsOf: last.Date}, nil
}
func (p *seriesProvider) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	return &models.FundMetadata{Code: code, Source: p.name}, nil
}

type memPointStore struct {
	mu      sync.Mutex
	upserts [][]models.ValuationPoint
	points  []models.ValuationPoint
}

func (m *memPointStore) Upsert(ctx context.Context, points []models.ValuationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, points)
	return nil
}

func (m *memPointStore) QueryRange(ctx context.Context, code string, from, to time.Time) ([]models.ValuationPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points, nil
}

func seriesDays(t *testing.T, code string, navs ...string) []models.ValuationPoint {
	t.Helper()
	points := make([]models.ValuationPoint, 0, len(navs))
	start := time.Now().AddDate(0, 0, -len(navs)+1)
	for i, nav := range navs {
		points = append(points, models.ValuationPoint{
			Code:   code,
			Date:   start.AddDate(0, 0, i),
			NAV:    decimal.RequireFromString(nav),
			Source: "eastmoney",
		})
	}
	return points
}

func newServiceFixture(t *testing.T, provider providers.Provider, store PointStore) *NAVService {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := health.NewTracker(provider.Name(), 0.7, 0.2, nil)
	cfg := config.ProvidersConfig{
		Mode:        "priority",
		Priority:    []string{provider.Name()},
		Primary:     provider.Name(),
		MaxRetries:  0,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}
	fetcher := fetch.NewFetcher(providers.NewRegistry(provider), ratelimit.NewRegistry(), tracker, cfg, nil)

	l1 := cache.NewMemoryCache(128, time.Minute)
	l2 := cache.NewSnapshotCache(client, time.Hour, time.Hour, nil)
	loader := &PersistingLoader{Fetcher: fetcher, Store: store}
	tiers := cache.NewManager(l1, l2, loader, config.CacheConfig{MaxLagDays: 1, DelayedLagDays: 4}, nil)
	batch := fetch.NewBatchFetcher(fetcher, l2, 2, nil)

	return NewNAVService(tiers, batch, fetcher, store, tracker, reconcile.Config{TraceWindow: 10}, nil)
}

func TestNAVService_GetLatest(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.21")
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, &memPointStore{})

	v, err := svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "1.21", v.NAV.String())
	assert.Equal(t, "eastmoney", v.Source)
}

func TestNAVService_GetLatestDegradedOnTotalFailure(t *testing.T) {
	svc := newServiceFixture(t, &failingProvider{name: "eastmoney"}, &memPointStore{})

	v, err := svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "161725", v.Code)
	assert.Equal(t, models.SourceFailed, v.Source)
	assert.True(t, v.NAV.IsZero())
}

func TestNAVService_GetHistoryWriteBehind(t *testing.T) {
	points := seriesDays(t, "161725", "1.19", "1.20", "1.21")
	store := &memPointStore{}
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, store)

	got, err := svc.GetHistory(context.Background(), "161725", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Date.Before(got[2].Date))

	// The live fetch was persisted behind the read.
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.upserts, 1)
	assert.Len(t, store.upserts[0], 3)
}

func TestNAVService_GetHistoryFallsBackToStore(t *testing.T) {
	stored := seriesDays(t, "161725", "1.18", "1.19")
	store := &memPointStore{points: stored}
	svc := newServiceFixture(t, &failingProvider{name: "eastmoney"}, store)

	got, err := svc.GetHistory(context.Background(), "161725", 30)
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestNAVService_GetYesterdayReturn(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.26")
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, &memPointStore{})

	r, err := svc.GetYesterdayReturn(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "5", r.Value.String())
	assert.Equal(t, 1, r.DaysDiff)
	assert.False(t, r.IsStale)
}

func TestNAVService_GetMetadata(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.21")
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, &memPointStore{})

	md, err := svc.GetMetadata(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "161725", md.Code)
	assert.Equal(t, "eastmoney", md.Source)
}

func TestNAVService_BatchGetLatestCoversEveryCode(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.21")
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, &memPointStore{})

	out := svc.BatchGetLatest(context.Background(), []string{"161725", "000001"})
	require.Len(t, out, 2)
	assert.Equal(t, "eastmoney", out["161725"].Source)
	assert.Equal(t, "eastmoney", out["000001"].Source)
}

func TestNAVService_InvalidateForcesRefetch(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.21")
	provider := &seriesProvider{name: "eastmoney", points: points}
	svc := newServiceFixture(t, provider, &memPointStore{})

	_, err := svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)

	// Provider moves; the cached value is served until invalidation.
	provider.points = seriesDays(t, "161725", "1.21", "1.30")
	v, err := svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "1.21", v.NAV.String())

	svc.Invalidate(context.Background(), "161725")
	v, err = svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)
	assert.Equal(t, "1.3", v.NAV.String())
}

func TestNAVService_HealthSnapshotAndReset(t *testing.T) {
	points := seriesDays(t, "161725", "1.20", "1.21")
	svc := newServiceFixture(t, &seriesProvider{name: "eastmoney", points: points}, &memPointStore{})

	_, err := svc.GetLatest(context.Background(), "161725")
	require.NoError(t, err)

	snap := svc.HealthSnapshot()
	require.Contains(t, snap, "eastmoney")
	assert.Equal(t, 1.0, snap["eastmoney"].SuccessRate)

	svc.ResetHealth("eastmoney")
	snap = svc.HealthSnapshot()
	assert.Equal(t, int64(0), snap["eastmoney"].TotalCalls)
}
