package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/qiwenlee/fundflow/internal/config"
	"github.com/qiwenlee/fundflow/internal/models"
)

// Loader is the L3 tier: the multi-source fetcher, invoked only after
// both cache tiers miss.
type Loader interface {
	FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error)
	FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error)
}

// Manager orchestrates the three tiers: L1 in-process, L2 redis
// snapshots with a freshness check, L3 live fetch. At most one L3 fetch
// is in flight per (instrument, metric) key; concurrent callers wait on
// that fetch instead of issuing duplicate provider calls. Write-through
// goes L2 then L1, so cross-tier equality is only eventual.
type Manager struct {
	l1     *MemoryCache
	l2     *SnapshotCache
	loader Loader
	cfg    config.CacheConfig
	logger *logrus.Logger
	flight singleflight.Group

	delayed map[string]bool
	now     func() time.Time
}

func NewManager(l1 *MemoryCache, l2 *SnapshotCache, loader Loader, cfg config.CacheConfig, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	delayed := make(map[string]bool, len(cfg.DelayedCodes))
	for _, code := range cfg.DelayedCodes {
		delayed[code] = true
	}
	return &Manager{
		l1:      l1,
		l2:      l2,
		loader:  loader,
		cfg:     cfg,
		logger:  logger,
		delayed: delayed,
		now:     time.Now,
	}
}

// GetLatest answers the latest-valuation metric for code through the
// tier chain.
func (m *Manager) GetLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	day := models.DayBucket(m.now())
	key := "latest:" + code + ":" + day

	if v, ok := m.l1.Get(key); ok {
		if latest, ok := v.(*models.LatestValuation); ok {
			return latest, nil
		}
		// Type-mismatched entry is corruption: drop and fall through.
		m.l1.Delete(key)
	}

	if latest, ok := m.l2.GetLatest(ctx, code, day); ok && m.fresh(code, latest.AsOf) {
		m.l1.Set(key, latest)
		return latest, nil
	}

	v, err, shared := m.flight.Do(key, func() (any, error) {
		latest, err := m.loader.FetchLatest(ctx, code)
		if err != nil {
			return nil, err
		}
		m.l2.PutLatest(ctx, code, day, latest)
		m.l1.Set(key, latest)
		return latest, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.WithField("key", key).Debug("single-flight collapsed duplicate fetch")
	}
	return v.(*models.LatestValuation), nil
}

// GetSeries answers the history metric for code through the tier chain.
// The series is cached per (code, lookback, day); freshness requires the
// newest point to be within the instrument's allowed lag.
func (m *Manager) GetSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	day := models.DayBucket(m.now())
	bucket := fmt.Sprintf("%s:%d", day, lookback)
	key := fmt.Sprintf("series:%s:%d:%s", code, lookback, day)

	if v, ok := m.l1.Get(key); ok {
		if points, ok := v.([]models.ValuationPoint); ok {
			return points, nil
		}
		m.l1.Delete(key)
	}

	if points, ok := m.l2.GetSeries(ctx, code, bucket); ok && len(points) > 0 &&
		m.fresh(code, points[len(points)-1].Date) {
		m.l1.Set(key, points)
		return points, nil
	}

	v, err, _ := m.flight.Do(key, func() (any, error) {
		points, err := m.loader.FetchSeries(ctx, code, lookback)
		if err != nil {
			return nil, err
		}
		m.l2.PutSeries(ctx, code, bucket, points)
		m.l1.Set(key, points)
		return points, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.ValuationPoint), nil
}

// fresh reports whether asOf is within the acceptable lag for code.
// Instruments on the delayed list (cross-border funds posting NAVs
// late) get the larger ceiling.
func (m *Manager) fresh(code string, asOf time.Time) bool {
	lag := m.cfg.MaxLagDays
	if m.delayed[code] {
		lag = m.cfg.DelayedLagDays
	}
	if lag <= 0 {
		lag = 1
	}

	today := m.now().Truncate(24 * time.Hour)
	observed := asOf.Truncate(24 * time.Hour)
	return !observed.Before(today.AddDate(0, 0, -lag))
}

// Invalidate forces the next read for code to bypass both cache tiers.
func (m *Manager) Invalidate(ctx context.Context, code string) {
	// L1 keys embed day buckets and lookbacks; clearing the whole tier
	// is cheaper than enumerating them and the tier refills in minutes.
	m.l1.Clear()
	m.l2.Invalidate(ctx, code)
	m.logger.WithField("code", code).Info("cache invalidated")
}

// InvalidateAll drops both tiers entirely.
func (m *Manager) InvalidateAll(ctx context.Context) {
	m.l1.Clear()
	m.l2.InvalidateAll(ctx)
	m.logger.Info("all cache tiers invalidated")
}

// L1Stats exposes in-process cache effectiveness for the health surface.
func (m *Manager) L1Stats() MemoryStats {
	return m.l1.Stats()
}
