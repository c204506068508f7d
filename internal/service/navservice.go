package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qiwenlee/fundflow/internal/cache"
	"github.com/qiwenlee/fundflow/internal/fetch"
	"github.com/qiwenlee/fundflow/internal/health"
	"github.com/qiwenlee/fundflow/internal/models"
	"github.com/qiwenlee/fundflow/internal/reconcile"
)

// PointStore is the durable history the service writes behind live
// fetches and falls back to when every provider is down.
type PointStore interface {
	Upsert(ctx context.Context, points []models.ValuationPoint) error
	QueryRange(ctx context.Context, code string, from, to time.Time) ([]models.ValuationPoint, error)
}

// MetadataFetcher resolves instrument metadata through the failover
// chain. Metadata is not cached; it changes rarely and is read rarely.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error)
}

// NAVService is the outbound surface consumed by the web layer,
// strategy engines and reporting. Total provider failure never leaks an
// error type outward: callers get a well-formed degraded DTO instead.
type NAVService struct {
	tiers   *cache.Manager
	batch   *fetch.BatchFetcher
	meta    MetadataFetcher
	store   PointStore
	tracker *health.Tracker
	recCfg  reconcile.Config
	logger  *logrus.Logger
}

func NewNAVService(tiers *cache.Manager, batch *fetch.BatchFetcher, meta MetadataFetcher, store PointStore, tracker *health.Tracker, recCfg reconcile.Config, logger *logrus.Logger) *NAVService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NAVService{
		tiers:   tiers,
		batch:   batch,
		meta:    meta,
		store:   store,
		tracker: tracker,
		recCfg:  recCfg,
		logger:  logger,
	}
}

// GetLatest returns the current value, intraday estimate and change for
// code. After total provider failure the DTO comes back zeroed with
// Source = "failed".
func (s *NAVService) GetLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	latest, err := s.tiers.GetLatest(ctx, code)
	if err != nil {
		var all *fetch.AllSourcesFailed
		if errors.As(err, &all) {
			s.logger.WithFields(logrus.Fields{"code": code, "error": all.Error()}).
				Warn("all providers failed, returning degraded valuation")
			return models.FailedLatest(code), nil
		}
		return nil, err
	}
	return latest, nil
}

// GetHistory returns up to days valuation points for code, ascending by
// date. When every provider fails the durable store answers instead.
func (s *NAVService) GetHistory(ctx context.Context, code string, days int) ([]models.ValuationPoint, error) {
	if days <= 0 {
		days = 30
	}

	points, err := s.tiers.GetSeries(ctx, code, days)
	if err != nil {
		var all *fetch.AllSourcesFailed
		if !errors.As(err, &all) {
			return nil, err
		}
		s.logger.WithField("code", code).Warn("all providers failed, serving history from durable store")
		now := time.Now()
		return s.store.QueryRange(ctx, code, now.AddDate(0, 0, -days), now)
	}
	return points, nil
}

// GetYesterdayReturn returns the reconciled previous-session return for
// code. Zero computed returns are traced backward per the reconciliation
// policy; the result carries its staleness distance.
func (s *NAVService) GetYesterdayReturn(ctx context.Context, code string) (*models.YesterdayReturn, error) {
	// The trace needs the window plus the two points the direct value is
	// computed from.
	lookback := s.recCfg.TraceWindow + 2

	points, err := s.GetHistory(ctx, code, lookback)
	if err != nil {
		return nil, err
	}
	return reconcile.YesterdayReturn(code, points, s.recCfg), nil
}

// GetMetadata returns descriptive metadata for code from the first
// provider able to supply it.
func (s *NAVService) GetMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	return s.meta.FetchMetadata(ctx, code)
}

// BatchGetLatest resolves many codes at once, preferring the daily bulk
// snapshot over per-instrument calls. Every requested code is present in
// the result; unresolvable ones map to the degraded DTO.
func (s *NAVService) BatchGetLatest(ctx context.Context, codes []string) map[string]*models.LatestValuation {
	results := s.batch.FetchLatestBatch(ctx, codes)
	out := make(map[string]*models.LatestValuation, len(results))
	for code, r := range results {
		out[code] = r.Valuation
	}
	return out
}

// Invalidate forces the next read for code to bypass both cache tiers,
// e.g. after a position edit requires a fresh realtime metric.
func (s *NAVService) Invalidate(ctx context.Context, code string) {
	s.tiers.Invalidate(ctx, code)
}

// InvalidateAll drops both cache tiers.
func (s *NAVService) InvalidateAll(ctx context.Context) {
	s.tiers.InvalidateAll(ctx)
}

// HealthSnapshot reports per-provider success rate, average latency and
// call volume.
func (s *NAVService) HealthSnapshot() map[string]health.Stats {
	return s.tracker.Snapshot()
}

// ResetHealth clears one provider's counters. Administrative action.
func (s *NAVService) ResetHealth(provider string) {
	s.tracker.Reset(provider)
}

// CacheStats exposes L1 effectiveness for the service health endpoint.
func (s *NAVService) CacheStats() cache.MemoryStats {
	return s.tiers.L1Stats()
}

// PersistingLoader decorates the multi-source fetcher with write-behind
// persistence: every live-fetched series is upserted into the durable
// store so reconciliation and long lookbacks survive restarts.
type PersistingLoader struct {
	Fetcher *fetch.Fetcher
	Store   PointStore
	Logger  *logrus.Logger
}

func (l *PersistingLoader) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	return l.Fetcher.FetchLatest(ctx, code)
}

func (l *PersistingLoader) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	points, err := l.Fetcher.FetchSeries(ctx, code, lookback)
	if err != nil {
		return nil, err
	}
	if l.Store != nil {
		if err := l.Store.Upsert(ctx, points); err != nil {
			logger := l.Logger
			if logger == nil {
				logger = logrus.StandardLogger()
			}
			logger.WithError(err).WithField("code", code).Warn("write-behind persistence failed")
		}
	}
	return points, nil
}
