package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qiwenlee/fundflow/internal/config"
	"github.com/qiwenlee/fundflow/internal/health"
	"github.com/qiwenlee/fundflow/internal/models"
	"github.com/qiwenlee/fundflow/internal/providers"
	"github.com/qiwenlee/fundflow/internal/ratelimit"
)

// AllSourcesFailed aggregates the last error from every candidate
// provider. The service layer converts it into a degraded DTO; it never
// carries a provider-specific error type outward.
type AllSourcesFailed struct {
	Code   string
	Op     string
	Errors map[string]string
}

func (e *AllSourcesFailed) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for provider, msg := range e.Errors {
		parts = append(parts, provider+": "+msg)
	}
	sort.Strings(parts)
	return fmt.Sprintf("all sources failed for %s %s: [%s]", e.Op, e.Code, strings.Join(parts, "; "))
}

// endpointNames maps a fetch operation to the upstream endpoint whose
// rate budget it consumes, per provider.
var endpointNames = map[string]map[string]string{
	"eastmoney": {"series": "fund_nav", "latest": "fund_nav", "metadata": "fund_info", "universe": "fund_universe"},
	"tiantian":  {"latest": "fund_estimate"},
	"sina":      {"latest": "fund_quote", "metadata": "fund_quote"},
}

func endpointFor(provider, op string) string {
	if m := endpointNames[provider]; m != nil {
		if name := m[op]; name != "" {
			return name
		}
	}
	return op
}

// Fetcher walks candidate providers in order, retrying each with
// exponential backoff before failing over to the next. Every attempt
// acquires the provider's rate budget first; outcomes feed the health
// tracker and successful results carry the provider name as provenance.
type Fetcher struct {
	registry *providers.Registry
	limits   *ratelimit.Registry
	tracker  *health.Tracker
	cfg      config.ProvidersConfig
	logger   *logrus.Logger
}

func NewFetcher(registry *providers.Registry, limits *ratelimit.Registry, tracker *health.Tracker, cfg config.ProvidersConfig, logger *logrus.Logger) *Fetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{
		registry: registry,
		limits:   limits,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

// candidates returns provider names in try order. Mode "auto" moves the
// health tracker's recommendation to the front of the configured list.
func (f *Fetcher) candidates() []string {
	if f.cfg.Mode != "auto" {
		return f.cfg.Priority
	}

	recommended := f.tracker.Recommend()
	ordered := make([]string, 0, len(f.cfg.Priority))
	ordered = append(ordered, recommended)
	for _, name := range f.cfg.Priority {
		if name != recommended {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// FetchSeries resolves an ascending valuation series for code from the
// first candidate able to supply one.
func (f *Fetcher) FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error) {
	return tryCandidates(f, ctx, code, "series", func(p providers.Provider) ([]models.ValuationPoint, error) {
		return p.FetchSeries(ctx, code, lookback)
	})
}

// FetchLatest resolves the most recent valuation for code.
func (f *Fetcher) FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error) {
	return tryCandidates(f, ctx, code, "latest", func(p providers.Provider) (*models.LatestValuation, error) {
		return p.FetchLatest(ctx, code)
	})
}

// FetchMetadata resolves descriptive metadata for code.
func (f *Fetcher) FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error) {
	return tryCandidates(f, ctx, code, "metadata", func(p providers.Provider) (*models.FundMetadata, error) {
		return p.FetchMetadata(ctx, code)
	})
}

// Universe returns the bulk full-universe snapshot from the first
// candidate implementing the bulk capability.
func (f *Fetcher) Universe(ctx context.Context, day time.Time) (map[string]*models.LatestValuation, error) {
	return tryCandidates(f, ctx, models.DayBucket(day), "universe", func(p providers.Provider) (map[string]*models.LatestValuation, error) {
		bulk, ok := p.(providers.BulkProvider)
		if !ok {
			return nil, providers.ErrNotSupported
		}
		return bulk.FetchUniverse(ctx, day)
	})
}

// tryCandidates is the failover state machine: for each candidate in
// order, acquire budget and call with per-provider backoff; on
// exhaustion aggregate every error into AllSourcesFailed.
func tryCandidates[T any](f *Fetcher, ctx context.Context, code, op string, call func(providers.Provider) (T, error)) (T, error) {
	var zero T
	traceID := uuid.NewString()
	failures := make(map[string]string)

	for _, name := range f.candidates() {
		provider := f.registry.Get(name)
		if provider == nil {
			failures[name] = "not registered"
			continue
		}

		result, err := callWithRetry(f, ctx, provider, op, call)
		if err == nil {
			return result, nil
		}

		if errors.Is(err, providers.ErrNotSupported) || errors.Is(err, providers.ErrNoData) {
			// Absent capability or empty answer is a normal miss, not a
			// provider failure.
			failures[name] = "no data"
			continue
		}

		failures[name] = err.Error()
		f.logger.WithFields(logrus.Fields{
			"trace_id": traceID,
			"provider": name,
			"op":       op,
			"code":     code,
			"error":    err.Error(),
		}).Warn("provider failed, trying next candidate")
	}

	return zero, &AllSourcesFailed{Code: code, Op: op, Errors: failures}
}

// callWithRetry retries one provider with exponential backoff before the
// fetcher moves on. Budget timeouts and capability misses abort the
// retry loop immediately; retries target the same provider only,
// failover between providers is tryCandidates' job.
func callWithRetry[T any](f *Fetcher, ctx context.Context, provider providers.Provider, op string, call func(providers.Provider) (T, error)) (T, error) {
	name := provider.Name()
	endpoint := endpointFor(name, op)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.cfg.BackoffBase
	expo.MaxInterval = f.cfg.BackoffCap
	expo.Multiplier = 2

	attempt := func() (T, error) {
		var zero T

		if err := f.limits.Acquire(ctx, name, endpoint); err != nil {
			// Budget exhaustion is recoverable for the caller but not
			// worth retrying right now, and not a provider fault.
			return zero, backoff.Permanent(fmt.Errorf("rate budget for %s/%s: %w", name, endpoint, err))
		}

		start := time.Now()
		result, err := call(provider)
		latency := time.Since(start)

		if err != nil {
			if errors.Is(err, providers.ErrNotSupported) || errors.Is(err, providers.ErrNoData) {
				return zero, backoff.Permanent(err)
			}
			f.tracker.RecordFail(name, err)
			return zero, err
		}

		f.tracker.RecordSuccess(name, latency)
		return result, nil
	}

	tries := f.cfg.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(tries)),
	)
}
