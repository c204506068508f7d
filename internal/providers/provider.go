package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiwenlee/fundflow/internal/models"
)

// ErrNotSupported marks a capability an adapter does not implement.
// Callers treat it as "no data" and move on, not as a provider failure.
var ErrNotSupported = errors.New("providers: capability not supported")

// ErrNoData means the provider answered but had nothing for the code.
var ErrNoData = errors.New("providers: no data for instrument")

// ProviderError wraps a single adapter's failure (network, malformed
// payload, unexpected schema). It is consumed by the multi-source fetcher
// and never surfaces to the original caller unless every candidate fails.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider is the uniform fetch surface implemented once per upstream.
// Adapters differ in what they can supply; unsupported operations return
// ErrNotSupported.
type Provider interface {
	Name() string
	// FetchSeries returns up to lookback valuation points ascending by date.
	FetchSeries(ctx context.Context, code string, lookback int) ([]models.ValuationPoint, error)
	// FetchLatest returns the most recent value, with the intraday
	// estimate when the upstream publishes one.
	FetchLatest(ctx context.Context, code string) (*models.LatestValuation, error)
	FetchMetadata(ctx context.Context, code string) (*models.FundMetadata, error)
}

// BulkProvider additionally supplies the full instrument universe for a
// trade day in one call, used by the batch fetcher to amortize budget.
type BulkProvider interface {
	Provider
	FetchUniverse(ctx context.Context, day time.Time) (map[string]*models.LatestValuation, error)
}

// Registry holds the configured adapters by name, preserving no order of
// its own; ordering is the fetcher's concern.
type Registry struct {
	byName map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// Get returns the adapter registered under name, or nil.
func (r *Registry) Get(name string) Provider {
	return r.byName[name]
}

// Names lists every registered adapter.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
