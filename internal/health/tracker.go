package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SourceHealth accumulates success/failure counts and latency for one
// provider over the life of the process. Counters only reset through an
// explicit administrative Reset.
type SourceHealth struct {
	mu           sync.Mutex
	successCount int64
	failCount    int64
	totalLatency time.Duration
	lastError    string
}

// SuccessRate is successes over total calls, 1.0 when the provider has
// never been called so an untried provider stays eligible for selection.
func (s *SourceHealth) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRateLocked()
}

func (s *SourceHealth) successRateLocked() float64 {
	total := s.successCount + s.failCount
	if total == 0 {
		return 1.0
	}
	return float64(s.successCount) / float64(total)
}

// Stats is the read-only view exposed by Snapshot.
type Stats struct {
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	TotalCalls  int64         `json:"total_calls"`
	LastError   string        `json:"last_error,omitempty"`
}

// Tracker records per-provider outcomes and recommends the provider to
// try first. Selection is a threshold policy recomputed on every query:
// the configured primary wins unless its success rate drops below Floor
// or a backup beats it by more than Margin. No smoothing, no hysteresis.
type Tracker struct {
	primary string
	floor   float64
	margin  float64
	logger  *logrus.Logger

	mu        sync.RWMutex
	providers map[string]*SourceHealth
}

// NewTracker builds a tracker for the named providers. The first call
// for an unknown provider registers it lazily.
func NewTracker(primary string, floor, margin float64, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		primary:   primary,
		floor:     floor,
		margin:    margin,
		logger:    logger,
		providers: make(map[string]*SourceHealth),
	}
}

func (t *Tracker) health(provider string) *SourceHealth {
	t.mu.RLock()
	h := t.providers[provider]
	t.mu.RUnlock()
	if h != nil {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h = t.providers[provider]; h == nil {
		h = &SourceHealth{}
		t.providers[provider] = h
	}
	return h
}

// RecordSuccess notes one successful call and its latency.
func (t *Tracker) RecordSuccess(provider string, latency time.Duration) {
	h := t.health(provider)
	h.mu.Lock()
	h.successCount++
	h.totalLatency += latency
	h.mu.Unlock()
}

// RecordFail notes one failed call.
func (t *Tracker) RecordFail(provider string, err error) {
	h := t.health(provider)
	h.mu.Lock()
	h.failCount++
	if err != nil {
		h.lastError = err.Error()
	}
	h.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"provider": provider,
		"error":    err,
	}).Debug("provider failure recorded")
}

// Recommend returns the provider to try first: the primary, unless its
// success rate fell below the floor or some backup exceeds it by more
// than the margin, in which case the best backup wins.
func (t *Tracker) Recommend() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	primaryRate := 1.0
	if h := t.providers[t.primary]; h != nil {
		primaryRate = h.SuccessRate()
	}

	best := t.primary
	bestRate := primaryRate
	for name, h := range t.providers {
		if name == t.primary {
			continue
		}
		rate := h.SuccessRate()
		if rate > bestRate {
			best = name
			bestRate = rate
		}
	}

	if best != t.primary && (primaryRate < t.floor || bestRate-primaryRate > t.margin) {
		t.logger.WithFields(logrus.Fields{
			"primary":      t.primary,
			"primary_rate": primaryRate,
			"backup":       best,
			"backup_rate":  bestRate,
		}).Info("recommending backup provider over primary")
		return best
	}
	return t.primary
}

// Snapshot copies the current stats for every known provider.
func (t *Tracker) Snapshot() map[string]Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Stats, len(t.providers))
	for name, h := range t.providers {
		h.mu.Lock()
		total := h.successCount + h.failCount
		var avg time.Duration
		if h.successCount > 0 {
			avg = h.totalLatency / time.Duration(h.successCount)
		}
		out[name] = Stats{
			SuccessRate: h.successRateLocked(),
			AvgLatency:  avg,
			TotalCalls:  total,
			LastError:   h.lastError,
		}
		h.mu.Unlock()
	}
	return out
}

// Reset clears the counters for one provider. Administrative use only.
func (t *Tracker) Reset(provider string) {
	h := t.health(provider)
	h.mu.Lock()
	h.successCount = 0
	h.failCount = 0
	h.totalLatency = 0
	h.lastError = ""
	h.mu.Unlock()
}
