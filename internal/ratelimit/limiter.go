package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBudgetTimeout is returned when the wait for a rate slot would exceed
// the caller's deadline. It is a recoverable condition, distinct from any
// data error: the caller may retry later.
var ErrBudgetTimeout = errors.New("ratelimit: budget exhausted within deadline")

// Limiter bounds calls to one named endpoint to capacity per rolling
// period. Grants are recorded as timestamps; a slot opens when the oldest
// grant ages out of the window. Granted slots are never refunded.
type Limiter struct {
	name     string
	capacity int
	period   time.Duration

	mu     sync.Mutex
	grants []time.Time

	now func() time.Time
}

// NewLimiter builds a limiter for name admitting capacity calls per period.
func NewLimiter(name string, capacity int, period time.Duration) *Limiter {
	return &Limiter{
		name:     name,
		capacity: capacity,
		period:   period,
		grants:   make([]time.Time, 0, capacity),
		now:      time.Now,
	}
}

// Acquire blocks until a slot is granted or ctx's deadline would be
// exceeded by the required wait. On success the grant is recorded and nil
// is returned. ErrBudgetTimeout means the slot was never granted; no
// refund is ever needed.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}

		if deadline, has := ctx.Deadline(); has {
			if l.now().Add(wait).After(deadline) {
				logrus.WithFields(logrus.Fields{
					"endpoint": l.name,
					"wait":     wait,
				}).Debug("rate budget exhausted within deadline")
				return ErrBudgetTimeout
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrBudgetTimeout
		case <-timer.C:
		}
	}
}

// tryAcquire grants a slot immediately when the window has room. When
// full it reports the wait until the oldest grant leaves the window.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.grants) < l.capacity {
		l.grants = append(l.grants, now)
		return 0, true
	}

	wait := l.grants[0].Add(l.period).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

// evict drops grants older than the rolling window. Callers hold l.mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// InFlight reports how many grants currently sit inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.grants)
}

// Registry owns one limiter per (provider, endpoint) pair. Endpoints
// without a configured rule are unlimited. Each limiter carries its own
// lock so unrelated endpoints never contend.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a budget for the (provider, endpoint) pair,
// replacing any existing rule.
func (r *Registry) Register(provider, endpoint string, capacity int, period time.Duration) {
	key := provider + "/" + endpoint
	r.mu.Lock()
	r.limiters[key] = NewLimiter(key, capacity, period)
	r.mu.Unlock()
}

// Acquire obtains a slot for the pair, or returns immediately when no
// budget is configured for it.
func (r *Registry) Acquire(ctx context.Context, provider, endpoint string) error {
	r.mu.RLock()
	l := r.limiters[provider+"/"+endpoint]
	r.mu.RUnlock()

	if l == nil {
		return nil
	}
	return l.Acquire(ctx)
}
