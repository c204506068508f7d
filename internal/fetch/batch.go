package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qiwenlee/fundflow/internal/models"
)

// Origin of a batch result: one bulk universe call, or an individual
// fetch through the failover path.
const (
	OriginBulk   = "bulk"
	OriginSingle = "single"
)

// BatchResult pairs a resolved valuation with how it was obtained.
type BatchResult struct {
	Valuation *models.LatestValuation
	Origin    string
}

// SnapshotStore is the day-keyed full-universe snapshot the batch
// fetcher consults before spending any per-instrument budget. The
// tiered cache's L2 provides it.
type SnapshotStore interface {
	GetUniverse(ctx context.Context, day string) (map[string]*models.LatestValuation, bool)
	PutUniverse(ctx context.Context, day string, universe map[string]*models.LatestValuation)
}

// BatchFetcher amortizes provider calls across many instruments: one
// bulk universe call per trade day covers most codes, and a small
// bounded worker pool resolves the leftovers individually so rate
// budgets stay respected.
type BatchFetcher struct {
	fetcher   *Fetcher
	snapshots SnapshotStore
	workers   int
	logger    *logrus.Logger

	mu sync.Mutex // serializes the daily universe fetch
}

func NewBatchFetcher(fetcher *Fetcher, snapshots SnapshotStore, workers int, logger *logrus.Logger) *BatchFetcher {
	if workers <= 0 {
		workers = 3
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BatchFetcher{
		fetcher:   fetcher,
		snapshots: snapshots,
		workers:   workers,
		logger:    logger,
	}
}

// FetchLatestBatch resolves the latest valuation for every code. Codes
// covered by the day's universe snapshot are tagged OriginBulk; the rest
// go through the multi-source fetcher and are tagged OriginSingle. A
// code that fails everywhere maps to the degraded DTO.
func (b *BatchFetcher) FetchLatestBatch(ctx context.Context, codes []string) map[string]BatchResult {
	results := make(map[string]BatchResult, len(codes))
	if len(codes) == 0 {
		return results
	}

	universe := b.universeForToday(ctx)

	var missing []string
	for _, code := range codes {
		if v, ok := universe[code]; ok {
			results[code] = BatchResult{Valuation: v, Origin: OriginBulk}
		} else {
			missing = append(missing, code)
		}
	}

	if len(missing) == 0 {
		return results
	}

	b.logger.WithFields(logrus.Fields{
		"total":   len(codes),
		"bulk":    len(codes) - len(missing),
		"missing": len(missing),
	}).Debug("batch falling back to per-instrument fetches")

	type keyed struct {
		code   string
		result BatchResult
	}

	jobs := make(chan string)
	out := make(chan keyed)

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for code := range jobs {
				v, err := b.fetcher.FetchLatest(ctx, code)
				if err != nil {
					v = models.FailedLatest(code)
				}
				out <- keyed{code: code, result: BatchResult{Valuation: v, Origin: OriginSingle}}
			}
		}()
	}

	go func() {
		for _, code := range missing {
			jobs <- code
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	for k := range out {
		results[k.code] = k.result
	}
	return results
}

// universeForToday returns today's snapshot, fetching and storing it on
// first use. A failed bulk fetch degrades to an empty universe so the
// per-instrument path still runs.
func (b *BatchFetcher) universeForToday(ctx context.Context) map[string]*models.LatestValuation {
	day := models.DayBucket(time.Now())

	if universe, ok := b.snapshots.GetUniverse(ctx, day); ok {
		return universe
	}

	// One fetch at a time; a second caller re-checks after the wait.
	b.mu.Lock()
	defer b.mu.Unlock()
	if universe, ok := b.snapshots.GetUniverse(ctx, day); ok {
		return universe
	}

	universe, err := b.fetcher.Universe(ctx, time.Now())
	if err != nil {
		b.logger.WithError(err).Warn("bulk universe fetch failed, batch will fetch per instrument")
		return map[string]*models.LatestValuation{}
	}

	b.snapshots.PutUniverse(ctx, day, universe)
	b.logger.WithFields(logrus.Fields{"day": day, "instruments": len(universe)}).Info("universe snapshot stored")
	return universe
}
