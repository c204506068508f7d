package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/qiwenlee/fundflow/internal/models"
)

const (
	latestKeyPrefix   = "fundflow:latest:"
	seriesKeyPrefix   = "fundflow:series:"
	universeKeyPrefix = "fundflow:universe:"
)

// SnapshotCache is the durable L2 tier on Redis. Values are day-scoped
// JSON blobs with a TTL of up to one trading day. A payload that fails
// to decode counts as a miss and is deleted, never surfaced to callers.
type SnapshotCache struct {
	redis       *redis.Client
	ttl         time.Duration
	universeTTL time.Duration
	logger      *logrus.Logger
}

// NewSnapshotCache builds the L2 tier. ttl bounds per-instrument values;
// universeTTL bounds the daily full-universe snapshot (one trading
// session).
func NewSnapshotCache(redisClient *redis.Client, ttl, universeTTL time.Duration, logger *logrus.Logger) *SnapshotCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if universeTTL <= 0 {
		universeTTL = ttl
	}
	return &SnapshotCache{
		redis:       redisClient,
		ttl:         ttl,
		universeTTL: universeTTL,
		logger:      logger,
	}
}

// GetLatest returns the stored latest valuation for (code, day).
func (c *SnapshotCache) GetLatest(ctx context.Context, code, bucket string) (*models.LatestValuation, bool) {
	key := latestKeyPrefix + code + ":" + bucket
	var v models.LatestValuation
	if !c.getJSON(ctx, key, &v) {
		return nil, false
	}
	return &v, true
}

// PutLatest stores the latest valuation for (code, day).
func (c *SnapshotCache) PutLatest(ctx context.Context, code, bucket string, v *models.LatestValuation) {
	c.putJSON(ctx, latestKeyPrefix+code+":"+bucket, v)
}

// GetSeries returns the stored valuation series for (code, day).
func (c *SnapshotCache) GetSeries(ctx context.Context, code, bucket string) ([]models.ValuationPoint, bool) {
	key := seriesKeyPrefix + code + ":" + bucket
	var points []models.ValuationPoint
	if !c.getJSON(ctx, key, &points) {
		return nil, false
	}
	return points, true
}

// PutSeries stores the valuation series for (code, day).
func (c *SnapshotCache) PutSeries(ctx context.Context, code, bucket string, points []models.ValuationPoint) {
	c.putJSON(ctx, seriesKeyPrefix+code+":"+bucket, points)
}

// GetUniverse returns the day's full-universe snapshot.
func (c *SnapshotCache) GetUniverse(ctx context.Context, bucket string) (map[string]*models.LatestValuation, bool) {
	var universe map[string]*models.LatestValuation
	if !c.getJSON(ctx, universeKeyPrefix+bucket, &universe) {
		return nil, false
	}
	return universe, true
}

// PutUniverse stores the day's full-universe snapshot.
func (c *SnapshotCache) PutUniverse(ctx context.Context, bucket string, universe map[string]*models.LatestValuation) {
	c.putJSONWithTTL(ctx, universeKeyPrefix+bucket, universe, c.universeTTL)
}

// Invalidate drops every stored value for code, across days.
func (c *SnapshotCache) Invalidate(ctx context.Context, code string) {
	c.deletePattern(ctx, latestKeyPrefix+code+":*")
	c.deletePattern(ctx, seriesKeyPrefix+code+":*")
}

// InvalidateAll drops every key this cache owns, universe snapshots
// included.
func (c *SnapshotCache) InvalidateAll(ctx context.Context) {
	c.deletePattern(ctx, latestKeyPrefix+"*")
	c.deletePattern(ctx, seriesKeyPrefix+"*")
	c.deletePattern(ctx, universeKeyPrefix+"*")
}

func (c *SnapshotCache) getJSON(ctx context.Context, key string, out any) bool {
	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis read failed, treating as miss")
		return false
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		// Corrupt payload: drop it and refetch upstream.
		c.logger.WithError(err).WithField("key", key).Warn("corrupt cache payload, dropping")
		c.redis.Del(ctx, key)
		return false
	}
	return true
}

func (c *SnapshotCache) putJSON(ctx context.Context, key string, v any) {
	c.putJSONWithTTL(ctx, key, v, c.ttl)
}

func (c *SnapshotCache) putJSONWithTTL(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("failed to serialize cache value")
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis write failed")
	}
}

func (c *SnapshotCache) deletePattern(ctx context.Context, pattern string) {
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).WithField("pattern", pattern).Warn("redis scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			c.logger.WithError(err).WithField("pattern", pattern).Warn("redis delete failed")
		}
	}
}
