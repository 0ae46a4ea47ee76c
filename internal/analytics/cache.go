package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/taggov/engine/internal/models"
	"go.uber.org/zap"
)

// Cache is a Redis read-through cache for usage reports. Cache failures
// are logged and treated as misses; the database remains authoritative.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a report cache from a Redis URL.
func NewCache(redisURL string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl, logger: logger}, nil
}

func cacheKey(orgID, tagID uuid.UUID, rangeStr string) string {
	return fmt.Sprintf("usage:%s:%s:%s", orgID, tagID, rangeStr)
}

// Get returns a cached report, or (nil, false) on miss or error.
func (c *Cache) Get(ctx context.Context, orgID, tagID uuid.UUID, rangeStr string) (*models.UsageReport, bool) {
	data, err := c.client.Get(ctx, cacheKey(orgID, tagID, rangeStr)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("usage_cache_read_failed", zap.Error(err))
		return nil, false
	}

	report := &models.UsageReport{}
	if err := json.Unmarshal(data, report); err != nil {
		c.logger.Warn("usage_cache_decode_failed", zap.Error(err))
		return nil, false
	}
	return report, true
}

// Set stores a report with the cache TTL.
func (c *Cache) Set(ctx context.Context, orgID, tagID uuid.UUID, rangeStr string, report *models.UsageReport) {
	data, err := json.Marshal(report)
	if err != nil {
		c.logger.Warn("usage_cache_encode_failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(orgID, tagID, rangeStr), data, c.ttl).Err(); err != nil {
		c.logger.Warn("usage_cache_write_failed", zap.Error(err))
	}
}

// Invalidate drops every cached range for a tag.
func (c *Cache) Invalidate(ctx context.Context, orgID, tagID uuid.UUID) {
	for _, rangeStr := range []string{"7d", "30d", "90d", "all"} {
		if err := c.client.Del(ctx, cacheKey(orgID, tagID, rangeStr)).Err(); err != nil {
			c.logger.Warn("usage_cache_invalidate_failed", zap.Error(err))
			return
		}
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies the Redis connection for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
