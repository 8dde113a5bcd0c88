package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/observability"
)

// defaultL1Entries bounds the in-process cache. Catalogs are small; this is
// generous.
const defaultL1Entries = 512

// CachedCatalog layers an in-process LRU (L1) and an optional Redis cache
// (L2) over a slower source catalog. Concurrent lookups for the same plan
// are collapsed into a single source call, which matters during a billing
// run where hundreds of workers resolve the same handful of plans at once.
type CachedCatalog struct {
	source  Catalog
	l1      *lru.LRU[string, *billing.Plan]
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
}

// CachedOption configures a CachedCatalog.
type CachedOption func(*CachedCatalog)

// WithRedis adds a Redis L2 cache shared between engine instances.
func WithRedis(client *redis.Client) CachedOption {
	return func(c *CachedCatalog) { c.redis = client }
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *observability.Metrics) CachedOption {
	return func(c *CachedCatalog) { c.metrics = m }
}

// NewCachedCatalog wraps source with caching. ttl bounds staleness in both
// cache levels.
func NewCachedCatalog(source Catalog, ttl time.Duration, opts ...CachedOption) *CachedCatalog {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &CachedCatalog{
		source: source,
		l1:     lru.NewLRU[string, *billing.Plan](defaultL1Entries, nil, ttl),
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func redisKey(planID string) string {
	return "duetrack:plan:" + planID
}

func (c *CachedCatalog) recordAccess(level string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheAccess(level, hit)
	}
}

// Lookup resolves a plan through L1, then L2, then the source. Negative
// results are not cached: a missing plan is a configuration error the
// operator will fix, and the next run should see the fix immediately.
func (c *CachedCatalog) Lookup(ctx context.Context, planID string) (*billing.Plan, error) {
	if plan, ok := c.l1.Get(planID); ok {
		c.recordAccess("plan_l1", true)
		copied := *plan
		return &copied, nil
	}
	c.recordAccess("plan_l1", false)

	if c.redis != nil {
		if data, err := c.redis.Get(ctx, redisKey(planID)).Result(); err == nil {
			var plan billing.Plan
			if err := json.Unmarshal([]byte(data), &plan); err == nil {
				c.recordAccess("plan_l2", true)
				c.l1.Add(planID, &plan)
				copied := plan
				return &copied, nil
			}
		}
		c.recordAccess("plan_l2", false)
	}

	result, err, _ := c.group.Do(planID, func() (interface{}, error) {
		plan, err := c.source.Lookup(ctx, planID)
		if err != nil {
			return nil, err
		}
		c.l1.Add(planID, plan)
		if c.redis != nil {
			if data, err := json.Marshal(plan); err == nil {
				c.redis.Set(ctx, redisKey(planID), data, c.ttl)
			}
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	plan := result.(*billing.Plan)
	copied := *plan
	return &copied, nil
}

// List always hits the source; listing is an admin operation, not part of
// the billing hot path.
func (c *CachedCatalog) List(ctx context.Context) ([]*billing.Plan, error) {
	return c.source.List(ctx)
}

// Invalidate drops a plan from both cache levels.
func (c *CachedCatalog) Invalidate(ctx context.Context, planID string) error {
	c.l1.Remove(planID)
	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKey(planID)).Err(); err != nil {
			return fmt.Errorf("failed to invalidate plan cache: %w", err)
		}
	}
	return nil
}

// Purge drops every cached plan from L1. Redis entries expire on their TTL.
func (c *CachedCatalog) Purge() {
	c.l1.Purge()
}
