package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Tier labels for lookup metrics
const (
	TierLocal = "local"
	TierRedis = "redis"
)

// LookupRecorder counts cache lookups per tier
type LookupRecorder interface {
	CacheLookup(tier string, hit bool)
}

// ConstraintCache caches resolved base constraints. Redis, when present, is
// authoritative for which write won; the local tier only ever holds values
// read from or accepted by Redis, or values written while Redis was absent.
type ConstraintCache struct {
	local   *lru.Cache[string, recommendation.NutritionConstraints]
	remote  *RedisClient
	cfg     config.CacheConfig
	metrics LookupRecorder
	logger  *zap.Logger

	mu sync.RWMutex
	// generation namespaces remote keys; it changes whenever the guidance
	// the entries were resolved from changes
	generation string
	epoch      uint64
	// misses queues the epochs of outstanding misses per key so a value
	// computed before an invalidation is not stored after it
	misses map[string][]uint64
}

var _ outbound.ConstraintCache = (*ConstraintCache)(nil)

// NewConstraintCache creates the cache. remote and metrics may be nil.
func NewConstraintCache(cfg config.CacheConfig, remote *RedisClient, metrics LookupRecorder, logger *zap.Logger) (*ConstraintCache, error) {
	size := cfg.LocalSize
	if size <= 0 {
		size = 512
	}
	local, err := lru.New[string, recommendation.NutritionConstraints](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	return &ConstraintCache{
		local:   local,
		remote:  remote,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("constraint_cache"),
		misses:  make(map[string][]uint64),
	}, nil
}

// Get looks key up locally, then in Redis
func (c *ConstraintCache) Get(ctx context.Context, key string) (recommendation.NutritionConstraints, bool, error) {
	if v, ok := c.local.Get(key); ok {
		c.record(TierLocal, true)
		return v, true, nil
	}
	c.record(TierLocal, false)

	if c.remote == nil {
		c.noteMiss(key)
		return recommendation.NutritionConstraints{}, false, nil
	}

	v, ok, err := c.readRemote(ctx, key)
	if err != nil {
		c.noteMiss(key)
		return recommendation.NutritionConstraints{}, false, err
	}
	c.record(TierRedis, ok)
	if !ok {
		c.noteMiss(key)
		return recommendation.NutritionConstraints{}, false, nil
	}
	return c.keepLocal(key, v), true, nil
}

// PutIfAbsent stores value unless key already has one and returns the
// stored winner. When Redis fails the value is still kept locally and the
// error is returned.
func (c *ConstraintCache) PutIfAbsent(ctx context.Context, key string, value recommendation.NutritionConstraints) (recommendation.NutritionConstraints, error) {
	if c.missedBeforeInvalidation(key) {
		c.logger.Debug("Not caching constraints resolved before invalidation", zap.String("key", key))
		return value, nil
	}
	if c.remote == nil {
		return c.keepLocal(key, value), nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("failed to encode constraints: %w", err)
	}

	stored, err := c.remote.SetNX(ctx, c.remoteKey(key), data, c.cfg.RemoteTTL)
	if err != nil {
		return c.keepLocal(key, value), fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if stored {
		return c.keepLocal(key, value), nil
	}

	winner, ok, err := c.readRemote(ctx, key)
	switch {
	case err != nil:
		return value, err
	case !ok:
		// expired between SETNX and GET
		c.logger.Debug("Constraint cache entry vanished on read-back", zap.String("key", key))
		return c.keepLocal(key, value), nil
	}
	return c.keepLocal(key, winner), nil
}

// Invalidate starts a new generation: local entries are dropped and remote
// lookups move to keys of the new generation, so constraints resolved from
// older guidance are never served again. Old remote keys are left to
// expire. Invalidating with the current generation is a no-op.
func (c *ConstraintCache) Invalidate(generation string) {
	c.mu.Lock()
	if c.generation == generation {
		c.mu.Unlock()
		return
	}
	c.generation = generation
	c.epoch++
	c.mu.Unlock()

	c.local.Purge()
	c.logger.Info("Constraint cache invalidated", zap.String("generation", generation))
}

// Generation returns the current remote key generation
func (c *ConstraintCache) Generation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// maxPendingMisses bounds the queue of a key whose lookups never complete
const maxPendingMisses = 64

func (c *ConstraintCache) noteMiss(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := append(c.misses[key], c.epoch)
	if len(q) > maxPendingMisses {
		q = q[len(q)-maxPendingMisses:]
	}
	c.misses[key] = q
}

// missedBeforeInvalidation pops the oldest outstanding miss for key and
// reports whether it happened under an earlier epoch
func (c *ConstraintCache) missedBeforeInvalidation(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.misses[key]
	if len(q) == 0 {
		return false
	}
	epoch := q[0]
	if len(q) == 1 {
		delete(c.misses, key)
	} else {
		c.misses[key] = q[1:]
	}
	return epoch != c.epoch
}

func (c *ConstraintCache) remoteKey(key string) string {
	if g := c.Generation(); g != "" {
		return c.cfg.KeyPrefix + g + ":" + key
	}
	return c.cfg.KeyPrefix + key
}

// Len returns the number of locally cached entries
func (c *ConstraintCache) Len() int { return c.local.Len() }

func (c *ConstraintCache) readRemote(ctx context.Context, key string) (recommendation.NutritionConstraints, bool, error) {
	data, ok, err := c.remote.Get(ctx, c.remoteKey(key))
	if err != nil {
		return recommendation.NutritionConstraints{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if !ok {
		return recommendation.NutritionConstraints{}, false, nil
	}

	var v recommendation.NutritionConstraints
	if err := json.Unmarshal(data, &v); err != nil {
		return recommendation.NutritionConstraints{}, false, fmt.Errorf("failed to decode cached constraints %s: %w", key, err)
	}
	return v, true, nil
}

// keepLocal inserts v unless key is already present and returns whichever
// value the local tier holds
func (c *ConstraintCache) keepLocal(key string, v recommendation.NutritionConstraints) recommendation.NutritionConstraints {
	if prev, found, _ := c.local.PeekOrAdd(key, v); found {
		return prev
	}
	return v
}

func (c *ConstraintCache) record(tier string, hit bool) {
	if c.metrics != nil {
		c.metrics.CacheLookup(tier, hit)
	}
}
