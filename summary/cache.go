package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

// Cache memoizes generated summaries keyed by transcript content. A cancel
// followed by a fresh transfer on an unchanged transcript then skips the
// model call entirely. The in-process tier answers most lookups; Redis,
// when configured, shares results across instances.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration

	mu     sync.RWMutex
	local  map[string]localEntry
	logger *zap.Logger
}

type localEntry struct {
	summary   *types.Summary
	expiresAt time.Time
}

const cacheKeyPrefix = "warmline:summary:"

// NewCache creates a summary cache. redisClient may be nil for single
// instance deployments; the in-process tier still applies.
func NewCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		redis:  redisClient,
		ttl:    ttl,
		local:  make(map[string]localEntry),
		logger: logger.With(zap.String("component", "summary_cache")),
	}
}

// Key derives the cache key for a transcript.
func Key(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns a cached summary for the transcript, or nil when absent.
func (c *Cache) Get(ctx context.Context, transcript string) *types.Summary {
	key := Key(transcript)

	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.summary
	}

	if c.redis == nil {
		return nil
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis summary lookup failed", zap.Error(err))
		}
		return nil
	}

	var s types.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("corrupt cached summary dropped", zap.Error(err))
		c.redis.Del(ctx, key)
		return nil
	}

	c.storeLocal(key, &s)
	return &s
}

// Put stores a summary for the transcript in both tiers.
func (c *Cache) Put(ctx context.Context, transcript string, s *types.Summary) {
	if s == nil {
		return
	}
	key := Key(transcript)
	c.storeLocal(key, s)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("marshal summary for cache failed", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis summary store failed", zap.Error(err))
	}
}

func (c *Cache) storeLocal(key string, s *types.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep keeps the map from accumulating dead entries.
	now := time.Now()
	if len(c.local) > 256 {
		for k, e := range c.local {
			if now.After(e.expiresAt) {
				delete(c.local, k)
			}
		}
	}
	c.local[key] = localEntry{summary: s, expiresAt: now.Add(c.ttl)}
}
