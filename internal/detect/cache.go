package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
)

// Cache stores detection results by key
type Cache interface {
	Get(ctx context.Context, key string) (privacy.DetectionResult, bool, error)
	Set(ctx context.Context, key string, result privacy.DetectionResult) error
}

// CacheStats counts cache lookups since start
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// Cached serves repeated texts from a cache and forwards the rest.
// Cache failures are logged and never fail detection.
type Cached struct {
	next   Detector
	cache  Cache
	logger *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewCached wraps next with cache
func NewCached(next Detector, cache Cache, log *logger.Logger) *Cached {
	return &Cached{next: next, cache: cache, logger: log}
}

// Detect implements Detector
func (c *Cached) Detect(ctx context.Context, text, languageCode string) (privacy.DetectionResult, error) {
	key := CacheKey(text, languageCode)

	cached, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.errors.Add(1)
		c.logger.Warn("Detection cache lookup failed", zap.Error(err))
	case ok:
		c.hits.Add(1)
		return cached, nil
	default:
		c.misses.Add(1)
	}

	result, err := c.next.Detect(ctx, text, languageCode)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, result); err != nil {
		c.errors.Add(1)
		c.logger.Warn("Failed to cache detection result", zap.Error(err))
	}

	return result, nil
}

// Stats returns lookup counters
func (c *Cached) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errors.Load()}
}

// CacheKey hashes the language and text so raw notes never become cache keys
func CacheKey(text, languageCode string) string {
	h := sha256.New()
	h.Write([]byte(languageCode))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache keeps results in process memory
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache creates an in-process cache whose entries expire after ttl
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{items: gocache.New(ttl, 2*ttl)}
}

// Get implements Cache
func (m *MemoryCache) Get(_ context.Context, key string) (privacy.DetectionResult, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	// Copies keep callers from mutating the cached slice
	stored := v.(privacy.DetectionResult)
	out := make(privacy.DetectionResult, len(stored))
	copy(out, stored)
	return out, true, nil
}

// Set implements Cache
func (m *MemoryCache) Set(_ context.Context, key string, result privacy.DetectionResult) error {
	stored := make(privacy.DetectionResult, len(result))
	copy(stored, result)
	m.items.SetDefault(key, stored)
	return nil
}

// RedisCache shares results between instances through Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to cfg.RedisURL and verifies the connection
func NewRedisCache(cfg config.CacheConfig, log *logger.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Detection cache initialized",
		zap.String("redis_url", logger.MaskURL(cfg.RedisURL)),
		zap.Duration("ttl", cfg.TTL),
	)

	return NewRedisCacheFromClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisCacheFromClient uses an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:detect:%s", r.prefix, key)
}

// Get implements Cache
func (r *RedisCache) Get(ctx context.Context, key string) (privacy.DetectionResult, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var result privacy.DetectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Corrupted entries are dropped and treated as misses
		r.client.Del(ctx, r.key(key))
		return nil, false, nil
	}
	if result == nil {
		result = privacy.DetectionResult{}
	}
	return result, true, nil
}

// Set implements Cache
func (r *RedisCache) Set(ctx context.Context, key string, result privacy.DetectionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal detection result: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache detection result: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
