package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/pkg/hash"
)

// DefaultActivityTTL bounds how long a cached activity score may be served.
const DefaultActivityTTL = time.Hour

// Cache is a best-effort key/value backend.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// DialRedis parses redisURL and pings the server. The client is returned
// only when the server answered.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// DeleteByPrefix walks the keyspace with SCAN rather than KEYS so large
// keyspaces do not block the server.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Delete(ctx, batch...)
}

// MemoryCache is an in-process Cache with TTL, for single-node setups and
// tests.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

func NewMemoryCache(clock Clock) *MemoryCache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryCache{now: clock.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// NoopCache always misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, ...string) error                  { return nil }
func (NoopCache) DeleteByPrefix(context.Context, string) error             { return nil }

// CacheService is the activity score cache. Backend errors are logged and
// absorbed: a failed read is a miss and a failed write is dropped. When
// disabled every read misses and writes are skipped.
type CacheService struct {
	backend Cache
	ttl     time.Duration
	enabled atomic.Bool
	logger  zerolog.Logger
}

// NewCacheService wraps backend. A nil backend behaves like NoopCache.
func NewCacheService(backend Cache, ttl time.Duration, logger zerolog.Logger) *CacheService {
	if backend == nil {
		backend = NoopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultActivityTTL
	}
	c := &CacheService{
		backend: backend,
		ttl:     ttl,
		logger:  logger.With().Str("component", "cache").Logger(),
	}
	c.enabled.Store(true)
	return c
}

// SetEnabled switches caching on or off at runtime.
func (c *CacheService) SetEnabled(on bool) {
	c.enabled.Store(on)
}

func (c *CacheService) Enabled() bool {
	return c.enabled.Load()
}

// ActivityScore returns the cached score for a branch.
func (c *CacheService) ActivityScore(ctx context.Context, branchID uuid.UUID) (float64, bool) {
	if !c.Enabled() {
		metrics.CacheMisses.Inc()
		return 0, false
	}
	key := activityKey(branchID)
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return 0, false
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return 0, false
	}
	score, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry unreadable")
		return 0, false
	}
	metrics.CacheHits.Inc()
	return score, true
}

// StoreActivityScore caches a freshly computed score.
func (c *CacheService) StoreActivityScore(ctx context.Context, branchID uuid.UUID, score float64) {
	if !c.Enabled() {
		return
	}
	key := activityKey(branchID)
	val := []byte(strconv.FormatFloat(score, 'f', -1, 64))
	if err := c.backend.Set(ctx, key, val, c.ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// InvalidateBranch drops every cached entry of the branch.
func (c *CacheService) InvalidateBranch(ctx context.Context, branchID uuid.UUID) {
	prefix := branchPrefix(branchID)
	if err := c.backend.DeleteByPrefix(ctx, prefix); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("cache invalidate failed")
	}
}

func branchPrefix(branchID uuid.UUID) string {
	return "branch:" + branchID.String() + ":"
}

func activityKey(branchID uuid.UUID) string {
	return hash.CacheKey("branch:"+branchID.String(), "activity_score")
}
