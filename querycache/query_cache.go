package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentcache/internal/metrics"
)

const tracerName = "github.com/BaSui01/agentcache/querycache"

// Config configures a QueryCache.
type Config struct {
	// Prefix namespaces every key this cache writes.
	Prefix string `yaml:"prefix" json:"prefix"`

	// DefaultTTL is the baseline entry TTL before adaptation.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// MinTTL and MaxTTL clamp the adaptive TTL.
	MinTTL time.Duration `yaml:"min_ttl" json:"min_ttl"`
	MaxTTL time.Duration `yaml:"max_ttl" json:"max_ttl"`

	// TagTTLBuffer is added to the entry TTL for tag index sets so the
	// index never expires before the entries it references.
	TagTTLBuffer time.Duration `yaml:"tag_ttl_buffer" json:"tag_ttl_buffer"`

	// MaxCacheSize triggers eviction when the approximate entry count
	// exceeds it.
	MaxCacheSize int64 `yaml:"max_cache_size" json:"max_cache_size"`

	// EvictionInterval is the minimum gap between eviction sweeps.
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval"`
}

// DefaultConfig returns the default query cache configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:           "agentcache:query:",
		DefaultTTL:       5 * time.Minute,
		MinTTL:           30 * time.Second,
		MaxTTL:           time.Hour,
		TagTTLBuffer:     60 * time.Second,
		MaxCacheSize:     10000,
		EvictionInterval: 30 * time.Second,
	}
}

// Option customizes a QueryCache.
type Option func(*QueryCache)

// WithTTLPolicy replaces the adaptive TTL policy.
func WithTTLPolicy(p TTLPolicy) Option {
	return func(q *QueryCache) { q.ttlPolicy = p }
}

// WithCacheableFunc replaces the cacheability predicate.
func WithCacheableFunc(f CacheableFunc) Option {
	return func(q *QueryCache) { q.cacheable = f }
}

// WithEvictionStrategy replaces the volume eviction strategy.
func WithEvictionStrategy(s EvictionStrategy) Option {
	return func(q *QueryCache) { q.evictor = s }
}

// WithCollector attaches a Prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(q *QueryCache) { q.collector = c }
}

// QueryCache is a Redis-backed cache for query results. All durable
// storage is delegated to the injected Redis client; transport failures
// degrade to misses or no-ops and are never propagated.
type QueryCache struct {
	redis     *redis.Client
	config    Config
	logger    *zap.Logger
	keys      *KeyGenerator
	ttlPolicy TTLPolicy
	cacheable CacheableFunc
	tracker   *PatternTracker
	metrics   *Metrics
	evictor   EvictionStrategy
	evictGate *rate.Limiter
	tracer    trace.Tracer
	collector *metrics.Collector

	wg     sync.WaitGroup
	closed atomic.Bool
	now    func() time.Time
}

// New creates a QueryCache on top of rdb. Zero config fields fall back
// to the defaults.
func New(rdb *redis.Client, config Config, logger *zap.Logger, opts ...Option) *QueryCache {
	def := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = def.DefaultTTL
	}
	if config.MinTTL <= 0 {
		config.MinTTL = def.MinTTL
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = def.MaxTTL
	}
	if config.TagTTLBuffer <= 0 {
		config.TagTTLBuffer = def.TagTTLBuffer
	}
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = def.MaxCacheSize
	}
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = def.EvictionInterval
	}

	q := &QueryCache{
		redis:     rdb,
		config:    config,
		logger:    logger.With(zap.String("component", "query_cache")),
		keys:      NewKeyGenerator(config.Prefix),
		tracker:   NewPatternTracker(),
		evictGate: rate.NewLimiter(rate.Every(config.EvictionInterval), 1),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.ttlPolicy == nil {
		q.ttlPolicy = NewAdaptiveTTL(config.DefaultTTL, config.MinTTL, config.MaxTTL)
	}
	if q.cacheable == nil {
		q.cacheable = DefaultCacheable
	}
	if q.evictor == nil {
		q.evictor = &EvictOldest{}
	}
	q.metrics = NewMetrics(q.collector)

	return q
}

// Get returns the cached result for (query, params) and whether it was
// found. Expired and corrupt entries are deleted and count as misses;
// a hit re-persists the entry with its remaining TTL (the expiry is
// reapplied, never extended) and increments its access count.
func (q *QueryCache) Get(ctx context.Context, query string, params map[string]any) (json.RawMessage, bool) {
	ctx, span := q.tracer.Start(ctx, "querycache.Get")
	defer span.End()

	start := time.Now()
	key := q.keys.Key(query, params)

	value, outcome := q.lookup(ctx, key)
	if outcome == lookupHit {
		q.metrics.RecordHit(time.Since(start))
		return value, true
	}

	if outcome != lookupMiss {
		q.logger.Debug("cache lookup degraded",
			zap.Stringer("outcome", outcome), zap.String("key", key))
	}
	q.metrics.RecordMiss()
	return nil, false
}

func (q *QueryCache) lookup(ctx context.Context, key string) (json.RawMessage, lookupOutcome) {
	data, err := q.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, lookupMiss
	}
	if err != nil {
		q.logger.Warn("cache read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, lookupError
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Delete the corrupt entry so it cannot fail every read.
		q.deleteQuiet(ctx, key)
		q.metrics.AddSize(-1)
		q.logger.Warn("corrupt cache entry removed",
			zap.String("key", key), zap.Error(err))
		return nil, lookupCorrupt
	}

	now := q.now()
	if !now.Before(entry.ExpiresAt) {
		q.deleteQuiet(ctx, key)
		q.metrics.AddSize(-1)
		return nil, lookupExpired
	}

	entry.AccessCount++
	remaining := entry.ExpiresAt.Sub(now)
	if buf, err := json.Marshal(&entry); err == nil {
		if err := q.redis.Set(ctx, key, buf, remaining).Err(); err != nil {
			q.logger.Debug("access count update failed",
				zap.String("key", key), zap.Error(err))
		}
	}

	return entry.Value, lookupHit
}

// Set caches result for (query, params) with an adaptively computed
// TTL and indexes it under each tag. It reports whether the write took
// effect; any failure drops the write and returns false without
// propagating.
func (q *QueryCache) Set(ctx context.Context, query string, result any, params map[string]any, duration time.Duration, tags []string) bool {
	ctx, span := q.tracer.Start(ctx, "querycache.Set")
	defer span.End()

	if !q.cacheable(query, result) {
		q.logger.Debug("result not cacheable", zap.String("pattern", Pattern(query)))
		return false
	}

	pattern := Pattern(query)
	q.tracker.Record(pattern, duration)
	ttl := q.ttlPolicy.TTL(pattern, q.tracker.Frequency(pattern), q.tracker.AvgDuration(pattern))

	value, err := json.Marshal(result)
	if err != nil {
		q.logger.Warn("result not serializable", zap.Error(err))
		return false
	}

	key := q.keys.Key(query, params)
	now := q.now()
	entry := Entry{
		Key:           key,
		Value:         value,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		QueryDuration: duration.Seconds(),
		Tags:          tags,
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		q.logger.Warn("cache entry not serializable", zap.Error(err))
		return false
	}

	if err := q.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		q.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}

	for _, tag := range tags {
		tagKey := q.keys.TagKey(tag)
		if err := q.redis.SAdd(ctx, tagKey, key).Err(); err != nil {
			q.logger.Warn("tag index write failed",
				zap.String("tag", tag), zap.Error(err))
			// A live entry missing from its tag index would dodge
			// InvalidateByTag, so the whole write is dropped.
			q.deleteQuiet(ctx, key)
			return false
		}
		if err := q.redis.Expire(ctx, tagKey, ttl+q.config.TagTTLBuffer).Err(); err != nil {
			q.logger.Warn("tag index expire failed",
				zap.String("tag", tag), zap.Error(err))
			q.deleteQuiet(ctx, key)
			return false
		}
	}

	q.metrics.AddSize(1)

	if q.metrics.Size() > q.config.MaxCacheSize {
		q.maybeEvict()
	}

	return true
}

// InvalidateByTag removes every entry tagged with tag plus the tag
// index itself in one batched delete, and returns how many entries were
// removed. A concurrent write between the member read and the delete
// may survive one extra read cycle; availability wins over atomicity
// here.
func (q *QueryCache) InvalidateByTag(ctx context.Context, tag string) int {
	ctx, span := q.tracer.Start(ctx, "querycache.InvalidateByTag")
	defer span.End()

	tagKey := q.keys.TagKey(tag)
	members, err := q.redis.SMembers(ctx, tagKey).Result()
	if err != nil {
		q.logger.Warn("tag member read failed", zap.String("tag", tag), zap.Error(err))
		return 0
	}

	keys := append(members, tagKey)
	if err := q.redis.Del(ctx, keys...).Err(); err != nil {
		q.logger.Warn("tag invalidation failed", zap.String("tag", tag), zap.Error(err))
		return 0
	}

	removed := len(members)
	q.metrics.AddSize(int64(-removed))
	if q.collector != nil {
		q.collector.CacheInvalidations(collectorCacheName, "tag", removed)
	}

	q.logger.Info("invalidated by tag",
		zap.String("tag", tag), zap.Int("removed", removed))
	return removed
}

// InvalidatePattern removes every key whose name contains pattern as a
// substring under the cache prefix, and returns the count removed.
func (q *QueryCache) InvalidatePattern(ctx context.Context, pattern string) int {
	ctx, span := q.tracer.Start(ctx, "querycache.InvalidatePattern")
	defer span.End()

	match := q.keys.Prefix() + "*" + pattern + "*"
	keys, err := q.redis.Keys(ctx, match).Result()
	if err != nil {
		q.logger.Warn("pattern scan failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	if err := q.redis.Del(ctx, keys...).Err(); err != nil {
		q.logger.Warn("pattern invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}

	q.metrics.AddSize(int64(-len(keys)))
	if q.collector != nil {
		q.collector.CacheInvalidations(collectorCacheName, "pattern", len(keys))
	}
	return len(keys)
}

// ClearAll removes every key under the cache prefix, resets the size
// counter to zero exactly, and returns the count removed.
func (q *QueryCache) ClearAll(ctx context.Context) int {
	ctx, span := q.tracer.Start(ctx, "querycache.ClearAll")
	defer span.End()

	keys, err := q.redis.Keys(ctx, q.keys.Prefix()+"*").Result()
	if err != nil {
		q.logger.Warn("clear-all scan failed", zap.Error(err))
		return 0
	}
	if len(keys) > 0 {
		if err := q.redis.Del(ctx, keys...).Err(); err != nil {
			q.logger.Warn("clear-all delete failed", zap.Error(err))
			return 0
		}
	}

	q.metrics.ResetSize()
	if q.collector != nil {
		q.collector.CacheInvalidations(collectorCacheName, "clear", len(keys))
	}
	return len(keys)
}

// Metrics returns a snapshot of the cache counters.
func (q *QueryCache) Metrics() MetricsSnapshot {
	return q.metrics.Snapshot()
}

// PatternStats returns per-pattern query statistics.
func (q *QueryCache) PatternStats() map[string]PatternStats {
	return q.tracker.Snapshot()
}

// Close stops accepting new eviction sweeps and waits for in-flight
// ones.
func (q *QueryCache) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.wg.Wait()
}

// maybeEvict starts an asynchronous eviction sweep unless one ran too
// recently. Eviction failure is logged, never raised: cache writes must
// not fail because eviction did.
func (q *QueryCache) maybeEvict() {
	if q.closed.Load() || !q.evictGate.Allow() {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := q.evictor.Evict(ctx, q)
		if err != nil {
			q.logger.Error("cache eviction failed",
				zap.String("strategy", q.evictor.Name()), zap.Error(err))
			return
		}
		if removed > 0 {
			q.metrics.AddSize(int64(-removed))
			if q.collector != nil {
				q.collector.CacheEvictions(collectorCacheName, removed)
			}
			q.logger.Info("evicted cache entries",
				zap.String("strategy", q.evictor.Name()), zap.Int("removed", removed))
		}
	}()
}

func (q *QueryCache) deleteQuiet(ctx context.Context, key string) {
	if err := q.redis.Del(ctx, key).Err(); err != nil {
		q.logger.Debug("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}
