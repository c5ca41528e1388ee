package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EvictionStrategy removes entries when the cache grows past its
// configured maximum. Strategies are pluggable via
// WithEvictionStrategy.
type EvictionStrategy interface {
	// Evict removes overflow entries and returns how many were deleted.
	Evict(ctx context.Context, c *QueryCache) (int, error)

	// Name identifies the strategy in logs.
	Name() string
}

type scoredKey struct {
	key         string
	createdAt   int64
	accessCount int
}

// loadScoredKeys lists entry keys under the cache prefix (tag index
// keys excluded) and parses the fields eviction orders by. Unreadable
// entries score as oldest so they are reclaimed first.
func loadScoredKeys(ctx context.Context, c *QueryCache) ([]scoredKey, error) {
	tagPrefix := c.keys.Prefix() + "tag:"

	all, err := c.redis.Keys(ctx, c.keys.Prefix()+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("eviction scan failed: %w", err)
	}

	keys := all[:0]
	for _, k := range all {
		if !strings.HasPrefix(k, tagPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("eviction bulk read failed: %w", err)
	}

	scored := make([]scoredKey, 0, len(keys))
	for i, key := range keys {
		sk := scoredKey{key: key}
		if raw, ok := values[i].(string); ok {
			var entry Entry
			if err := json.Unmarshal([]byte(raw), &entry); err == nil {
				sk.createdAt = entry.CreatedAt.UnixNano()
				sk.accessCount = entry.AccessCount
			}
		}
		scored = append(scored, sk)
	}
	return scored, nil
}

func deleteOverflow(ctx context.Context, c *QueryCache, scored []scoredKey) (int, error) {
	overflow := len(scored) - int(c.config.MaxCacheSize)
	if overflow <= 0 {
		return 0, nil
	}

	victims := make([]string, overflow)
	for i := 0; i < overflow; i++ {
		victims[i] = scored[i].key
	}

	if err := c.redis.Del(ctx, victims...).Err(); err != nil {
		return 0, fmt.Errorf("eviction delete failed: %w", err)
	}
	return overflow, nil
}

// EvictOldest removes the entries with the earliest creation time.
type EvictOldest struct{}

// Name implements EvictionStrategy.
func (s *EvictOldest) Name() string { return "evict_oldest" }

// Evict implements EvictionStrategy.
func (s *EvictOldest) Evict(ctx context.Context, c *QueryCache) (int, error) {
	scored, err := loadScoredKeys(ctx, c)
	if err != nil {
		return 0, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].createdAt < scored[j].createdAt
	})
	return deleteOverflow(ctx, c, scored)
}

// EvictLeastAccessed removes the entries with the fewest recorded
// accesses, breaking ties by age.
type EvictLeastAccessed struct{}

// Name implements EvictionStrategy.
func (s *EvictLeastAccessed) Name() string { return "evict_least_accessed" }

// Evict implements EvictionStrategy.
func (s *EvictLeastAccessed) Evict(ctx context.Context, c *QueryCache) (int, error) {
	scored, err := loadScoredKeys(ctx, c)
	if err != nil {
		return 0, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].accessCount != scored[j].accessCount {
			return scored[i].accessCount < scored[j].accessCount
		}
		return scored[i].createdAt < scored[j].createdAt
	})
	return deleteOverflow(ctx, c, scored)
}
