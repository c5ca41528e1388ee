package querycache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupEvictionCache(t *testing.T, maxSize int64) (*miniredis.Miniredis, *QueryCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := DefaultConfig()
	cfg.MaxCacheSize = maxSize

	q := New(rdb, cfg, zap.NewNop())
	t.Cleanup(q.Close)

	return mr, q
}

// seedEntry plants an entry with a controlled creation time and access
// count, bypassing the adaptive TTL path.
func seedEntry(t *testing.T, mr *miniredis.Miniredis, q *QueryCache, query string, createdAt time.Time, accessCount int) string {
	t.Helper()

	key := q.keys.Key(query, nil)
	entry := Entry{
		Key:         key,
		Value:       json.RawMessage(`"v"`),
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(time.Hour),
		AccessCount: accessCount,
	}
	data, err := json.Marshal(&entry)
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, string(data)))
	return key
}

func TestEvictOldest(t *testing.T) {
	mr, q := setupEvictionCache(t, 2)
	now := time.Now()

	oldest := seedEntry(t, mr, q, "SELECT 1", now.Add(-3*time.Hour), 9)
	mid := seedEntry(t, mr, q, "SELECT 2", now.Add(-2*time.Hour), 0)
	newest := seedEntry(t, mr, q, "SELECT 3", now.Add(-time.Hour), 0)

	removed, err := (&EvictOldest{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.False(t, mr.Exists(oldest))
	assert.True(t, mr.Exists(mid))
	assert.True(t, mr.Exists(newest))
}

func TestEvictLeastAccessed(t *testing.T) {
	mr, q := setupEvictionCache(t, 2)
	now := time.Now()

	cold := seedEntry(t, mr, q, "SELECT 1", now.Add(-time.Hour), 1)
	warm := seedEntry(t, mr, q, "SELECT 2", now.Add(-3*time.Hour), 5)
	hot := seedEntry(t, mr, q, "SELECT 3", now.Add(-2*time.Hour), 9)

	removed, err := (&EvictLeastAccessed{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.False(t, mr.Exists(cold))
	assert.True(t, mr.Exists(warm))
	assert.True(t, mr.Exists(hot))
}

func TestEviction_NoOverflowNoOp(t *testing.T) {
	mr, q := setupEvictionCache(t, 5)
	now := time.Now()

	seedEntry(t, mr, q, "SELECT 1", now, 0)
	seedEntry(t, mr, q, "SELECT 2", now, 0)

	removed, err := (&EvictOldest{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Len(t, mr.Keys(), 2)
}

func TestEviction_SkipsTagIndexes(t *testing.T) {
	mr, q := setupEvictionCache(t, 1)
	now := time.Now()

	seedEntry(t, mr, q, "SELECT 1", now.Add(-2*time.Hour), 0)
	keep := seedEntry(t, mr, q, "SELECT 2", now.Add(-time.Hour), 0)
	tagKey := q.keys.TagKey("users")
	mr.SAdd(tagKey, keep)

	removed, err := (&EvictOldest{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.True(t, mr.Exists(tagKey), "tag indexes are not eviction candidates")
	assert.True(t, mr.Exists(keep))
}

func TestEviction_UnreadableEntriesGoFirst(t *testing.T) {
	mr, q := setupEvictionCache(t, 1)
	now := time.Now()

	good := seedEntry(t, mr, q, "SELECT 1", now.Add(-10*time.Hour), 0)
	bad := q.keys.Key("SELECT 2", nil)
	require.NoError(t, mr.Set(bad, "garbage"))

	removed, err := (&EvictOldest{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.False(t, mr.Exists(bad))
	assert.True(t, mr.Exists(good))
}

func TestEviction_EmptyCache(t *testing.T) {
	_, q := setupEvictionCache(t, 1)

	removed, err := (&EvictOldest{}).Evict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
