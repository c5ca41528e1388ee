package querycache

import (
	"sync"
	"time"

	"github.com/BaSui01/agentcache/internal/metrics"
)

// collectorCacheName labels this cache in the Prometheus collector.
const collectorCacheName = "query"

// Metrics holds hit/miss/size accounting for a QueryCache. CacheSize is
// a best-effort approximation: incremented on writes, decremented on
// removals, reset on clear. It is not exact under concurrent Redis
// access, only eventually consistent.
type Metrics struct {
	mu             sync.Mutex
	hits           int64
	misses         int64
	totalCacheTime time.Duration
	cacheSize      int64

	collector *metrics.Collector
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	HitRate        float64       `json:"hit_rate"`
	TotalCacheTime time.Duration `json:"total_cache_time"`
	CacheSize      int64         `json:"cache_size"`
}

// NewMetrics creates a Metrics. collector may be nil.
func NewMetrics(collector *metrics.Collector) *Metrics {
	return &Metrics{collector: collector}
}

// RecordHit records one hit with its read latency.
func (m *Metrics) RecordHit(latency time.Duration) {
	m.mu.Lock()
	m.hits++
	m.totalCacheTime += latency
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.CacheHit(collectorCacheName, latency)
	}
}

// RecordMiss records one miss.
func (m *Metrics) RecordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.CacheMiss(collectorCacheName)
	}
}

// AddSize adjusts the approximate entry count by delta, flooring at 0.
func (m *Metrics) AddSize(delta int64) {
	m.mu.Lock()
	m.cacheSize += delta
	if m.cacheSize < 0 {
		m.cacheSize = 0
	}
	size := m.cacheSize
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetCacheSize(collectorCacheName, size)
	}
}

// ResetSize sets the approximate entry count to zero exactly.
func (m *Metrics) ResetSize() {
	m.mu.Lock()
	m.cacheSize = 0
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetCacheSize(collectorCacheName, 0)
	}
}

// Size returns the approximate entry count.
func (m *Metrics) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheSize
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Hits:           m.hits,
		Misses:         m.misses,
		TotalCacheTime: m.totalCacheTime,
		CacheSize:      m.cacheSize,
	}
	if total := m.hits + m.misses; total > 0 {
		snap.HitRate = float64(m.hits) / float64(total)
	}
	return snap
}
