// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes cache and persistence metrics to Prometheus.
type Collector struct {
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheSize          *prometheus.GaugeVec
	cacheEvictions     *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheHitDuration   *prometheus.HistogramVec

	stateSaves        *prometheus.CounterVec
	stateSaveDuration prometheus.Histogram

	dbQueryDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a Collector registered against reg. Pass a
// private registry in tests to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	c.cacheSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_entries",
			Help:      "Approximate number of entries held per cache",
		},
		[]string{"cache"},
	)

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries removed by eviction",
		},
		[]string{"cache"},
	)

	c.cacheInvalidations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of entries removed by explicit invalidation",
		},
		[]string{"cache", "reason"},
	)

	c.cacheHitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_hit_duration_seconds",
			Help:      "Latency of cache hits",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"cache"},
	)

	c.stateSaves = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_saves_total",
			Help:      "Total number of agent state save requests by outcome",
		},
		[]string{"outcome"},
	)

	c.stateSaveDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_save_duration_seconds",
			Help:      "Duration of durable agent state saves",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.dbQueryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Duration of SQL queries executed on cache misses",
			Buckets:   prometheus.DefBuckets,
		},
	)

	return c
}

// CacheHit records one hit for the named cache.
func (c *Collector) CacheHit(cache string, latency time.Duration) {
	c.cacheHits.WithLabelValues(cache).Inc()
	c.cacheHitDuration.WithLabelValues(cache).Observe(latency.Seconds())
}

// CacheMiss records one miss for the named cache.
func (c *Collector) CacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// SetCacheSize publishes the current approximate entry count.
func (c *Collector) SetCacheSize(cache string, size int64) {
	c.cacheSize.WithLabelValues(cache).Set(float64(size))
}

// CacheEvictions records n entries removed by an eviction sweep.
func (c *Collector) CacheEvictions(cache string, n int) {
	c.cacheEvictions.WithLabelValues(cache).Add(float64(n))
}

// CacheInvalidations records n entries removed by explicit invalidation.
func (c *Collector) CacheInvalidations(cache, reason string, n int) {
	c.cacheInvalidations.WithLabelValues(cache, reason).Add(float64(n))
}

// StateSave records one save request outcome: written, skipped,
// fallback or error.
func (c *Collector) StateSave(outcome string, duration time.Duration) {
	c.stateSaves.WithLabelValues(outcome).Inc()
	c.stateSaveDuration.Observe(duration.Seconds())
}

// DBQuery records the duration of one SQL query.
func (c *Collector) DBQuery(duration time.Duration) {
	c.dbQueryDuration.Observe(duration.Seconds())
}
