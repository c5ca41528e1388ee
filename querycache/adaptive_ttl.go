package querycache

import (
	"math"
	"time"
)

// TTLPolicy computes the TTL for a freshly cached entry. The exact
// curve is a tunable policy, not a hard contract; implementations must
// be monotonic non-decreasing in both frequency and duration.
type TTLPolicy interface {
	TTL(pattern string, frequency int, avgDuration time.Duration) time.Duration
}

// AdaptiveTTL is the default policy: frequent and expensive queries
// stay cached longer, rare and cheap ones shorter. The result is
// clamped to [Min, Max].
type AdaptiveTTL struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// NewAdaptiveTTL creates the default TTL policy. Zero fields fall back
// to 5m base, 30s min, 1h max.
func NewAdaptiveTTL(base, min, max time.Duration) *AdaptiveTTL {
	if base <= 0 {
		base = 5 * time.Minute
	}
	if min <= 0 {
		min = 30 * time.Second
	}
	if max <= 0 {
		max = time.Hour
	}
	return &AdaptiveTTL{Base: base, Min: min, Max: max}
}

// TTL computes base * freqFactor * costFactor, clamped. Both factors
// grow monotonically: logarithmically with observed frequency, and
// linearly (capped) with average query duration.
func (p *AdaptiveTTL) TTL(_ string, frequency int, avgDuration time.Duration) time.Duration {
	if frequency < 0 {
		frequency = 0
	}

	freqFactor := 1.0 + math.Log2(1.0+float64(frequency))/4.0

	seconds := avgDuration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	if seconds > 10 {
		seconds = 10
	}
	costFactor := 1.0 + seconds/5.0

	ttl := time.Duration(float64(p.Base) * freqFactor * costFactor)
	if ttl < p.Min {
		return p.Min
	}
	if ttl > p.Max {
		return p.Max
	}
	return ttl
}
