package querycache

import (
	"sync"
	"time"
)

// maxDurationSamples bounds the per-pattern duration history. Only the
// most recent samples feed the TTL policy; the bound is not
// correctness-critical.
const maxDurationSamples = 10

// patternPrefixLen is how much of the normalized query identifies a
// pattern. Queries differing only in literal values usually share a
// prefix after normalization.
const patternPrefixLen = 64

// Pattern derives the tracking pattern for a query.
func Pattern(query string) string {
	q := NormalizeQuery(query)
	if len(q) > patternPrefixLen {
		return q[:patternPrefixLen]
	}
	return q
}

// PatternTracker counts query-pattern occurrences and keeps a bounded
// history of observed durations per pattern, feeding the adaptive TTL
// policy and metrics reporting.
type PatternTracker struct {
	mu        sync.Mutex
	counts    map[string]int
	durations map[string][]time.Duration
}

// NewPatternTracker creates an empty tracker.
func NewPatternTracker() *PatternTracker {
	return &PatternTracker{
		counts:    make(map[string]int),
		durations: make(map[string][]time.Duration),
	}
}

// Record notes one observation of pattern with the given duration,
// evicting the oldest duration sample once the history is full.
func (t *PatternTracker) Record(pattern string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[pattern]++

	samples := append(t.durations[pattern], duration)
	if len(samples) > maxDurationSamples {
		samples = samples[len(samples)-maxDurationSamples:]
	}
	t.durations[pattern] = samples
}

// Frequency returns how many times pattern has been recorded.
func (t *PatternTracker) Frequency(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[pattern]
}

// AvgDuration returns the mean of the retained duration samples for
// pattern, or zero when none were recorded.
func (t *PatternTracker) AvgDuration(pattern string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := t.durations[pattern]
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}

// PatternStats is a reporting snapshot for one pattern.
type PatternStats struct {
	Count       int           `json:"count"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Snapshot returns per-pattern statistics for reporting.
func (t *PatternTracker) Snapshot() map[string]PatternStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]PatternStats, len(t.counts))
	for pattern, count := range t.counts {
		var total time.Duration
		samples := t.durations[pattern]
		for _, d := range samples {
			total += d
		}
		stats := PatternStats{Count: count}
		if len(samples) > 0 {
			stats.AvgDuration = total / time.Duration(len(samples))
		}
		out[pattern] = stats
	}
	return out
}
