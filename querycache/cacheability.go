package querycache

import "strings"

// CacheableFunc decides whether a (query, result) pair may be cached.
// It is a pluggable policy; callers can swap it via WithCacheableFunc.
type CacheableFunc func(query string, result any) bool

// nondeterministic builtins whose presence makes a result unsafe to
// replay from cache.
var nondeterministicMarkers = []string{
	"now()",
	"random()",
	"current_timestamp",
	"current_time",
	"current_date",
	"uuid_generate",
	"gen_random_uuid",
}

// DefaultCacheable is the default policy: cache only SELECT statements
// that do not call nondeterministic builtins, and never cache nil or
// error results.
func DefaultCacheable(query string, result any) bool {
	if result == nil {
		return false
	}
	if err, ok := result.(error); ok && err != nil {
		return false
	}

	q := NormalizeQuery(query)
	if !strings.HasPrefix(q, "select") && !strings.HasPrefix(q, "with") {
		return false
	}
	for _, marker := range nondeterministicMarkers {
		if strings.Contains(q, marker) {
			return false
		}
	}
	return true
}
