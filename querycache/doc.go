// Package querycache provides a Redis-backed cache for query results
// with deterministic key derivation, adaptive TTL computation, tag and
// pattern based invalidation, and pluggable volume eviction.
//
// The cache is a soft layer: every operation degrades to a miss or a
// no-op when Redis is unavailable, and never propagates transport
// errors to the caller. Correctness of the underlying data source is
// never compromised by cache failures.
//
// Entry lifecycle per key: absent -> live -> (expired | invalidated |
// evicted) -> absent. All removal paths delete the entry from the
// primary store; tag index sets carry their own TTL slightly above the
// entry TTL so they never outlive the data they index by much.
package querycache
