// Package state provides agent-state persistence: a durable StateStore
// holding ground truth, and a deduplicating StatePersistence wrapper
// that skips redundant writes for optimizable checkpoints.
//
// The wrapper never owns ground truth. Reads always pass through to the
// durable store, critical checkpoints always bypass deduplication, and
// any failure on the optimized path falls back to a direct durable
// write.
package state
