package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcache/internal/metrics"
)

const tracerName = "github.com/BaSui01/agentcache/state"

// Options are the runtime-mutable knobs of StatePersistence. They only
// affect how writes happen, never read correctness.
type Options struct {
	// EnableDeduplication turns write skipping on or off.
	EnableDeduplication bool `yaml:"enable_deduplication" json:"enable_deduplication"`

	// EnableCompression asks the durable store to compress state blobs.
	// It is forwarded to stores implementing CompressionConfigurable and
	// ignored by the rest.
	EnableCompression bool `yaml:"enable_compression" json:"enable_compression"`

	// CacheMaxSize bounds the in-process dedup cache.
	CacheMaxSize int `yaml:"cache_max_size" json:"cache_max_size"`
}

// DefaultOptions returns the default optimizer options.
func DefaultOptions() Options {
	return Options{
		EnableDeduplication: true,
		EnableCompression:   false,
		CacheMaxSize:        1000,
	}
}

type dedupEntry struct {
	hash       uint64
	snapshotID string
	savedAt    time.Time
}

// StatePersistence wraps a StateStore and skips redundant durable
// writes: optimizable checkpoints whose content hash matches the last
// written state for (run, user) return the previous snapshot id without
// any I/O. Critical checkpoints always go straight through. Any failure
// on the optimized path degrades to a direct durable write; the
// optimization layer is never the reason a save fails.
type StatePersistence struct {
	fallback  StateStore
	logger    *zap.Logger
	tracer    trace.Tracer
	collector *metrics.Collector

	mu    sync.Mutex
	opts  Options
	cache map[string]dedupEntry
	order []string // insertion order for FIFO eviction

	skipped   uint64
	written   uint64
	fallbacks uint64
}

// NewStatePersistence creates the deduplicating wrapper around
// fallback. collector may be nil.
func NewStatePersistence(fallback StateStore, opts Options, logger *zap.Logger, collector *metrics.Collector) *StatePersistence {
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = DefaultOptions().CacheMaxSize
	}
	p := &StatePersistence{
		fallback:  fallback,
		logger:    logger.With(zap.String("component", "state_persistence")),
		tracer:    otel.Tracer(tracerName),
		collector: collector,
		opts:      opts,
		cache:     make(map[string]dedupEntry),
	}
	p.propagateCompression(opts.EnableCompression)
	return p
}

// SaveAgentState persists one checkpoint, skipping the durable write
// when an optimizable checkpoint's content is unchanged since the last
// save for the same (run, user).
func (p *StatePersistence) SaveAgentState(ctx context.Context, req *SaveStateRequest) (SaveResult, error) {
	ctx, span := p.tracer.Start(ctx, "state.SaveAgentState")
	defer span.End()

	start := time.Now()

	if req == nil || req.RunID == "" {
		return SaveResult{}, fmt.Errorf("%w: missing run id", ErrInvalidRequest)
	}

	checkpointType := req.CheckpointType
	if checkpointType == "" {
		checkpointType = CheckpointManual
	}

	p.mu.Lock()
	dedupEnabled := p.opts.EnableDeduplication
	p.mu.Unlock()

	if !checkpointType.Optimizable() || !dedupEnabled {
		res, err := p.fallback.SaveAgentState(ctx, req)
		p.recordSave("fallback", start, err)
		return res, err
	}

	hash, err := StateHash(req.StateData)
	if err != nil {
		// Optimized path broke before any decision was made: the save
		// still has to happen.
		p.logger.Warn("state hash failed, writing directly", zap.Error(err))
		res, err := p.fallback.SaveAgentState(ctx, req)
		p.recordSave("fallback", start, err)
		return res, err
	}

	key := req.RunID + ":" + req.UserID

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && entry.hash == hash {
		p.skipped++
		snapshotID := entry.snapshotID
		p.mu.Unlock()

		p.logger.Debug("skipped redundant state save",
			zap.String("run_id", req.RunID),
			zap.String("snapshot_id", snapshotID),
		)
		p.recordSave("skipped", start, nil)
		return SaveResult{Success: true, SnapshotID: snapshotID}, nil
	}
	p.mu.Unlock()

	res, err := p.fallback.SaveAgentState(ctx, req)
	if err != nil || !res.Success {
		p.recordSave("error", start, err)
		return res, err
	}

	p.mu.Lock()
	p.written++
	p.remember(key, dedupEntry{
		hash:       hash,
		snapshotID: res.SnapshotID,
		savedAt:    time.Now(),
	})
	p.mu.Unlock()

	p.recordSave("written", start, nil)
	return res, nil
}

// LoadAgentState delegates to the durable store; the optimizer never
// intercepts reads.
func (p *StatePersistence) LoadAgentState(ctx context.Context, runID string) (map[string]any, error) {
	return p.fallback.LoadAgentState(ctx, runID)
}

// RecoverAgentState delegates to the durable store.
func (p *StatePersistence) RecoverAgentState(ctx context.Context, req *RecoverStateRequest) (*Snapshot, error) {
	return p.fallback.RecoverAgentState(ctx, req)
}

// GetThreadContext delegates to the durable store.
func (p *StatePersistence) GetThreadContext(ctx context.Context, threadID string) (*ThreadContext, error) {
	return p.fallback.GetThreadContext(ctx, threadID)
}

// Configure replaces the runtime options. Shrinking the cache bound
// evicts oldest-inserted entries immediately; the compression flag is
// pushed down to the durable store.
func (p *StatePersistence) Configure(opts Options) {
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = DefaultOptions().CacheMaxSize
	}
	p.propagateCompression(opts.EnableCompression)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.opts = opts
	for len(p.order) > p.opts.CacheMaxSize {
		p.evictOldestLocked()
	}
}

// propagateCompression forwards the compression flag to stores that
// support toggling it.
func (p *StatePersistence) propagateCompression(enabled bool) {
	if cc, ok := p.fallback.(CompressionConfigurable); ok {
		cc.SetCompression(enabled)
	}
}

// Compression reports whether compression of durable blobs is
// requested.
func (p *StatePersistence) Compression() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.EnableCompression
}

// CacheStats describes the dedup cache.
type CacheStats struct {
	Entries      int    `json:"entries"`
	MaxSize      int    `json:"max_size"`
	Skipped      uint64 `json:"skipped"`
	Written      uint64 `json:"written"`
	Fallbacks    uint64 `json:"fallbacks"`
	DedupEnabled bool   `json:"dedup_enabled"`
}

// GetCacheStats returns a snapshot of the dedup cache counters.
func (p *StatePersistence) GetCacheStats() CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return CacheStats{
		Entries:      len(p.cache),
		MaxSize:      p.opts.CacheMaxSize,
		Skipped:      p.skipped,
		Written:      p.written,
		Fallbacks:    p.fallbacks,
		DedupEnabled: p.opts.EnableDeduplication,
	}
}

// ClearCache drops all dedup entries. Subsequent optimizable saves
// write durably once before skipping resumes.
func (p *StatePersistence) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache = make(map[string]dedupEntry)
	p.order = p.order[:0]
}

// remember inserts or updates a dedup entry, evicting in insertion
// order once the cache is full. FIFO is a deliberate simplification
// over LRU here: the cache is small and churned by run lifecycles.
func (p *StatePersistence) remember(key string, entry dedupEntry) {
	if _, ok := p.cache[key]; !ok {
		for len(p.order) >= p.opts.CacheMaxSize {
			p.evictOldestLocked()
		}
		p.order = append(p.order, key)
	}
	p.cache[key] = entry
}

func (p *StatePersistence) evictOldestLocked() {
	if len(p.order) == 0 {
		return
	}
	oldest := p.order[0]
	p.order = p.order[1:]
	delete(p.cache, oldest)
}

func (p *StatePersistence) recordSave(outcome string, start time.Time, err error) {
	if outcome == "fallback" {
		p.mu.Lock()
		p.fallbacks++
		p.mu.Unlock()
	}
	if err != nil {
		outcome = "error"
	}
	if p.collector != nil {
		p.collector.StateSave(outcome, time.Since(start))
	}
}

// StateHash computes a stable content hash of state data: canonical
// JSON (encoding/json sorts map keys) fed to xxh3. Hashing the whole
// state is intentionally coarse; it trades a small false-negative rate
// for a large reduction in write volume.
func StateHash(stateData map[string]any) (uint64, error) {
	data, err := json.Marshal(stateData)
	if err != nil {
		return 0, fmt.Errorf("state not serializable: %w", err)
	}
	return xxh3.Hash(data), nil
}
