package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AgentStateSnapshot is the database row for one checkpoint.
type AgentStateSnapshot struct {
	ID             string    `gorm:"primaryKey;size:36"`
	RunID          string    `gorm:"index;size:64;not null"`
	UserID         string    `gorm:"size:64"`
	ThreadID       string    `gorm:"index;size:64"`
	CheckpointType string    `gorm:"size:32"`
	StateData      []byte    `gorm:"type:bytes"`
	Compressed     bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"index"`
}

// TableName sets the table name for GORM.
func (AgentStateSnapshot) TableName() string {
	return "agent_state_snapshots"
}

// GormStoreConfig configures a GormStateStore.
type GormStoreConfig struct {
	// Compress gzips state blobs before insert. Reads detect the
	// per-row flag, so the setting can change at any time.
	Compress bool `yaml:"compress" json:"compress"`

	// ThreadContextLimit caps how many snapshots GetThreadContext
	// returns.
	ThreadContextLimit int `yaml:"thread_context_limit" json:"thread_context_limit"`
}

// DefaultGormStoreConfig returns the default store configuration.
func DefaultGormStoreConfig() GormStoreConfig {
	return GormStoreConfig{
		Compress:           false,
		ThreadContextLimit: 20,
	}
}

// GormStateStore is the durable StateStore backed by a SQL database
// through GORM. It owns ground truth: every save inserts a new
// snapshot row, and the latest row per run is the canonical current
// state.
type GormStateStore struct {
	db       *gorm.DB
	config   GormStoreConfig
	compress atomic.Bool
	logger   *zap.Logger
}

// NewGormStateStore creates a GormStateStore.
func NewGormStateStore(db *gorm.DB, config GormStoreConfig, logger *zap.Logger) (*GormStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config.ThreadContextLimit <= 0 {
		config.ThreadContextLimit = DefaultGormStoreConfig().ThreadContextLimit
	}
	store := &GormStateStore{
		db:     db,
		config: config,
		logger: logger.With(zap.String("component", "gorm_state_store")),
	}
	store.compress.Store(config.Compress)
	return store, nil
}

// SetCompression toggles gzip of new state blobs. Existing rows carry
// a per-row flag, so reads are unaffected by the change.
func (s *GormStateStore) SetCompression(enabled bool) {
	s.compress.Store(enabled)
}

// AutoMigrate creates the snapshot table. Intended for tests and
// development; production schemas are managed externally.
func (s *GormStateStore) AutoMigrate() error {
	return s.db.AutoMigrate(&AgentStateSnapshot{})
}

// SaveAgentState implements StateStore. Failures propagate to the
// caller: silently losing a checkpoint is unacceptable at this layer.
func (s *GormStateStore) SaveAgentState(ctx context.Context, req *SaveStateRequest) (SaveResult, error) {
	if req == nil || req.RunID == "" {
		return SaveResult{}, fmt.Errorf("%w: missing run id", ErrInvalidRequest)
	}

	checkpointType := req.CheckpointType
	if checkpointType == "" {
		checkpointType = CheckpointManual
	}

	data, err := json.Marshal(req.StateData)
	if err != nil {
		return SaveResult{}, fmt.Errorf("state not serializable: %w", err)
	}

	compressed := false
	if s.compress.Load() {
		if packed, err := gzipBytes(data); err == nil {
			data = packed
			compressed = true
		} else {
			s.logger.Warn("state compression failed, storing raw", zap.Error(err))
		}
	}

	row := AgentStateSnapshot{
		ID:             uuid.NewString(),
		RunID:          req.RunID,
		UserID:         req.UserID,
		ThreadID:       req.ThreadID,
		CheckpointType: string(checkpointType),
		StateData:      data,
		Compressed:     compressed,
		CreatedAt:      time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return SaveResult{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("snapshot_id", row.ID),
		zap.String("run_id", row.RunID),
		zap.String("checkpoint_type", row.CheckpointType),
	)

	return SaveResult{Success: true, SnapshotID: row.ID}, nil
}

// LoadAgentState implements StateStore.
func (s *GormStateStore) LoadAgentState(ctx context.Context, runID string) (map[string]any, error) {
	row, err := s.latestByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.decode(row)
}

// RecoverAgentState implements StateStore.
func (s *GormStateStore) RecoverAgentState(ctx context.Context, req *RecoverStateRequest) (*Snapshot, error) {
	if req == nil || req.RunID == "" {
		return nil, fmt.Errorf("%w: missing run id", ErrInvalidRequest)
	}

	row, err := s.latestByRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	return s.toSnapshot(row)
}

// GetThreadContext implements StateStore.
func (s *GormStateStore) GetThreadContext(ctx context.Context, threadID string) (*ThreadContext, error) {
	var rows []AgentStateSnapshot
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Limit(s.config.ThreadContextLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load thread context: %w", err)
	}

	tc := &ThreadContext{
		ThreadID:  threadID,
		Snapshots: make([]*Snapshot, 0, len(rows)),
	}
	for i := range rows {
		snap, err := s.toSnapshot(&rows[i])
		if err != nil {
			s.logger.Warn("skipping undecodable snapshot",
				zap.String("snapshot_id", rows[i].ID), zap.Error(err))
			continue
		}
		tc.Snapshots = append(tc.Snapshots, snap)
	}
	return tc, nil
}

func (s *GormStateStore) latestByRun(ctx context.Context, runID string) (*AgentStateSnapshot, error) {
	var row AgentStateSnapshot
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &row, nil
}

func (s *GormStateStore) decode(row *AgentStateSnapshot) (map[string]any, error) {
	data := row.StateData
	if row.Compressed {
		unpacked, err := gunzipBytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot %s: %w", row.ID, err)
		}
		data = unpacked
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", row.ID, err)
	}
	return state, nil
}

func (s *GormStateStore) toSnapshot(row *AgentStateSnapshot) (*Snapshot, error) {
	stateData, err := s.decode(row)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:             row.ID,
		RunID:          row.RunID,
		UserID:         row.UserID,
		ThreadID:       row.ThreadID,
		CheckpointType: CheckpointType(row.CheckpointType),
		StateData:      stateData,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
