package state

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupGormStore(t *testing.T, config GormStoreConfig) *GormStateStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// The in-memory database lives and dies with its connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := NewGormStateStore(db, config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestGormStateStore_SaveAndLoad(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	res, err := store.SaveAgentState(ctx, &SaveStateRequest{
		RunID:          "run-1",
		UserID:         "alice",
		ThreadID:       "thread-1",
		StateData:      map[string]any{"step": float64(3), "done": false},
		CheckpointType: CheckpointAuto,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.SnapshotID)

	state, err := store.LoadAgentState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": float64(3), "done": false}, state)
}

func TestGormStateStore_LoadReturnsLatest(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	for step := 1; step <= 3; step++ {
		_, err := store.SaveAgentState(ctx, &SaveStateRequest{
			RunID:     "run-1",
			StateData: map[string]any{"step": float64(step)},
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	state, err := store.LoadAgentState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), state["step"])
}

func TestGormStateStore_NotFound(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	_, err := store.LoadAgentState(ctx, "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = store.RecoverAgentState(ctx, &RecoverStateRequest{RunID: "missing"})
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestGormStateStore_InvalidRequests(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	_, err := store.SaveAgentState(ctx, &SaveStateRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = store.SaveAgentState(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = store.RecoverAgentState(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGormStateStore_Recover(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	res, err := store.SaveAgentState(ctx, &SaveStateRequest{
		RunID:          "run-1",
		UserID:         "alice",
		ThreadID:       "thread-1",
		StateData:      map[string]any{"step": float64(1)},
		CheckpointType: CheckpointError,
	})
	require.NoError(t, err)

	snap, err := store.RecoverAgentState(ctx, &RecoverStateRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, snap.ID)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, "alice", snap.UserID)
	assert.Equal(t, "thread-1", snap.ThreadID)
	assert.Equal(t, CheckpointError, snap.CheckpointType)
	assert.Equal(t, float64(1), snap.StateData["step"])
	assert.False(t, snap.CreatedAt.IsZero())
}

func TestGormStateStore_EmptyCheckpointTypeStoredAsManual(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	_, err := store.SaveAgentState(ctx, &SaveStateRequest{
		RunID:     "run-1",
		StateData: map[string]any{"step": float64(1)},
	})
	require.NoError(t, err)

	snap, err := store.RecoverAgentState(ctx, &RecoverStateRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, CheckpointManual, snap.CheckpointType)
}

func TestGormStateStore_CompressionRoundTrip(t *testing.T) {
	cfg := DefaultGormStoreConfig()
	cfg.Compress = true
	store := setupGormStore(t, cfg)
	ctx := context.Background()

	state := map[string]any{"messages": []any{"a long repeated payload", "a long repeated payload"}}
	res, err := store.SaveAgentState(ctx, &SaveStateRequest{RunID: "run-1", StateData: state})
	require.NoError(t, err)

	var row AgentStateSnapshot
	require.NoError(t, store.db.First(&row, "id = ?", res.SnapshotID).Error)
	assert.True(t, row.Compressed)

	got, err := store.LoadAgentState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestGormStateStore_ReadsUncompressedRowsUnderCompression(t *testing.T) {
	// Rows written before compression was enabled stay readable.
	store := setupGormStore(t, DefaultGormStoreConfig())
	ctx := context.Background()

	_, err := store.SaveAgentState(ctx, &SaveStateRequest{
		RunID:     "run-1",
		StateData: map[string]any{"step": float64(1)},
	})
	require.NoError(t, err)

	store.SetCompression(true)
	state, err := store.LoadAgentState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), state["step"])
}

func TestGormStateStore_ThreadContext(t *testing.T) {
	cfg := DefaultGormStoreConfig()
	cfg.ThreadContextLimit = 2
	store := setupGormStore(t, cfg)
	ctx := context.Background()

	for step := 1; step <= 3; step++ {
		_, err := store.SaveAgentState(ctx, &SaveStateRequest{
			RunID:     "run-1",
			ThreadID:  "thread-1",
			StateData: map[string]any{"step": float64(step)},
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	tc, err := store.GetThreadContext(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", tc.ThreadID)
	require.Len(t, tc.Snapshots, 2)
	assert.Equal(t, float64(3), tc.Snapshots[0].StateData["step"], "newest first")
	assert.Equal(t, float64(2), tc.Snapshots[1].StateData["step"])
}

func TestGormStateStore_ThreadContextEmpty(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())

	tc, err := store.GetThreadContext(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, tc.Snapshots)
}

func TestGormStateStore_UnserializableState(t *testing.T) {
	store := setupGormStore(t, DefaultGormStoreConfig())

	_, err := store.SaveAgentState(context.Background(), &SaveStateRequest{
		RunID:     "run-1",
		StateData: map[string]any{"ch": make(chan int)},
	})
	assert.Error(t, err)
}

func TestNewGormStateStore_NilDB(t *testing.T) {
	_, err := NewGormStateStore(nil, DefaultGormStoreConfig(), zap.NewNop())
	assert.Error(t, err)
}
