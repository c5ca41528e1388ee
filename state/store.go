package state

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// CheckpointType classifies a state-save request and determines whether
// deduplication may apply.
type CheckpointType string

const (
	CheckpointAuto             CheckpointType = "auto"
	CheckpointIntermediate     CheckpointType = "intermediate"
	CheckpointPipelineComplete CheckpointType = "pipeline_complete"
	CheckpointManual           CheckpointType = "manual"
	CheckpointError            CheckpointType = "error"
)

// Optimizable reports whether a save of this type may be skipped when
// the state content is unchanged. Anything not explicitly optimizable
// is critical and always written durably.
func (t CheckpointType) Optimizable() bool {
	switch t {
	case CheckpointAuto, CheckpointIntermediate, CheckpointPipelineComplete:
		return true
	default:
		return false
	}
}

// SaveStateRequest asks for one agent-state checkpoint to be persisted.
// An empty CheckpointType is treated as Manual (critical).
type SaveStateRequest struct {
	RunID          string         `json:"run_id"`
	UserID         string         `json:"user_id"`
	ThreadID       string         `json:"thread_id"`
	StateData      map[string]any `json:"state_data"`
	CheckpointType CheckpointType `json:"checkpoint_type"`
}

// SaveResult is the outcome of a save request.
type SaveResult struct {
	Success    bool   `json:"success"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// RecoverStateRequest asks for the latest recoverable snapshot of a
// run.
type RecoverStateRequest struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Snapshot is one persisted state checkpoint.
type Snapshot struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	UserID         string         `json:"user_id"`
	ThreadID       string         `json:"thread_id"`
	CheckpointType CheckpointType `json:"checkpoint_type"`
	StateData      map[string]any `json:"state_data"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ThreadContext is the recent snapshot history of a conversation
// thread.
type ThreadContext struct {
	ThreadID  string      `json:"thread_id"`
	Snapshots []*Snapshot `json:"snapshots"`
}

// CompressionConfigurable is an optional StateStore extension for
// stores that can toggle compression of newly written state blobs at
// runtime. Stores without it ignore the compression option.
type CompressionConfigurable interface {
	SetCompression(enabled bool)
}

// StateStore is the full-persistence implementation owning ground
// truth. Exactly one canonical current snapshot is resolvable per run
// through it.
type StateStore interface {
	// SaveAgentState persists one checkpoint. Failures propagate.
	SaveAgentState(ctx context.Context, req *SaveStateRequest) (SaveResult, error)

	// LoadAgentState returns the latest state for runID, or
	// ErrSnapshotNotFound.
	LoadAgentState(ctx context.Context, runID string) (map[string]any, error)

	// RecoverAgentState returns the latest snapshot for the requested
	// run, or ErrSnapshotNotFound.
	RecoverAgentState(ctx context.Context, req *RecoverStateRequest) (*Snapshot, error)

	// GetThreadContext returns the recent snapshot history for a
	// thread.
	GetThreadContext(ctx context.Context, threadID string) (*ThreadContext, error)
}
