package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStateStore is an in-memory StateStore for development and
// testing. It keeps full snapshot history per run, newest last.
type MemoryStateStore struct {
	mu      sync.RWMutex
	runs    map[string][]*Snapshot
	threads map[string][]*Snapshot
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		runs:    make(map[string][]*Snapshot),
		threads: make(map[string][]*Snapshot),
	}
}

// SaveAgentState implements StateStore.
func (s *MemoryStateStore) SaveAgentState(_ context.Context, req *SaveStateRequest) (SaveResult, error) {
	if req == nil || req.RunID == "" {
		return SaveResult{}, fmt.Errorf("%w: missing run id", ErrInvalidRequest)
	}

	checkpointType := req.CheckpointType
	if checkpointType == "" {
		checkpointType = CheckpointManual
	}

	snap := &Snapshot{
		ID:             uuid.NewString(),
		RunID:          req.RunID,
		UserID:         req.UserID,
		ThreadID:       req.ThreadID,
		CheckpointType: checkpointType,
		StateData:      cloneState(req.StateData),
		CreatedAt:      time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[req.RunID] = append(s.runs[req.RunID], snap)
	if req.ThreadID != "" {
		s.threads[req.ThreadID] = append(s.threads[req.ThreadID], snap)
	}

	return SaveResult{Success: true, SnapshotID: snap.ID}, nil
}

// LoadAgentState implements StateStore.
func (s *MemoryStateStore) LoadAgentState(_ context.Context, runID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.runs[runID]
	if len(history) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return cloneState(history[len(history)-1].StateData), nil
}

// RecoverAgentState implements StateStore.
func (s *MemoryStateStore) RecoverAgentState(_ context.Context, req *RecoverStateRequest) (*Snapshot, error) {
	if req == nil || req.RunID == "" {
		return nil, fmt.Errorf("%w: missing run id", ErrInvalidRequest)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.runs[req.RunID]
	if len(history) == 0 {
		return nil, ErrSnapshotNotFound
	}

	latest := *history[len(history)-1]
	latest.StateData = cloneState(latest.StateData)
	return &latest, nil
}

// GetThreadContext implements StateStore. Snapshots are returned newest
// first.
func (s *MemoryStateStore) GetThreadContext(_ context.Context, threadID string) (*ThreadContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	tc := &ThreadContext{
		ThreadID:  threadID,
		Snapshots: make([]*Snapshot, 0, len(history)),
	}
	for i := len(history) - 1; i >= 0; i-- {
		snap := *history[i]
		snap.StateData = cloneState(snap.StateData)
		tc.Snapshots = append(tc.Snapshots, &snap)
	}
	return tc, nil
}

func cloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
