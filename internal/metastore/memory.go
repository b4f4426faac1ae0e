package metastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/model"
)

// Memory is an in-memory Metastore, used by tests and single-process
// deployments that don't need persistence across restarts.
type Memory struct {
	mu      sync.Mutex
	indexes map[model.IndexUID]model.IndexMetadata
	splits  map[model.IndexUID]map[ids.SplitID]model.SplitMetadata
}

// NewMemory constructs an empty in-memory metastore.
func NewMemory() *Memory {
	return &Memory{
		indexes: make(map[model.IndexUID]model.IndexMetadata),
		splits:  make(map[model.IndexUID]map[ids.SplitID]model.SplitMetadata),
	}
}

// CreateIndex registers a new index, used by tests and the CLI's bootstrap
// path (not part of the consumed interface, since index creation is an
// out-of-scope administrative concern).
func (m *Memory) CreateIndex(meta model.IndexMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta.Checkpoints == nil {
		meta.Checkpoints = make(map[string]ids.Checkpoint)
	}
	m.indexes[meta.IndexUID] = meta
	m.splits[meta.IndexUID] = make(map[ids.SplitID]model.SplitMetadata)
}

func (m *Memory) ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.IndexMetadata, 0, len(m.indexes))
	for _, v := range m.indexes {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (m *Memory) IndexMetadata(ctx context.Context, indexUID model.IndexUID) (model.IndexMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.indexes[indexUID]
	if !ok {
		return model.IndexMetadata{}, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "index_metadata", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	return meta.Clone(), nil
}

func (m *Memory) StageSplit(ctx context.Context, indexUID model.IndexUID, split model.SplitMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	splits, ok := m.splits[indexUID]
	if !ok {
		return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "stage_split", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	split.State = model.SplitStateStaged
	splits[split.SplitID] = split
	return nil
}

func (m *Memory) PublishSplits(ctx context.Context, indexUID model.IndexUID, sourceID string, publish []ids.SplitID, replace []ids.SplitID, delta ids.CheckpointDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	splits, ok := m.splits[indexUID]
	if !ok {
		return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "publish_splits", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	meta, ok := m.indexes[indexUID]
	if !ok {
		return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "publish_splits", Err: fmt.Errorf("index %q not found", indexUID)}
	}

	for _, id := range publish {
		s, ok := splits[id]
		if !ok {
			return &Error{Kind: ErrorKindSplitsNotStaged, Op: "publish_splits", Err: fmt.Errorf("split %q not found", id)}
		}
		if s.State != model.SplitStateStaged {
			return &Error{Kind: ErrorKindSplitsNotStaged, Op: "publish_splits", Err: fmt.Errorf("split %q is %s, not Staged", id, s.State)}
		}
	}
	for _, id := range replace {
		if _, ok := splits[id]; !ok {
			return &Error{Kind: ErrorKindSplitsDoNotExist, Op: "publish_splits", Err: fmt.Errorf("split %q not found", id)}
		}
	}

	cp := meta.Checkpoints[sourceID]
	if cp == nil {
		cp = ids.Checkpoint{}
	}
	if len(delta) > 0 {
		next, err := cp.Apply(delta)
		if err != nil {
			return &Error{Kind: ErrorKindCheckpointMismatch, Op: "publish_splits", Err: err}
		}
		cp = next
	}

	// all checks passed: apply the whole transaction atomically.
	for _, id := range publish {
		s := splits[id]
		s.State = model.SplitStatePublished
		splits[id] = s
	}
	for _, id := range replace {
		s := splits[id]
		s.State = model.SplitStateMarkedForDeletion
		splits[id] = s
	}
	if meta.Checkpoints == nil {
		meta.Checkpoints = make(map[string]ids.Checkpoint)
	}
	meta.Checkpoints[sourceID] = cp
	m.indexes[indexUID] = meta

	return nil
}

func (m *Memory) ListSplits(ctx context.Context, indexUID model.IndexUID, filter SplitFilter) ([]model.SplitMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	splits, ok := m.splits[indexUID]
	if !ok {
		return nil, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "list_splits", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	out := make([]model.SplitMetadata, 0, len(splits))
	for _, s := range splits {
		if filter.matches(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) MarkSplitsForDeletion(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	splits, ok := m.splits[indexUID]
	if !ok {
		return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "mark_splits_for_deletion", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	for _, id := range splitIDs {
		s, ok := splits[id]
		if !ok {
			continue // idempotent: a missing split is already "gone"
		}
		s.State = model.SplitStateMarkedForDeletion
		splits[id] = s
	}
	return nil
}

func (m *Memory) DeleteSplits(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	splits, ok := m.splits[indexUID]
	if !ok {
		return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "delete_splits", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	for _, id := range splitIDs {
		delete(splits, id)
	}
	return nil
}

func (m *Memory) CheckConnectivity(ctx context.Context) error { return nil }

func (m *Memory) SweepStaged(ctx context.Context, indexUID model.IndexUID, grace time.Duration) ([]model.SplitMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	splits, ok := m.splits[indexUID]
	if !ok {
		return nil, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "sweep_staged", Err: fmt.Errorf("index %q not found", indexUID)}
	}
	cutoff := time.Now().Add(-grace)
	var swept []model.SplitMetadata
	for id, s := range splits {
		if s.State == model.SplitStateStaged && s.CreateTimestamp.Before(cutoff) {
			s.State = model.SplitStateMarkedForDeletion
			splits[id] = s
			swept = append(swept, s)
		}
	}
	return swept, nil
}
