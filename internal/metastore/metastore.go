// Package metastore defines the index-metadata and split-lifecycle
// interface the indexing core consumes, plus in-memory and boltdb-backed
// implementations.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/model"
)

// ErrorKind classifies a metastore error.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindIndexDoesNotExist
	ErrorKindSplitsDoNotExist
	ErrorKindSplitsNotStaged
	ErrorKindCheckpointMismatch
	ErrorKindInternal
	ErrorKindIO
)

// Error wraps an underlying error with a Kind for classification. Only
// ErrorKindCheckpointMismatch and ErrorKindSplitsNotStaged are logical
// errors (never retried); the rest are retried with backoff at the call
// site, same as Storage.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string { return "metastore: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error  { return e.Err }

// IsLogical reports whether err is a logical/protocol error that must not be
// retried (CheckpointMismatch, SplitsNotStaged).
func IsLogical(err error) bool {
	var me *Error
	if !errors.As(err, &me) {
		return false
	}
	return me.Kind == ErrorKindCheckpointMismatch || me.Kind == ErrorKindSplitsNotStaged
}

// SplitFilter narrows ListSplits to a subset, e.g. by state or partition.
type SplitFilter struct {
	State       *model.SplitState
	PartitionID *ids.PartitionID
	SourceID    string
}

func (f SplitFilter) matches(s model.SplitMetadata) bool {
	if f.State != nil && s.State != *f.State {
		return false
	}
	if f.PartitionID != nil && s.PartitionID != *f.PartitionID {
		return false
	}
	if f.SourceID != "" && s.SourceID != f.SourceID {
		return false
	}
	return true
}

// Metastore is the index-metadata and split-lifecycle store the core
// consumes. publish_splits is atomic and checkpoint-conditional: all
// publish/replace transitions happen, or none do, and the checkpoint only
// advances if the provided delta chains from the stored value.
type Metastore interface {
	ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error)
	IndexMetadata(ctx context.Context, indexUID model.IndexUID) (model.IndexMetadata, error)
	StageSplit(ctx context.Context, indexUID model.IndexUID, split model.SplitMetadata) error
	PublishSplits(ctx context.Context, indexUID model.IndexUID, sourceID string, publish []ids.SplitID, replace []ids.SplitID, delta ids.CheckpointDelta) error
	ListSplits(ctx context.Context, indexUID model.IndexUID, filter SplitFilter) ([]model.SplitMetadata, error)
	MarkSplitsForDeletion(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error
	DeleteSplits(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error
	CheckConnectivity(ctx context.Context) error

	// SweepStaged lists Staged splits older than grace and marks them for
	// deletion, supplementing the base interface per the sweeping GC
	// mentioned in the error-handling design.
	SweepStaged(ctx context.Context, indexUID model.IndexUID, grace time.Duration) ([]model.SplitMetadata, error)
}
