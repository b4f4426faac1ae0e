// Package source defines the Source interface the indexing core consumes,
// plus file/stdin/memory/queue implementations.
package source

import (
	"context"
	"errors"

	"github.com/shardwell/shardwell/internal/ids"
)

// RawDocBatch is one unit of work pulled from a Source: raw document bytes
// plus the checkpoint delta they advance. Consecutive batches' deltas chain:
// each batch's From equals the previous batch's To, per partition.
type RawDocBatch struct {
	Docs          [][]byte
	CheckpointDelta ids.CheckpointDelta
	// ForceCommit requests an immediate flush of the indexer's open splits
	// regardless of the configured commit triggers.
	ForceCommit bool
}

// ErrEndOfSource is returned by NextBatch when a finite source is exhausted.
// The source driver stage treats this as a clean Success termination, not a
// Failure.
var ErrEndOfSource = errors.New("source: end of source")

// Source yields ordered batches with checkpoint positions. NextBatch blocks
// until a batch is ready, the source is exhausted (ErrEndOfSource), or an
// error occurs. The indexing pipeline does not retry NextBatch: any error
// other than ErrEndOfSource terminates the run with Failure.
type Source interface {
	// NextBatch pulls the next batch, given the checkpoint already consumed.
	NextBatch(ctx context.Context, checkpoint ids.Checkpoint) (RawDocBatch, error)
	// Acknowledge informs the source that checkpoint has been durably
	// published, so it may release any retained buffering up to that point.
	Acknowledge(ctx context.Context, checkpoint ids.Checkpoint) error
	// Close releases any resources held by the source.
	Close() error
}
