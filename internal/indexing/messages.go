// Package indexing implements the indexing pipeline's stages: doc
// processor, indexer+commit policy, packager, uploader, and publisher.
package indexing

import (
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/model"
)

// ProcessedDoc is one document after doc-mapper parsing, carrying the
// attributes the indexer needs to route and track it.
type ProcessedDoc struct {
	Raw         []byte
	PartitionID ids.PartitionID
	Timestamp   int64
	HasTimestamp bool
	Tags        []string
}

// ProcessedDocBatch is the doc processor's output: parsed docs plus the
// checkpoint delta and force-commit flag carried over from the raw batch.
type ProcessedDocBatch struct {
	Docs            []ProcessedDoc
	CheckpointDelta ids.CheckpointDelta
	ForceCommit     bool
}

// IndexedSplit is one finalized in-memory segment, ready for packaging.
// ScratchDir holds the segment's on-disk files (single-owner; moves
// downstream with the payload).
type IndexedSplit struct {
	SplitID          ids.SplitID
	IndexUID         model.IndexUID
	SourceID         string
	NodeID           string
	PipelineOrd      int
	PartitionID      ids.PartitionID
	NumDocs          uint64
	UncompressedBytes uint64
	TimeRange        model.TimeRange
	CreateTimestamp  time.Time
	Tags             *model.TagSet
	ReplacedSplitIDs []ids.SplitID
	DeleteOpstamp    uint64
	NumMergeOps      int
	ScratchDir       string
	SegmentFiles     []string // file names relative to ScratchDir, in bundle order
}

// IndexedSplitBatch batches the splits closed by one commit trigger,
// carrying the accumulated checkpoint delta for all docs in the batch.
type IndexedSplitBatch struct {
	Splits          []IndexedSplit
	CheckpointDelta ids.CheckpointDelta
}

// PackagedSplit is an IndexedSplit turned into a self-describing bundle file
// on disk, not yet touched by the metastore or remote storage.
type PackagedSplit struct {
	IndexedSplit
	BundlePath    string
	SizeInBytes   uint64
	FooterOffsets model.FooterOffsets
}

// UploadedSplit is a PackagedSplit once staged in the metastore and put to
// object storage, carrying the checkpoint delta range owned by its batch.
type UploadedSplit struct {
	PackagedSplit
	CheckpointDelta ids.CheckpointDelta
}

// CommitMsg is the high-priority control message requesting an immediate
// flush of all open splits in the indexer, regardless of trigger state.
type CommitMsg struct{}

// ObserveMsg is a high-priority control message requesting a stage's
// current ObservableState be sent back on Reply.
type ObserveMsg struct {
	Reply chan<- any
}

// ShutdownMsg is a high-priority control message requesting a graceful
// stage shutdown once its current unit of work completes.
type ShutdownMsg struct{}
