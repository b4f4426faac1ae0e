package indexing

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/model"
)

// CommitPolicy configures the multi-trigger flush per partition: any one of
// doc count, byte size, or wall-clock age fires a commit.
type CommitPolicy struct {
	NumDocsThreshold uint64
	SizeThreshold    uint64
	Timeout          time.Duration
}

// DefaultCommitPolicy matches the configuration surface's stated defaults.
func DefaultCommitPolicy() CommitPolicy {
	return CommitPolicy{
		NumDocsThreshold: 10_000_000,
		SizeThreshold:    5 << 30,
		Timeout:          60 * time.Second,
	}
}

// openSplit accumulates processed documents for one partition into a single
// in-memory segment (here: an append-only scratch file) plus running
// counters, per the single-segment-finalization design (no intermediate
// merges inside the indexer).
type openSplit struct {
	scratch  *ioctl.ScopedDir
	segFile  *os.File
	segPath  string

	numDocs         uint64
	uncompressedBytes uint64
	timeRange       model.TimeRange
	tags            *model.TagSet
	oldestDoc       time.Time
	createTimestamp time.Time
}

// Indexer maintains one OpenSplit per partition id, enforcing the commit
// policy and emitting IndexedSplitBatch on trigger.
type Indexer struct {
	mu       sync.Mutex
	root     *ioctl.Root
	policy   CommitPolicy
	indexUID string
	sourceID string
	nodeID   string
	pipelineOrd int
	newSplitID  func() ids.SplitID
	partitions  map[ids.PartitionID]*openSplit

	// pending accumulates the checkpoint delta for every batch ingested
	// since the last flush of any partition, across however many batches
	// it takes for some partition's commit trigger to fire. It is drained
	// and attached to whichever split(s) flush next, then reset, so the
	// checkpoint advance a flush carries downstream always chains from the
	// previously published position — per partition, not per open split,
	// since a single source-level CheckpointDelta commonly spans documents
	// routed to several different index partitions.
	pending ids.CheckpointDelta

	// timerFlush receives a partition id whenever its commit_timeout timer
	// expires, so the stage loop can select on it alongside its mailbox.
	timerFlush chan ids.PartitionID
}

// IndexerIdentity names the pipeline an Indexer belongs to, stamped onto
// every split it closes.
type IndexerIdentity struct {
	IndexUID    string
	SourceID    string
	NodeID      string
	PipelineOrd int
}

// NewIndexer constructs an Indexer writing scratch segments under root.
func NewIndexer(root *ioctl.Root, policy CommitPolicy, identity IndexerIdentity, newSplitID func() ids.SplitID) *Indexer {
	return &Indexer{
		root:        root,
		policy:      policy,
		indexUID:    identity.IndexUID,
		sourceID:    identity.SourceID,
		nodeID:      identity.NodeID,
		pipelineOrd: identity.PipelineOrd,
		newSplitID:  newSplitID,
		partitions:  make(map[ids.PartitionID]*openSplit),
		timerFlush:  make(chan ids.PartitionID, 64),
	}
}

// TimerFlush is the channel the stage loop selects on to learn which
// partition's commit_timeout just elapsed.
func (x *Indexer) TimerFlush() <-chan ids.PartitionID { return x.timerFlush }

// mergeCheckpointDelta extends dst with src, per partition: a partition
// already present keeps its original From and advances its To; a new
// partition is copied as-is.
func mergeCheckpointDelta(dst, src ids.CheckpointDelta) ids.CheckpointDelta {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(ids.CheckpointDelta, len(src))
	}
	for partition, delta := range src {
		if existing, ok := dst[partition]; ok {
			existing.To = delta.To
			dst[partition] = existing
		} else {
			dst[partition] = delta
		}
	}
	return dst
}

// drainPending returns the checkpoint delta accumulated since the last
// flush and resets the accumulator, so the next flush starts clean.
func (x *Indexer) drainPending() ids.CheckpointDelta {
	delta := x.pending
	x.pending = nil
	return delta
}

func (x *Indexer) getOrOpen(partition ids.PartitionID) (*openSplit, error) {
	if s, ok := x.partitions[partition]; ok {
		return s, nil
	}
	scratch, err := x.root.New(fmt.Sprintf("partition-%d", partition))
	if err != nil {
		return nil, err
	}
	segPath := scratch.Join("segment.ndjson")
	f, err := os.Create(segPath)
	if err != nil {
		scratch.Close()
		return nil, fmt.Errorf("indexer: create segment file: %w", err)
	}
	s := &openSplit{
		scratch:         scratch,
		segFile:         f,
		segPath:         segPath,
		tags:            model.NewTagSet(),
		createTimestamp: time.Now(),
	}
	x.partitions[partition] = s

	if x.policy.Timeout > 0 {
		t := time.AfterFunc(x.policy.Timeout, func() {
			select {
			case x.timerFlush <- partition:
			default:
			}
		})
		_ = t // the timer's single firing is enough; no need to retain a handle
	}

	return s, nil
}

// Ingest appends batch's documents to their partitions' open splits,
// returning any partitions whose doc-count or size trigger fires inline; a
// batch with ForceCommit set closes every open partition. The caller handles
// TimerFlush and end-of-source via FlushPartition / FlushAll.
func (x *Indexer) Ingest(batch ProcessedDocBatch) (IndexedSplitBatch, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.pending = mergeCheckpointDelta(x.pending, batch.CheckpointDelta)

	var out IndexedSplitBatch

	touched := map[ids.PartitionID]struct{}{}
	for _, doc := range batch.Docs {
		s, err := x.getOrOpen(doc.PartitionID)
		if err != nil {
			return out, err
		}
		if _, err := s.segFile.Write(doc.Raw); err != nil {
			return out, fmt.Errorf("indexer: write doc: %w", err)
		}
		if _, err := s.segFile.Write([]byte{'\n'}); err != nil {
			return out, fmt.Errorf("indexer: write doc: %w", err)
		}

		s.numDocs++
		n := uint64(len(doc.Raw))
		s.uncompressedBytes += n
		if s.numDocs == 1 {
			s.oldestDoc = time.Now()
		}
		if doc.HasTimestamp {
			s.timeRange.Widen(doc.Timestamp)
		}
		for _, t := range doc.Tags {
			s.tags.Add(t)
		}

		touched[doc.PartitionID] = struct{}{}
	}

	if batch.ForceCommit {
		for p := range x.partitions {
			touched[p] = struct{}{}
		}
	}

	for p := range touched {
		s := x.partitions[p]
		if s == nil {
			continue
		}
		trigger := batch.ForceCommit ||
			s.numDocs >= x.policy.NumDocsThreshold ||
			s.uncompressedBytes >= x.policy.SizeThreshold
		if trigger {
			closed, err := x.closeLocked(p)
			if err != nil {
				return out, err
			}
			if closed != nil {
				out.Splits = append(out.Splits, *closed)
			}
		}
	}

	if len(out.Splits) > 0 {
		out.CheckpointDelta = x.drainPending()
	}

	return out, nil
}

// FlushPartition force-closes one partition's open split, used when its
// commit_timeout fires, returning the
// checkpoint delta accumulated since the last flush alongside it. The delta
// is nil when nothing closed (the pending backlog, if any, is left intact
// for the next flush to carry).
func (x *Indexer) FlushPartition(partition ids.PartitionID) (*IndexedSplit, ids.CheckpointDelta, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	closed, err := x.closeLocked(partition)
	if err != nil || closed == nil {
		return closed, nil, err
	}
	return closed, x.drainPending(), nil
}

// FlushAll force-closes every open partition, used on end-of-source; nothing
// in the pipeline consumes CommitMsg. The returned delta is
// always drained, even when no split closed (e.g. a trailing batch whose
// docs all failed to parse still advanced the source position, and that
// advance must still flow downstream as an empty-interval, splitless
// publish per the checkpoint invariant).
func (x *Indexer) FlushAll() ([]IndexedSplit, ids.CheckpointDelta, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []IndexedSplit
	for p := range x.partitions {
		closed, err := x.closeLocked(p)
		if err != nil {
			return out, nil, err
		}
		if closed != nil {
			out = append(out, *closed)
		}
	}
	return out, x.drainPending(), nil
}

// closeLocked finalizes and removes one partition's OpenSplit. Zero-document
// commits are suppressed (return nil, nil); the pending checkpoint delta is
// left untouched for the caller to drain separately.
func (x *Indexer) closeLocked(partition ids.PartitionID) (*IndexedSplit, error) {
	s, ok := x.partitions[partition]
	if !ok {
		return nil, nil
	}
	delete(x.partitions, partition)

	if err := s.segFile.Close(); err != nil {
		return nil, fmt.Errorf("indexer: close segment file: %w", err)
	}

	if s.numDocs == 0 {
		s.scratch.Close()
		return nil, nil
	}

	return &IndexedSplit{
		SplitID:           x.newSplitID(),
		IndexUID:          model.IndexUID(x.indexUID),
		SourceID:          x.sourceID,
		NodeID:            x.nodeID,
		PipelineOrd:       x.pipelineOrd,
		PartitionID:       partition,
		NumDocs:           s.numDocs,
		UncompressedBytes: s.uncompressedBytes,
		TimeRange:         s.timeRange,
		CreateTimestamp:   s.createTimestamp,
		Tags:              s.tags,
		ReplacedSplitIDs:  nil,
		ScratchDir:        s.scratch.Path(),
		SegmentFiles:      []string{filepath.Base(s.segPath)},
	}, nil
}

// Abort drops every open scratch dir without finalizing, per the abort
// design: on abort, all open scratch dirs are dropped, which removes them.
func (x *Indexer) Abort() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for p, s := range x.partitions {
		s.segFile.Close()
		s.scratch.Close()
		delete(x.partitions, p)
	}
}
