package indexing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
)

// Publisher is single-threaded per pipeline: it holds every partition's last
// published checkpoint position locally, reorders out-of-order batches (the
// indexer/uploader stages may complete concurrently in any order, but the
// metastore's compare-and-swap checkpoint demands strictly ordered deltas
// per partition), and issues one PublishSplits call per ready batch.
type Publisher struct {
	meta     metastore.Metastore
	indexUID model.IndexUID
	sourceID string
	abort    *pipeline.AbortSignal
	retryCfg pipeline.RetryConfig

	// pending holds batches not yet publishable because some earlier delta,
	// per partition, hasn't arrived yet.
	pending []UploadedSplitBatch
	// expected is this publisher's view of each partition's next expected
	// delta.From, i.e. the last published delta.To (or Beginning()).
	expected map[ids.PartitionID]ids.Position
}

// UploadedSplitBatch batches the uploaded splits produced by one commit
// trigger, or the single merged split produced by one merge op (in which
// case CheckpointDelta is empty and ReplacedSplitIDs names the inputs).
type UploadedSplitBatch struct {
	Splits          []UploadedSplit
	CheckpointDelta ids.CheckpointDelta
}

// NewPublisher constructs a Publisher for one (indexUID, sourceID) pipeline.
func NewPublisher(meta metastore.Metastore, indexUID model.IndexUID, sourceID string, abort *pipeline.AbortSignal) *Publisher {
	return &Publisher{
		meta:     meta,
		indexUID: indexUID,
		sourceID: sourceID,
		abort:    abort,
		retryCfg: pipeline.DefaultRetryConfig(),
		expected: make(map[ids.PartitionID]ids.Position),
	}
}

// Publish enqueues batch and publishes every now-ready batch (batch itself
// and any previously pending batches this unblocks), in partition-position
// order. A CheckpointMismatch is a fatal logical error: the caller should
// treat it as a non-restartable Failure, since it indicates either a bug or
// concurrent writers to the same index/source.
func (p *Publisher) Publish(ctx context.Context, batch UploadedSplitBatch) error {
	p.pending = append(p.pending, batch)

	for {
		i := p.readyIndex()
		if i < 0 {
			return nil
		}
		ready := p.pending[i]
		p.pending = append(p.pending[:i], p.pending[i+1:]...)

		if err := p.publishOne(ctx, ready); err != nil {
			return err
		}

		for partition, delta := range ready.CheckpointDelta {
			p.expected[partition] = delta.To
		}
	}
}

// readyIndex returns the index of the first pending batch whose checkpoint
// delta chains from every affected partition's expected position, or -1 if
// none are ready yet.
func (p *Publisher) readyIndex() int {
	for i, b := range p.pending {
		if p.isReady(b) {
			return i
		}
	}
	return -1
}

func (p *Publisher) isReady(b UploadedSplitBatch) bool {
	for partition, delta := range b.CheckpointDelta {
		expected, ok := p.expected[partition]
		if !ok {
			expected = ids.Beginning()
		}
		if !delta.From.Equal(expected) {
			return false
		}
	}
	return true
}

func (p *Publisher) publishOne(ctx context.Context, batch UploadedSplitBatch) error {
	publish := make([]ids.SplitID, 0, len(batch.Splits))
	replaceSet := map[ids.SplitID]struct{}{}
	for _, s := range batch.Splits {
		publish = append(publish, s.SplitID)
		for _, r := range s.ReplacedSplitIDs {
			replaceSet[r] = struct{}{}
		}
	}
	replace := make([]ids.SplitID, 0, len(replaceSet))
	for r := range replaceSet {
		replace = append(replace, r)
	}
	sort.Slice(replace, func(i, j int) bool { return replace[i] < replace[j] })

	_, err := pipeline.Retry(ctx, p.abort, p.retryCfg, func() (struct{}, error) {
		err := p.meta.PublishSplits(ctx, p.indexUID, p.sourceID, publish, replace, batch.CheckpointDelta)
		if metastore.IsLogical(err) {
			return struct{}{}, pipeline.Permanent(err)
		}
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("publisher: publish splits: %w", err)
	}
	return nil
}
