// Package merge implements the merge pipeline: a planner that selects
// groups of mature, same-partition published splits, a downloader that pulls
// their bundles into scratch, an executor that combines them into one
// replacement split, and reuse of the indexing packager/uploader/publisher
// stages to land the result.
package merge

import (
	"context"
	"sort"
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
)

// Policy bounds merge-candidate selection. Pluggable: the default here is
// "stable multi-tenant with timestamp awareness" — group by partition,
// order oldest-first, slide a window bounded by MergeFactor/MaxMergeFactor,
// skip splits already mature enough to stop merging.
type Policy struct {
	MergeFactor        int
	MaxMergeFactor      int
	SplitNumDocsTarget  uint64
	MaturationPeriod    time.Duration
	MaxConcurrentMerges int
}

// DefaultPolicy matches the configuration surface's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MergeFactor:         10,
		MaxMergeFactor:      12,
		SplitNumDocsTarget:  10_000_000,
		MaturationPeriod:    2 * time.Hour,
		MaxConcurrentMerges: 2,
	}
}

// Op is one planned merge: a same-partition group of input splits to
// combine into a single replacement.
type Op struct {
	PartitionID ids.PartitionID
	Inputs      []model.SplitMetadata
}

// Planner tracks in-flight merge inputs across planning rounds so the same
// split is never selected into two concurrent merges (a reference-counted
// "tracked object" set). It groups candidates by partition so every op is
// single-partition; the executor checks the same invariant again.
type Planner struct {
	meta     metastore.Metastore
	indexUID model.IndexUID
	sourceID string
	policy   Policy

	inFlight map[ids.SplitID]struct{}
}

// NewPlanner constructs a Planner for one (index, source).
func NewPlanner(meta metastore.Metastore, indexUID model.IndexUID, sourceID string, policy Policy) *Planner {
	return &Planner{
		meta:     meta,
		indexUID: indexUID,
		sourceID: sourceID,
		policy:   policy,
		inFlight: make(map[ids.SplitID]struct{}),
	}
}

// Plan lists Published splits for the pipeline's source, groups by
// partition, and returns merge ops respecting MaxConcurrentMerges and the
// in-flight tracking set. Splits returned by a prior Plan call and not yet
// released via Release are never reselected.
func (p *Planner) Plan(ctx context.Context, maxOps int) ([]Op, error) {
	published := model.SplitStatePublished
	splits, err := p.meta.ListSplits(ctx, p.indexUID, metastore.SplitFilter{
		State:    &published,
		SourceID: p.sourceID,
	})
	if err != nil {
		return nil, err
	}

	byPartition := map[ids.PartitionID][]model.SplitMetadata{}
	for _, s := range splits {
		if _, tracked := p.inFlight[s.SplitID]; tracked {
			continue
		}
		byPartition[s.PartitionID] = append(byPartition[s.PartitionID], s)
	}

	var ops []Op
	now := time.Now()

	partitions := make([]ids.PartitionID, 0, len(byPartition))
	for part := range byPartition {
		partitions = append(partitions, part)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, part := range partitions {
		group := byPartition[part]
		sort.Slice(group, func(i, j int) bool {
			if group[i].TimeRange.Start != group[j].TimeRange.Start {
				return group[i].TimeRange.Start < group[j].TimeRange.Start
			}
			return group[i].CreateTimestamp.Before(group[j].CreateTimestamp)
		})

		// Drop splits already mature enough that merging them further isn't
		// worthwhile, per the default policy's maturity predicate.
		var eligible []model.SplitMetadata
		for _, s := range group {
			if !s.Mature(now, p.policy.SplitNumDocsTarget, p.policy.MaturationPeriod) {
				eligible = append(eligible, s)
			}
		}

		for len(eligible) >= p.policy.MergeFactor {
			window := p.policy.MergeFactor
			var docs uint64
			for _, s := range eligible[:window] {
				docs += s.NumDocs
			}
			// Grow past the minimum cardinality up to MaxMergeFactor, but
			// stop before the combined doc count would exceed the merge
			// target; the minimum merge_factor window is always taken
			// regardless of doc count.
			for window < p.policy.MaxMergeFactor && window < len(eligible) {
				next := eligible[window].NumDocs
				if docs+next > p.policy.SplitNumDocsTarget {
					break
				}
				docs += next
				window++
			}

			inputs := eligible[:window]
			eligible = eligible[window:]

			op := Op{PartitionID: part, Inputs: append([]model.SplitMetadata(nil), inputs...)}
			ops = append(ops, op)
			for _, s := range inputs {
				p.inFlight[s.SplitID] = struct{}{}
			}

			if len(ops) >= maxOps {
				return ops, nil
			}
		}
	}

	return ops, nil
}

// Release untracks op's inputs, called once the merge completes (whether it
// succeeded or failed) so they become eligible for replanning.
func (p *Planner) Release(op Op) {
	for _, s := range op.Inputs {
		delete(p.inFlight, s.SplitID)
	}
}
