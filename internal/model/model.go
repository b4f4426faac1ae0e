// Package model defines the data model shared by every stage of the
// indexing core: splits, their lifecycle state, index metadata, and the
// capped tag set used for tag-based pruning.
package model

import (
	"time"

	"github.com/shardwell/shardwell/internal/ids"
)

// SplitState is a split's position in its Staged -> Published ->
// MarkedForDeletion -> (gone) lifecycle.
type SplitState int

const (
	SplitStateStaged SplitState = iota
	SplitStatePublished
	SplitStateMarkedForDeletion
)

func (s SplitState) String() string {
	switch s {
	case SplitStateStaged:
		return "Staged"
	case SplitStatePublished:
		return "Published"
	case SplitStateMarkedForDeletion:
		return "MarkedForDeletion"
	default:
		return "Unknown"
	}
}

// MaxValuesPerTagField caps the number of distinct tag values tracked per
// split before the sentinel takes over and disables tag-based pruning.
const MaxValuesPerTagField = 100

// TagSentinel marks a tag set that overflowed its cap.
const TagSentinel = "__shardwell_tag_overflow__"

// TagSet is a small, capped set of tag field values. Once it overflows, every
// further insertion is a no-op and Overflowed reports true.
type TagSet struct {
	values     map[string]struct{}
	overflowed bool
}

// NewTagSet returns an empty TagSet.
func NewTagSet() *TagSet {
	return &TagSet{values: make(map[string]struct{})}
}

// Add inserts v, flipping to the overflow sentinel state once the set would
// exceed MaxValuesPerTagField distinct values.
func (t *TagSet) Add(v string) {
	if t.overflowed {
		return
	}
	if _, ok := t.values[v]; ok {
		return
	}
	if len(t.values) >= MaxValuesPerTagField {
		t.overflowed = true
		t.values = nil
		return
	}
	t.values[v] = struct{}{}
}

// Merge folds other into t, honoring the cap; an overflowed other makes t
// overflowed too. The merge executor does not call it.
func (t *TagSet) Merge(other *TagSet) {
	if other == nil {
		return
	}
	if other.overflowed {
		t.overflowed = true
		t.values = nil
		return
	}
	for v := range other.values {
		t.Add(v)
	}
}

// Values returns the sentinel-capped slice: {TagSentinel} if overflowed,
// otherwise the distinct values observed.
func (t *TagSet) Values() []string {
	if t.overflowed {
		return []string{TagSentinel}
	}
	out := make([]string, 0, len(t.values))
	for v := range t.values {
		out = append(out, v)
	}
	return out
}

// Overflowed reports whether the cap was exceeded.
func (t *TagSet) Overflowed() bool { return t.overflowed }

// TimeRange is an inclusive, optional [Start, End] range over the configured
// timestamp field. A document outside the configured accepted range is still
// parsed, but never widens the range beyond its own observed value.
type TimeRange struct {
	Valid bool
	Start int64
	End   int64
}

// Widen grows the range to include t, or initializes it if not yet Valid.
func (r *TimeRange) Widen(t int64) {
	if !r.Valid {
		r.Valid = true
		r.Start, r.End = t, t
		return
	}
	if t < r.Start {
		r.Start = t
	}
	if t > r.End {
		r.End = t
	}
}

// Union returns the range covering both r and other.
func (r TimeRange) Union(other TimeRange) TimeRange {
	switch {
	case !r.Valid:
		return other
	case !other.Valid:
		return r
	default:
		out := r
		out.Widen(other.Start)
		out.Widen(other.End)
		return out
	}
}

// FooterOffsets is the byte range of a bundle's trailing footer, letting a
// remote reader fetch exactly that range to locate everything else.
type FooterOffsets struct {
	Start int64
	End   int64
}

// SplitMetadata is the metastore's record for one split.
type SplitMetadata struct {
	SplitID       ids.SplitID
	IndexUID      string
	SourceID      string
	NodeID        string
	PipelineOrd   int
	PartitionID   ids.PartitionID
	State         SplitState
	NumDocs       uint64
	UncompressedDocsSizeInBytes uint64
	TimeRange     TimeRange
	CreateTimestamp time.Time
	Tags          []string
	FooterOffsets FooterOffsets
	DeleteOpstamp uint64
	NumMergeOps   int
	ReplacedSplitIDs []ids.SplitID
	SizeInBytes   uint64
}

// Mature reports whether the split is no longer eligible to participate in
// further merges, per the default policy: num_docs >= target, or age >=
// maturation period.
func (m SplitMetadata) Mature(now time.Time, splitNumDocsTarget uint64, maturationPeriod time.Duration) bool {
	if m.NumDocs >= splitNumDocsTarget {
		return true
	}
	return now.Sub(m.CreateTimestamp) >= maturationPeriod
}

// IndexUID is a stable identifier plus creation generation, e.g.
// "logs:01JABC...".
type IndexUID string

// SourceConfig is the subset of a source's configuration the core needs:
// enough to identify it and to know its checkpoint key space.
type SourceConfig struct {
	SourceID string
}

// IndexMetadata is the metastore's top-level record for one index.
type IndexMetadata struct {
	IndexUID   IndexUID
	IndexURI   string
	Sources    []SourceConfig
	// Checkpoints is keyed by SourceID, each value the per-partition
	// checkpoint for that source.
	Checkpoints map[string]ids.Checkpoint
}

// Clone returns a deep-enough copy for safe concurrent mutation by callers
// (metastore adapters hand out copies rather than shared pointers).
func (m IndexMetadata) Clone() IndexMetadata {
	out := m
	out.Sources = append([]SourceConfig(nil), m.Sources...)
	out.Checkpoints = make(map[string]ids.Checkpoint, len(m.Checkpoints))
	for k, v := range m.Checkpoints {
		out.Checkpoints[k] = v.Clone()
	}
	return out
}
