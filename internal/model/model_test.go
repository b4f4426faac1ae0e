package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
)

func TestTagSet_AddAndOverflow(t *testing.T) {
	ts := NewTagSet()
	for i := 0; i < MaxValuesPerTagField; i++ {
		ts.Add(time.Duration(i).String())
	}
	require.False(t, ts.Overflowed())
	assert.Len(t, ts.Values(), MaxValuesPerTagField)

	ts.Add("one-too-many")
	require.True(t, ts.Overflowed())
	assert.Equal(t, []string{TagSentinel}, ts.Values())

	// further adds remain no-ops
	ts.Add("still-more")
	assert.Equal(t, []string{TagSentinel}, ts.Values())
}

func TestTagSet_AddDuplicateIsNoop(t *testing.T) {
	ts := NewTagSet()
	ts.Add("x")
	ts.Add("x")
	assert.Equal(t, []string{"x"}, ts.Values())
}

func TestTagSet_Merge(t *testing.T) {
	a := NewTagSet()
	a.Add("x")
	b := NewTagSet()
	b.Add("y")
	a.Merge(b)
	assert.ElementsMatch(t, []string{"x", "y"}, a.Values())
}

func TestTagSet_MergeOverflowed(t *testing.T) {
	a := NewTagSet()
	a.Add("x")
	b := NewTagSet()
	for i := 0; i < MaxValuesPerTagField+1; i++ {
		b.Add(time.Duration(i).String())
	}
	require.True(t, b.Overflowed())

	a.Merge(b)
	assert.True(t, a.Overflowed())
	assert.Equal(t, []string{TagSentinel}, a.Values())
}

func TestTimeRange_Widen(t *testing.T) {
	var r TimeRange
	r.Widen(10)
	assert.Equal(t, TimeRange{Valid: true, Start: 10, End: 10}, r)
	r.Widen(5)
	r.Widen(20)
	assert.Equal(t, TimeRange{Valid: true, Start: 5, End: 20}, r)
}

func TestTimeRange_Union(t *testing.T) {
	a := TimeRange{Valid: true, Start: 1, End: 5}
	b := TimeRange{Valid: true, Start: 3, End: 10}
	assert.Equal(t, TimeRange{Valid: true, Start: 1, End: 10}, a.Union(b))

	var empty TimeRange
	assert.Equal(t, a, empty.Union(a))
	assert.Equal(t, a, a.Union(empty))
}

func TestSplitMetadata_Mature(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	byDocCount := SplitMetadata{NumDocs: 20_000_000, CreateTimestamp: now}
	assert.True(t, byDocCount.Mature(now, 10_000_000, 2*time.Hour))

	byAge := SplitMetadata{NumDocs: 1, CreateTimestamp: now.Add(-3 * time.Hour)}
	assert.True(t, byAge.Mature(now, 10_000_000, 2*time.Hour))

	fresh := SplitMetadata{NumDocs: 1, CreateTimestamp: now.Add(-time.Minute)}
	assert.False(t, fresh.Mature(now, 10_000_000, 2*time.Hour))
}

func TestIndexMetadata_CloneIsIndependent(t *testing.T) {
	m := IndexMetadata{
		IndexUID: "logs",
		Sources:  []SourceConfig{{SourceID: "s1"}},
		Checkpoints: map[string]ids.Checkpoint{
			"s1": {1: ids.Offset("a")},
		},
	}
	clone := m.Clone()
	clone.Sources[0].SourceID = "mutated"
	clone.Checkpoints["s1"][1] = ids.Offset("b")

	assert.Equal(t, "s1", m.Sources[0].SourceID)
	assert.True(t, m.Checkpoints["s1"][1].Equal(ids.Offset("a")))
}
