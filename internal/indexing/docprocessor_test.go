package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/docmapper"
	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/source"
)

func TestDocProcessor_dropsMalformedDocs(t *testing.T) {
	mapper := docmapper.NewDefault(docmapper.Schema{TimestampField: "ts", TagFields: []string{"level"}})
	dp := NewDocProcessor(mapper, DocProcessorConfig{})

	batch := source.RawDocBatch{
		Docs: [][]byte{
			[]byte(`{"ts":1,"level":"info"}`),
			[]byte(`not json`),
			[]byte(`{"ts":2,"level":"error"}`),
		},
		CheckpointDelta: ids.CheckpointDelta{0: {From: ids.Beginning(), To: ids.Offset("3")}},
	}

	out := dp.Process(batch)
	require.Len(t, out.Docs, 2)
	assert.Equal(t, int64(1), dp.NumParseErrors.Load())
	assert.Equal(t, batch.CheckpointDelta, out.CheckpointDelta)
}

func TestDocProcessor_preservesForceCommit(t *testing.T) {
	mapper := docmapper.NewDefault(docmapper.Schema{})
	dp := NewDocProcessor(mapper, DocProcessorConfig{})

	out := dp.Process(source.RawDocBatch{ForceCommit: true})
	assert.True(t, out.ForceCommit)
}

func TestDocProcessor_attachesPartitionTimestampTags(t *testing.T) {
	mapper := docmapper.NewDefault(docmapper.Schema{
		TimestampField:  "ts",
		PartitionFields: []string{"tenant"},
		TagFields:       []string{"level"},
	})
	dp := NewDocProcessor(mapper, DocProcessorConfig{})

	out := dp.Process(source.RawDocBatch{
		Docs: [][]byte{[]byte(`{"tenant":"a","ts":100,"level":"warn"}`)},
	})
	require.Len(t, out.Docs, 1)
	doc := out.Docs[0]
	assert.True(t, doc.HasTimestamp)
	assert.Equal(t, int64(100), doc.Timestamp)
	assert.Equal(t, []string{"level:warn"}, doc.Tags)
}

func TestDocProcessor_partitionCollapseCapAppliesCeiling(t *testing.T) {
	mapper := docmapper.NewDefault(docmapper.Schema{PartitionFields: []string{"tenant"}})
	uncapped := NewDocProcessor(mapper, DocProcessorConfig{})
	capped := NewDocProcessor(mapper, DocProcessorConfig{MaxNumPartitions: 1})

	doc := source.RawDocBatch{Docs: [][]byte{[]byte(`{"tenant":"a"}`)}}

	uncappedOut := uncapped.Process(doc)
	cappedOut := capped.Process(doc)
	require.Len(t, uncappedOut.Docs, 1)
	require.Len(t, cappedOut.Docs, 1)

	// the raw hash is process-specific; what matters is that capping to a
	// single partition collapses anything nonzero onto the overflow sentinel.
	if uncappedOut.Docs[0].PartitionID != 0 {
		assert.Equal(t, ids.PartitionOverflow, cappedOut.Docs[0].PartitionID)
	}
}
