package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.ndjson")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFile_NextBatch_respectsBatchSize(t *testing.T) {
	path := writeLines(t, `{"a":1}`, `{"a":2}`, `{"a":3}`)
	s, err := NewFile(path, 2)
	require.NoError(t, err)
	defer s.Close()

	batch, err := s.NextBatch(context.Background(), ids.Checkpoint{})
	require.NoError(t, err)
	assert.Len(t, batch.Docs, 2)
	assert.Equal(t, []byte(`{"a":1}`), batch.Docs[0])

	batch2, err := s.NextBatch(context.Background(), ids.Checkpoint{ids.PartitionUnpartitioned: batch.CheckpointDelta[ids.PartitionUnpartitioned].To})
	require.NoError(t, err)
	assert.Len(t, batch2.Docs, 1)
}

func TestFile_NextBatch_checkpointChains(t *testing.T) {
	path := writeLines(t, `{"a":1}`, `{"a":2}`)
	s, err := NewFile(path, 1)
	require.NoError(t, err)
	defer s.Close()

	cp := ids.Checkpoint{}
	b1, err := s.NextBatch(context.Background(), cp)
	require.NoError(t, err)
	d1 := b1.CheckpointDelta[ids.PartitionUnpartitioned]
	assert.True(t, d1.From.Equal(ids.Beginning()))

	cp = ids.Checkpoint{ids.PartitionUnpartitioned: d1.To}
	b2, err := s.NextBatch(context.Background(), cp)
	require.NoError(t, err)
	d2 := b2.CheckpointDelta[ids.PartitionUnpartitioned]
	assert.True(t, d2.From.Equal(d1.To))
}

func TestFile_NextBatch_endOfSource(t *testing.T) {
	path := writeLines(t, `{"a":1}`)
	s, err := NewFile(path, 10)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NextBatch(context.Background(), ids.Checkpoint{})
	require.NoError(t, err)

	_, err = s.NextBatch(context.Background(), ids.Checkpoint{})
	assert.ErrorIs(t, err, ErrEndOfSource)
}

func TestFile_NextBatch_blankLinesSkipped(t *testing.T) {
	path := writeLines(t, `{"a":1}`, ``, `{"a":2}`)
	s, err := NewFile(path, 10)
	require.NoError(t, err)
	defer s.Close()

	batch, err := s.NextBatch(context.Background(), ids.Checkpoint{})
	require.NoError(t, err)
	assert.Len(t, batch.Docs, 2)
}
