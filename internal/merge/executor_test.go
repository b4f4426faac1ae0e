package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/model"
)

func newTestScratch(t *testing.T) *ioctl.ScopedDir {
	t.Helper()
	root, err := ioctl.NewRoot(t.TempDir())
	require.NoError(t, err)
	scratch, err := root.New("merge-test")
	require.NoError(t, err)
	t.Cleanup(func() { scratch.Close() })
	return scratch
}

func writeBundleStub(t *testing.T, dir string, name string, segment string, trailer string) (string, int64) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(segment+trailer), 0o644))
	return path, int64(len(segment))
}

func TestExecutor_Execute_concatenatesSegmentBytesAndUnionsSummary(t *testing.T) {
	scratch := newTestScratch(t)

	pathA, segLenA := writeBundleStub(t, t.TempDir(), "a.split", "SEG-A", "FOOTER-A")
	pathB, segLenB := writeBundleStub(t, t.TempDir(), "b.split", "SEG-B", "FOOTER-B")

	tagsA := model.NewTagSet()
	tagsA.Add("tenant:x")
	tagsB := model.NewTagSet()
	tagsB.Add("tenant:y")

	inputs := []DownloadedSplit{
		{
			SplitMetadata: model.SplitMetadata{
				SplitID:                     "split-a",
				PartitionID:                 2,
				NumDocs:                     3,
				UncompressedDocsSizeInBytes: 30,
				TimeRange:                   model.TimeRange{Valid: true, Start: 10, End: 20},
				Tags:                        tagsA.Values(),
				FooterOffsets:               model.FooterOffsets{Start: segLenA},
				NumMergeOps:                 0,
			},
			BundlePath: pathA,
		},
		{
			SplitMetadata: model.SplitMetadata{
				SplitID:                     "split-b",
				PartitionID:                 2,
				NumDocs:                     5,
				UncompressedDocsSizeInBytes: 50,
				TimeRange:                   model.TimeRange{Valid: true, Start: 5, End: 15},
				Tags:                        tagsB.Values(),
				FooterOffsets:               model.FooterOffsets{Start: segLenB},
				NumMergeOps:                 2,
			},
			BundlePath: pathB,
		},
	}

	op := Op{PartitionID: 2, Inputs: []model.SplitMetadata{inputs[0].SplitMetadata, inputs[1].SplitMetadata}}

	exec := NewExecutor("idx", "src", "node-1", 0, func() ids.SplitID { return "merged-1" })
	merged, err := exec.Execute(scratch, op, inputs)
	require.NoError(t, err)

	assert.Equal(t, ids.SplitID("merged-1"), merged.SplitID)
	assert.Equal(t, ids.PartitionID(2), merged.PartitionID)
	assert.Equal(t, uint64(8), merged.NumDocs)
	assert.Equal(t, uint64(80), merged.UncompressedBytes)
	assert.Equal(t, model.TimeRange{Valid: true, Start: 5, End: 20}, merged.TimeRange)
	assert.ElementsMatch(t, []ids.SplitID{"split-a", "split-b"}, merged.ReplacedSplitIDs)
	assert.Equal(t, 3, merged.NumMergeOps) // max(0, 2) + 1
	assert.ElementsMatch(t, []string{"tenant:x", "tenant:y"}, merged.Tags.Values())

	segPath := filepath.Join(merged.ScratchDir, merged.SegmentFiles[0])
	content, err := os.ReadFile(segPath)
	require.NoError(t, err)
	assert.Equal(t, "SEG-ASEG-B", string(content))
}

func TestExecutor_Execute_partitionMismatchErrors(t *testing.T) {
	scratch := newTestScratch(t)
	path, segLen := writeBundleStub(t, t.TempDir(), "a.split", "SEG", "FOOTER")

	inputs := []DownloadedSplit{
		{
			SplitMetadata: model.SplitMetadata{SplitID: "split-a", PartitionID: 9, FooterOffsets: model.FooterOffsets{Start: segLen}},
			BundlePath:    path,
		},
	}
	op := Op{PartitionID: 1, Inputs: []model.SplitMetadata{inputs[0].SplitMetadata}}

	exec := NewExecutor("idx", "src", "node-1", 0, func() ids.SplitID { return "merged-1" })
	_, err := exec.Execute(scratch, op, inputs)
	assert.Error(t, err)
}
