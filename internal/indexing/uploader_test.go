package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/storage"
)

func newPackagedSplit(t *testing.T, content []byte) PackagedSplit {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.split")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return PackagedSplit{
		IndexedSplit: IndexedSplit{
			SplitID:     ids.NewSplitID(),
			IndexUID:    "idx",
			SourceID:    "src",
			PartitionID: 1,
			NumDocs:     1,
			Tags:        model.NewTagSet(),
		},
		BundlePath:  path,
		SizeInBytes: uint64(len(content)),
	}
}

func TestUploader_Upload_stagesAndPuts(t *testing.T) {
	meta := metastore.NewMemory()
	meta.CreateIndex(model.IndexMetadata{IndexUID: "idx"})
	store := storage.NewRAM("ram://test")
	ctrl := pipeline.NewAbortController()

	u := NewUploader(DefaultUploaderConfig(), meta, store, "idx", ctrl.Signal(), pipeline.NewBeacon())
	defer u.Close()

	split := newPackagedSplit(t, []byte("bundle-bytes"))
	delta := ids.CheckpointDelta{0: {From: ids.Beginning(), To: ids.Offset("1")}}

	uploaded, err := u.Upload(context.Background(), IndexedSplitBatch{CheckpointDelta: delta}, []PackagedSplit{split})
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.Equal(t, delta, uploaded[0].CheckpointDelta)

	splits, err := meta.ListSplits(context.Background(), "idx", metastore.SplitFilter{})
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, model.SplitStateStaged, splits[0].State)

	got, err := store.GetAll(context.Background(), split.SplitID.ObjectName())
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle-bytes"), got)
}

func TestUploader_Upload_multipartPathAboveThreshold(t *testing.T) {
	meta := metastore.NewMemory()
	meta.CreateIndex(model.IndexMetadata{IndexUID: "idx"})
	store := storage.NewRAM("ram://test")
	ctrl := pipeline.NewAbortController()

	cfg := DefaultUploaderConfig()
	cfg.MultipartThreshold = 4
	u := NewUploader(cfg, meta, store, "idx", ctrl.Signal(), pipeline.NewBeacon())
	defer u.Close()

	split := newPackagedSplit(t, []byte("this-is-longer-than-4-bytes"))
	uploaded, err := u.Upload(context.Background(), IndexedSplitBatch{}, []PackagedSplit{split})
	require.NoError(t, err)
	require.Len(t, uploaded, 1)

	got, err := store.GetAll(context.Background(), split.SplitID.ObjectName())
	require.NoError(t, err)
	assert.Equal(t, []byte("this-is-longer-than-4-bytes"), got)
}

func TestUploader_Upload_missingBundleFileMarksForDeletion(t *testing.T) {
	meta := metastore.NewMemory()
	meta.CreateIndex(model.IndexMetadata{IndexUID: "idx"})
	store := storage.NewRAM("ram://test")
	ctrl := pipeline.NewAbortController()

	u := NewUploader(UploaderConfig{MaxConcurrentUploads: 1, MultipartThreshold: 1 << 30}, meta, store, "idx", ctrl.Signal(), pipeline.NewBeacon())
	defer u.Close()
	u.retryCfg = pipeline.RetryConfig{MaxAttempts: 1}

	split := PackagedSplit{
		IndexedSplit: IndexedSplit{SplitID: ids.NewSplitID(), IndexUID: "idx", Tags: model.NewTagSet()},
		BundlePath:   filepath.Join(t.TempDir(), "does-not-exist"),
	}

	_, err := u.Upload(context.Background(), IndexedSplitBatch{}, []PackagedSplit{split})
	require.Error(t, err)

	splits, err := meta.ListSplits(context.Background(), "idx", metastore.SplitFilter{})
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, model.SplitStateMarkedForDeletion, splits[0].State)
}
