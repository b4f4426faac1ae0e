package merge

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/storage"
)

func TestDownloader_Download_fetchesEveryInputIntoScratch(t *testing.T) {
	store := storage.NewRAM("ram://test")
	splitA := ids.SplitID("split-a")
	splitB := ids.SplitID("split-b")
	require.NoError(t, store.Put(context.Background(), splitA.ObjectName(), []byte("payload-a")))
	require.NoError(t, store.Put(context.Background(), splitB.ObjectName(), []byte("payload-b")))

	ctrl := pipeline.NewAbortController()
	d := NewDownloader(store, ctrl.Signal(), pipeline.NewBeacon())

	root, err := ioctl.NewRoot(t.TempDir())
	require.NoError(t, err)

	op := Op{
		PartitionID: 4,
		Inputs: []model.SplitMetadata{
			{SplitID: splitA, PartitionID: 4},
			{SplitID: splitB, PartitionID: 4},
		},
	}

	scratch, downloaded, err := d.Download(context.Background(), root, op)
	require.NoError(t, err)
	defer scratch.Close()

	require.Len(t, downloaded, 2)
	b, err := os.ReadFile(downloaded[0].BundlePath)
	require.NoError(t, err)
	assert.Equal(t, "payload-a", string(b))
	b, err = os.ReadFile(downloaded[1].BundlePath)
	require.NoError(t, err)
	assert.Equal(t, "payload-b", string(b))
}

func TestDownloader_Download_missingObjectClosesScratchAndErrors(t *testing.T) {
	store := storage.NewRAM("ram://test")
	ctrl := pipeline.NewAbortController()
	d := NewDownloader(store, ctrl.Signal(), pipeline.NewBeacon())
	d.retryCfg = pipeline.RetryConfig{MaxAttempts: 1}

	base := t.TempDir()
	root, err := ioctl.NewRoot(base)
	require.NoError(t, err)

	op := Op{PartitionID: 1, Inputs: []model.SplitMetadata{{SplitID: "missing", PartitionID: 1}}}

	_, _, err = d.Download(context.Background(), root, op)
	assert.Error(t, err)

	entries, rerr := os.ReadDir(base)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "the scratch dir must be removed on failure")
}
