package merge

import (
	"context"
	"fmt"

	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/storage"
)

// DownloadedSplit is one merge input once its bundle is resident in local
// scratch, ready for the executor to read.
type DownloadedSplit struct {
	model.SplitMetadata
	BundlePath string
}

// Downloader pulls merge-input bundles into a scratch dir with
// Storage.CopyToFile inside pipeline.Retry, advancing the beacon once per
// attempt. It does not go through ioctl.Controller: abort is observed
// between attempts, not during a single copy.
type Downloader struct {
	store    storage.Storage
	abort    *pipeline.AbortSignal
	beacon   *pipeline.Beacon
	retryCfg pipeline.RetryConfig
}

// NewDownloader constructs a Downloader.
func NewDownloader(store storage.Storage, abort *pipeline.AbortSignal, beacon *pipeline.Beacon) *Downloader {
	return &Downloader{store: store, abort: abort, beacon: beacon, retryCfg: pipeline.DefaultRetryConfig()}
}

// Download fetches every input split in op into a fresh scratch dir under
// root, returning the caller-owned ScopedDir (removed via its Close) plus
// each input's local bundle path.
func (d *Downloader) Download(ctx context.Context, root *ioctl.Root, op Op) (*ioctl.ScopedDir, []DownloadedSplit, error) {
	scratch, err := root.New(fmt.Sprintf("merge-partition-%d", op.PartitionID))
	if err != nil {
		return nil, nil, err
	}

	out := make([]DownloadedSplit, 0, len(op.Inputs))
	for _, input := range op.Inputs {
		destPath := scratch.Join(string(input.SplitID) + ".split")
		objectName := input.SplitID.ObjectName()

		_, err := pipeline.Retry(ctx, d.abort, d.retryCfg, func() (struct{}, error) {
			d.beacon.Advance()
			return struct{}{}, d.store.CopyToFile(ctx, objectName, destPath)
		})
		if err != nil {
			scratch.Close()
			return nil, nil, fmt.Errorf("download split %s: %w", input.SplitID, err)
		}

		out = append(out, DownloadedSplit{SplitMetadata: input, BundlePath: destPath})
	}

	return scratch, out, nil
}
