package indexing

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-microbatch"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/storage"
)

// UploaderConfig bounds the concurrency and multipart threshold of outgoing
// bundle puts.
type UploaderConfig struct {
	MaxConcurrentUploads int
	MultipartThreshold    int64
}

// DefaultUploaderConfig matches the configuration surface's stated default.
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{MaxConcurrentUploads: 8, MultipartThreshold: 128 << 20}
}

// uploadJob is one split's upload; result/err are set by the BatchProcessor
// and read back via JobResult.Wait, per microbatch's by-reference-on-Job
// result convention.
type uploadJob struct {
	split  PackagedSplit
	result UploadedSplit
	err    error
}

// Uploader stages each PackagedSplit in the metastore then puts its bundle
// to object storage, up to MaxConcurrentUploads in parallel.
type Uploader struct {
	cfg       UploaderConfig
	meta      metastore.Metastore
	store     storage.Storage
	indexUID  model.IndexUID
	abort     *pipeline.AbortSignal
	beacon    *pipeline.Beacon
	retryCfg  pipeline.RetryConfig
	batcher   *microbatch.Batcher[*uploadJob]
}

// NewUploader constructs an Uploader and starts its internal batcher.
// Close must be called when the pipeline stage exits.
func NewUploader(cfg UploaderConfig, meta metastore.Metastore, store storage.Storage, indexUID model.IndexUID, abort *pipeline.AbortSignal, beacon *pipeline.Beacon) *Uploader {
	u := &Uploader{
		cfg:      cfg,
		meta:     meta,
		store:    store,
		indexUID: indexUID,
		abort:    abort,
		beacon:   beacon,
		retryCfg: pipeline.DefaultRetryConfig(),
	}
	u.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        1, // one upload per job; batching here exists for the concurrency cap, not grouping
		FlushInterval:  time.Millisecond,
		MaxConcurrency: cfg.MaxConcurrentUploads,
	}, u.process)
	return u
}

// Close stops the internal batcher, waiting for in-flight uploads to finish.
func (u *Uploader) Close() error { return u.batcher.Close() }

// Upload stages and uploads every split in batch concurrently, bounded by
// MaxConcurrentUploads, returning once all have completed or one fails.
func (u *Uploader) Upload(ctx context.Context, batch IndexedSplitBatch, packaged []PackagedSplit) ([]UploadedSplit, error) {
	jobs := make([]*uploadJob, len(packaged))
	results := make([]*microbatch.JobResult[*uploadJob], len(packaged))
	for i, p := range packaged {
		jobs[i] = &uploadJob{split: p}
		r, err := u.batcher.Submit(ctx, jobs[i])
		if err != nil {
			return nil, fmt.Errorf("uploader: submit: %w", err)
		}
		results[i] = r
	}

	out := make([]UploadedSplit, 0, len(jobs))
	for i, r := range results {
		if err := r.Wait(ctx); err != nil {
			return out, fmt.Errorf("uploader: upload %s: %w", jobs[i].split.SplitID, err)
		}
		if jobs[i].err != nil {
			return out, jobs[i].err
		}
		uploaded := jobs[i].result
		uploaded.CheckpointDelta = batch.CheckpointDelta
		out = append(out, uploaded)
	}
	return out, nil
}

// process is the BatchProcessor driving one job (MaxSize=1, so always
// exactly one job per call); concurrency comes from MaxConcurrency.
func (u *Uploader) process(ctx context.Context, jobs []*uploadJob) error {
	for _, job := range jobs {
		job.result, job.err = u.uploadOne(ctx, job.split)
	}
	return nil
}

func (u *Uploader) uploadOne(ctx context.Context, split PackagedSplit) (UploadedSplit, error) {
	staged := model.SplitMetadata{
		SplitID:                     split.SplitID,
		IndexUID:                    string(split.IndexUID),
		SourceID:                    split.SourceID,
		NodeID:                      split.NodeID,
		PipelineOrd:                 split.PipelineOrd,
		PartitionID:                 split.PartitionID,
		State:                       model.SplitStateStaged,
		NumDocs:                     split.NumDocs,
		UncompressedDocsSizeInBytes: split.UncompressedBytes,
		TimeRange:                   split.TimeRange,
		CreateTimestamp:             split.CreateTimestamp,
		Tags:                        split.Tags.Values(),
		FooterOffsets:               split.FooterOffsets,
		DeleteOpstamp:               split.DeleteOpstamp,
		NumMergeOps:                 split.NumMergeOps,
		ReplacedSplitIDs:            split.ReplacedSplitIDs,
		SizeInBytes:                 split.SizeInBytes,
	}

	if _, err := pipeline.Retry(ctx, u.abort, u.retryCfg, func() (struct{}, error) {
		return struct{}{}, u.meta.StageSplit(ctx, u.indexUID, staged)
	}); err != nil {
		return UploadedSplit{}, fmt.Errorf("stage split: %w", err)
	}

	objectName := split.SplitID.ObjectName()

	_, err := pipeline.Retry(ctx, u.abort, u.retryCfg, func() (struct{}, error) {
		f, err := os.Open(split.BundlePath)
		if err != nil {
			return struct{}{}, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return struct{}{}, err
		}

		if info.Size() >= u.cfg.MultipartThreshold {
			return struct{}{}, u.store.PutStream(ctx, objectName, &controlledReader{abort: u.abort, beacon: u.beacon, r: f}, info.Size())
		}

		b := make([]byte, info.Size())
		if _, err := io.ReadFull(f, b); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, u.store.Put(ctx, objectName, b)
	})
	if err != nil {
		// Mark the staged split for deletion; the caller's pipeline treats
		// this as a Failure requiring the surrounding split to be dropped.
		_ = u.meta.MarkSplitsForDeletion(ctx, u.indexUID, []ids.SplitID{split.SplitID})
		return UploadedSplit{}, fmt.Errorf("put bundle: %w", err)
	}

	return UploadedSplit{PackagedSplit: split}, nil
}

// controlledReader wraps a file for multipart upload so the transfer stays
// abort-aware and pumps the stage's progress beacon the same as every other
// I/O path, per the shared suspension-point design.
type controlledReader struct {
	abort  *pipeline.AbortSignal
	beacon *pipeline.Beacon
	r      io.Reader
}

func (c *controlledReader) Read(p []byte) (int, error) {
	if c.abort.Aborted() {
		return 0, pipeline.ErrAborted
	}
	n, err := c.r.Read(p)
	if n > 0 && c.beacon != nil {
		c.beacon.Advance()
	}
	return n, err
}
