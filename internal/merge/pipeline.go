package merge

import (
	"context"
	"fmt"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/indexing"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/storage"
)

// PipelineConfig bundles one (index, source) merge pipeline's dependencies.
type PipelineConfig struct {
	IndexUID    model.IndexUID
	SourceID    string
	NodeID      string
	PipelineOrd int
	Policy
	indexing.UploaderConfig
}

// Pipeline drives the merge planner in a loop: plan a batch of ops, execute
// each (download, combine, package, upload, publish), release its inputs
// from the planner's in-flight set, repeat. Ops within a round run one after
// another; Policy.MaxConcurrentMerges caps how many ops a round plans.
type Pipeline struct {
	cfg     PipelineConfig
	meta    metastore.Metastore
	store   storage.Storage
	planner *Planner
	beacon  *pipeline.Beacon
	stats   *pipeline.IndexingStatistics
}

// NewPipeline constructs a merge Pipeline. stats may be nil.
func NewPipeline(cfg PipelineConfig, meta metastore.Metastore, store storage.Storage, stats *pipeline.IndexingStatistics) *Pipeline {
	if stats == nil {
		stats = &pipeline.IndexingStatistics{}
	}
	return &Pipeline{
		cfg:     cfg,
		meta:    meta,
		store:   store,
		planner: NewPlanner(meta, cfg.IndexUID, cfg.SourceID, cfg.Policy),
		beacon:  pipeline.NewBeacon(),
		stats:   stats,
	}
}

// Beacon returns the pipeline's progress beacon.
func (p *Pipeline) Beacon() *pipeline.Beacon { return p.beacon }

// RunOnce plans and executes at most one round of merge ops (bounded by
// MaxConcurrentMerges), returning the number of ops executed. The caller
// loops this on its own schedule (e.g. a ticker) since, unlike the indexing
// pipeline, there is no source to block on — merge work is opportunistic.
func (p *Pipeline) RunOnce(ctx context.Context, abort *pipeline.AbortSignal, scratchRoot *ioctl.Root) (int, error) {
	ops, err := p.planner.Plan(ctx, p.cfg.MaxConcurrentMerges)
	if err != nil {
		return 0, fmt.Errorf("plan: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	downloader := NewDownloader(p.store, abort, p.beacon)
	executor := NewExecutor(string(p.cfg.IndexUID), p.cfg.SourceID, p.cfg.NodeID, p.cfg.PipelineOrd, ids.NewSplitID)
	packager := indexing.NewPackager()
	uploader := indexing.NewUploader(p.cfg.UploaderConfig, p.meta, p.store, p.cfg.IndexUID, abort, p.beacon)
	defer uploader.Close()
	publisher := indexing.NewPublisher(p.meta, p.cfg.IndexUID, p.cfg.SourceID, abort)

	executed := 0
	for _, op := range ops {
		if abort.Aborted() {
			p.planner.Release(op)
			return executed, pipeline.ErrAborted
		}

		if err := p.executeOne(ctx, abort, scratchRoot, downloader, executor, packager, uploader, publisher, op); err != nil {
			p.planner.Release(op)
			return executed, fmt.Errorf("merge op (partition %d): %w", op.PartitionID, err)
		}
		p.planner.Release(op)
		p.stats.NumMergeOps.Add(1)
		executed++
	}

	return executed, nil
}

func (p *Pipeline) executeOne(ctx context.Context, abort *pipeline.AbortSignal, scratchRoot *ioctl.Root, downloader *Downloader, executor *Executor, packager *indexing.Packager, uploader *indexing.Uploader, publisher *indexing.Publisher, op Op) error {
	scratch, inputs, err := downloader.Download(ctx, scratchRoot, op)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer scratch.Close()

	merged, err := executor.Execute(scratch, op, inputs)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	packaged, err := packager.Package(merged)
	if err != nil {
		return fmt.Errorf("package: %w", err)
	}

	uploaded, err := uploader.Upload(ctx, indexing.IndexedSplitBatch{Splits: []indexing.IndexedSplit{merged}}, []indexing.PackagedSplit{packaged})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	// A merge's publish carries no checkpoint delta: replaced_split_ids is
	// the merged inputs, and the source checkpoint is untouched.
	if err := publisher.Publish(ctx, indexing.UploadedSplitBatch{Splits: uploaded}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}
