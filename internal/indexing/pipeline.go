package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shardwell/shardwell/internal/docmapper"
	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/source"
	"github.com/shardwell/shardwell/internal/storage"
	shardwelllog "github.com/shardwell/shardwell/internal/telemetry/log"
)

// PipelineConfig bundles one (index, source) pipeline's dependencies. A
// pipeline instance is single-threaded end to end, per the actor model: one
// goroutine drives the source while the indexer/packager/uploader/publisher
// stages run inline, matching the spec's single in-flight-batch-per-pipeline
// design (concurrency lives inside the uploader's bounded batcher, not
// across stages).
type PipelineConfig struct {
	IndexUID    model.IndexUID
	SourceID    string
	NodeID      string
	PipelineOrd int
	CommitPolicy
	UploaderConfig
	DocProcessorConfig
}

// Pipeline wires source -> doc processor -> indexer -> packager -> uploader
// -> publisher for one (index, source).
type Pipeline struct {
	cfg     PipelineConfig
	src     source.Source
	mapper  docmapper.DocMapper
	meta    metastore.Metastore
	store   storage.Storage
	log     shardwelllog.Logger

	beacon *pipeline.Beacon
	stats  *pipeline.IndexingStatistics
}

// NewPipeline constructs a Pipeline. stats may be nil.
func NewPipeline(cfg PipelineConfig, src source.Source, mapper docmapper.DocMapper, meta metastore.Metastore, store storage.Storage, log shardwelllog.Logger, stats *pipeline.IndexingStatistics) *Pipeline {
	if stats == nil {
		stats = &pipeline.IndexingStatistics{}
	}
	return &Pipeline{
		cfg:    cfg,
		src:    src,
		mapper: mapper,
		meta:   meta,
		store:  store,
		log:    log,
		beacon: pipeline.NewBeacon(),
		stats:  stats,
	}
}

// Beacon returns the pipeline's single progress beacon (the whole run is
// accounted under one beacon since it has no internal concurrency to track
// separately, unlike the uploader's per-split fan-out which is internal).
func (p *Pipeline) Beacon() *pipeline.Beacon { return p.beacon }

// Run drives the pipeline to completion or abort. Each split's scratch dir is
// created under scratchRoot with a unique name, so a restarted run sharing
// the same root never reuses a prior attempt's scratch dirs.
func (p *Pipeline) Run(ctx context.Context, abort *pipeline.AbortSignal, scratchRoot *ioctl.Root) pipeline.Result {
	docProcessor := NewDocProcessor(p.mapper, p.cfg.DocProcessorConfig)
	indexer := NewIndexer(scratchRoot, p.cfg.CommitPolicy, IndexerIdentity{
		IndexUID:    string(p.cfg.IndexUID),
		SourceID:    p.cfg.SourceID,
		NodeID:      p.cfg.NodeID,
		PipelineOrd: p.cfg.PipelineOrd,
	}, ids.NewSplitID)
	packager := NewPackager()
	uploader := NewUploader(p.cfg.UploaderConfig, p.meta, p.store, p.cfg.IndexUID, abort, p.beacon)
	defer uploader.Close()
	publisher := NewPublisher(p.meta, p.cfg.IndexUID, p.cfg.SourceID, abort)

	checkpoint, err := p.loadCheckpoint(ctx)
	if err != nil {
		return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("load checkpoint: %w", err)}
	}
	// Deltas resume from the stored checkpoint, so the publisher must expect
	// them there rather than at Beginning().
	for partition, pos := range checkpoint {
		publisher.expected[partition] = pos
	}

	type fetchResult struct {
		batch source.RawDocBatch
		err   error
	}
	fetchCh := make(chan fetchResult, 1)
	fetchNext := func() {
		go func() {
			b, err := p.src.NextBatch(ctx, checkpoint)
			fetchCh <- fetchResult{batch: b, err: err}
		}()
	}
	fetchNext()

	for {
		if abort.Aborted() {
			indexer.Abort()
			return pipeline.Result{Status: pipeline.Aborted, Err: abort.Reason()}
		}

		select {
		case <-ctx.Done():
			indexer.Abort()
			return pipeline.Result{Status: pipeline.Aborted, Err: ctx.Err()}

		case <-abort.Done():
			indexer.Abort()
			return pipeline.Result{Status: pipeline.Aborted, Err: abort.Reason()}

		case partition := <-indexer.TimerFlush():
			closed, delta, err := indexer.FlushPartition(partition)
			if err != nil {
				indexer.Abort()
				return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("timeout flush: %w", err)}
			}
			if closed != nil {
				if res := p.publishOne(ctx, abort, packager, uploader, publisher, *closed, delta); res.Status != pipeline.Success {
					return res
				}
			}

		case fr := <-fetchCh:
			if fr.err != nil {
				if errors.Is(fr.err, source.ErrEndOfSource) {
					splits, delta, err := indexer.FlushAll()
					if err != nil {
						indexer.Abort()
						return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("end-of-source flush: %w", err)}
					}
					if len(splits) > 0 {
						if res := p.publishBatch(ctx, abort, packager, uploader, publisher, IndexedSplitBatch{Splits: splits, CheckpointDelta: delta}); res.Status != pipeline.Success {
							return res
						}
					} else if len(delta) > 0 {
						if err := publisher.Publish(ctx, UploadedSplitBatch{CheckpointDelta: delta}); err != nil {
							return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("publish: %w", err)}
						}
					}
					return pipeline.Result{Status: pipeline.Success}
				}
				indexer.Abort()
				return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("read batch: %w", fr.err)}
			}

			batch := fr.batch
			checkpoint, err = checkpoint.Apply(batch.CheckpointDelta)
			if err != nil {
				indexer.Abort()
				return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("local checkpoint: %w", err)}
			}

			processed := docProcessor.Process(batch)
			p.stats.NumDocsProcessed.Add(int64(len(processed.Docs)))
			p.stats.NumParseErrors.Store(docProcessor.NumParseErrors.Load())

			indexed, err := indexer.Ingest(processed)
			if err != nil {
				indexer.Abort()
				return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("ingest: %w", err)}
			}
			p.beacon.Advance()

			if len(indexed.Splits) > 0 {
				if res := p.publishBatch(ctx, abort, packager, uploader, publisher, indexed); res.Status != pipeline.Success {
					return res
				}
			}
			// No splits closed this round: the indexer retains this batch's
			// checkpoint delta internally (Indexer.pending) and will attach
			// the full accumulated delta to whichever split flushes next.

			if err := p.src.Acknowledge(ctx, checkpoint); err != nil {
				p.log.Warning().Err(err).Log("source acknowledge failed")
			}

			fetchNext()
		}
	}
}

func (p *Pipeline) loadCheckpoint(ctx context.Context) (ids.Checkpoint, error) {
	meta, err := p.meta.IndexMetadata(ctx, p.cfg.IndexUID)
	if err != nil {
		return nil, err
	}
	if cp, ok := meta.Checkpoints[p.cfg.SourceID]; ok {
		return cp.Clone(), nil
	}
	return ids.Checkpoint{}, nil
}

// publishBatch packages and uploads every split in batch, then publishes
// them together under their shared checkpoint delta.
func (p *Pipeline) publishBatch(ctx context.Context, abort *pipeline.AbortSignal, packager *Packager, uploader *Uploader, publisher *Publisher, batch IndexedSplitBatch) pipeline.Result {
	packaged := make([]PackagedSplit, 0, len(batch.Splits))
	for _, s := range batch.Splits {
		pk, err := packager.Package(s)
		if err != nil {
			return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("package: %w", err)}
		}
		packaged = append(packaged, pk)
	}

	uploaded, err := uploader.Upload(ctx, batch, packaged)
	if err != nil {
		return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("upload: %w", err)}
	}
	p.stats.NumSplitsStaged.Add(int64(len(uploaded)))

	if err := publisher.Publish(ctx, UploadedSplitBatch{Splits: uploaded, CheckpointDelta: batch.CheckpointDelta}); err != nil {
		return pipeline.Result{Status: pipeline.Failure, Err: fmt.Errorf("publish: %w", err)}
	}
	p.stats.NumSplitsPublished.Add(int64(len(uploaded)))

	return pipeline.Result{Status: pipeline.Success}
}

// publishOne is publishBatch for a single split closed outside the main
// Ingest trigger path (a timer flush), carrying the checkpoint delta
// accumulated since the previous flush (nil only if the indexer had nothing
// pending, e.g. the split closed with no intervening unflushed batches).
func (p *Pipeline) publishOne(ctx context.Context, abort *pipeline.AbortSignal, packager *Packager, uploader *Uploader, publisher *Publisher, split IndexedSplit, delta ids.CheckpointDelta) pipeline.Result {
	return p.publishBatch(ctx, abort, packager, uploader, publisher, IndexedSplitBatch{
		Splits:          []IndexedSplit{split},
		CheckpointDelta: delta,
	})
}
