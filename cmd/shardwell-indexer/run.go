package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardwell/shardwell/internal/config"
	"github.com/shardwell/shardwell/internal/docmapper"
	"github.com/shardwell/shardwell/internal/indexing"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/merge"
	"github.com/shardwell/shardwell/internal/metastore"
	"github.com/shardwell/shardwell/internal/model"
	"github.com/shardwell/shardwell/internal/pipeline"
	"github.com/shardwell/shardwell/internal/source"
	"github.com/shardwell/shardwell/internal/storage"
	shardwelllog "github.com/shardwell/shardwell/internal/telemetry/log"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every configured source's indexing and merge pipelines until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := shardwelllog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = shardwelllog.LevelDebug
	}
	log := shardwelllog.New(os.Stderr, level)

	meta, err := metastore.Open(cfg.MetastoreURI)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}

	store, err := storage.Open(ctx, cfg.IndexURI)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	mapper := docmapper.NewDefault(cfg.DocMapperSchema())

	root, err := ioctl.NewRoot(cfg.ScratchDir)
	if err != nil {
		return fmt.Errorf("open scratch root: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Sources)+1)

	for _, sc := range cfg.Sources {
		src, err := openSource(sc)
		if err != nil {
			return fmt.Errorf("open source %q: %w", sc.SourceID, err)
		}

		pcfg := indexing.PipelineConfig{
			IndexUID:           model.IndexUID(cfg.IndexUID),
			SourceID:           sc.SourceID,
			NodeID:             cfg.NodeID,
			CommitPolicy:       cfg.CommitPolicy(),
			UploaderConfig:     cfg.UploaderConfig(),
			DocProcessorConfig: cfg.DocProcessorConfig(),
		}
		stats := &pipeline.IndexingStatistics{}
		ip := indexing.NewPipeline(pcfg, src, mapper, meta, store, shardwelllog.For(log, "indexer:"+sc.SourceID), stats)
		sup := pipeline.NewSupervisor(cfg.SupervisorConfig(), shardwelllog.For(log, "supervisor:"+sc.SourceID), stats)

		heartbeat := pipeline.NewHeartbeat(cfg.HeartbeatInterval, map[string]*pipeline.Beacon{
			sc.SourceID: ip.Beacon(),
		}, func(stage string) {
			shardwelllog.For(log, "heartbeat").Warning().Str("stage", stage).Log("stage appears stuck")
		})
		go heartbeat.Run()

		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			defer heartbeat.Stop()
			result := sup.Run(ctx, func(runCtx context.Context, abort *pipeline.AbortSignal) pipeline.Result {
				return ip.Run(runCtx, abort, root)
			})
			if result.Status != pipeline.Success && result.Status != pipeline.Aborted {
				errCh <- fmt.Errorf("pipeline %q: %s: %w", sourceID, result.Status, result.Err)
			}
		}(sc.SourceID)

		mergeCfg := merge.PipelineConfig{
			IndexUID:       model.IndexUID(cfg.IndexUID),
			SourceID:       sc.SourceID,
			NodeID:         cfg.NodeID,
			Policy:         cfg.MergePolicy(),
			UploaderConfig: cfg.UploaderConfig(),
		}
		mp := merge.NewPipeline(mergeCfg, meta, store, stats)
		wg.Add(1)
		go runMergeLoop(ctx, &wg, mp, root, shardwelllog.For(log, "merge:"+sc.SourceID))
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runMergeLoop polls the merge pipeline's planner on a fixed interval, since
// unlike the indexing pipeline there's no source to block on: every 30s tick
// runs one planning round over the published splits that are not yet mature.
func runMergeLoop(ctx context.Context, wg *sync.WaitGroup, mp *merge.Pipeline, root *ioctl.Root, log shardwelllog.Logger) {
	defer wg.Done()
	controller := pipeline.NewAbortController()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			controller.Abort(ctx.Err())
			return
		case <-ticker.C:
			n, err := mp.RunOnce(ctx, controller.Signal(), root)
			if err != nil {
				log.Warning().Err(err).Log("merge round failed")
				continue
			}
			if n > 0 {
				log.Info().Int("ops", n).Log("merge round completed")
			}
		}
	}
}

func openSource(sc config.SourceConfig) (source.Source, error) {
	switch sc.Kind {
	case "file":
		return source.NewFile(sc.Path, sc.BatchSize)
	case "stdin":
		return source.NewStdin(sc.BatchSize), nil
	case "memory":
		return source.NewMemory(nil, sc.BatchSize), nil
	case "queue":
		return source.NewQueue(), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}
