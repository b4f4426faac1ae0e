package indexing

import (
	"sync/atomic"

	"github.com/shardwell/shardwell/internal/docmapper"
	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/source"
)

// DocProcessorConfig bounds partition cardinality.
type DocProcessorConfig struct {
	MaxNumPartitions int
}

// DocProcessor parses each raw document via the doc mapper, computes
// partition id, time value, and tags, and drops malformed documents.
type DocProcessor struct {
	mapper        docmapper.DocMapper
	cfg           DocProcessorConfig
	NumParseErrors atomic.Int64
}

// NewDocProcessor constructs a DocProcessor over mapper.
func NewDocProcessor(mapper docmapper.DocMapper, cfg DocProcessorConfig) *DocProcessor {
	return &DocProcessor{mapper: mapper, cfg: cfg}
}

// Process parses batch.Docs, dropping documents that fail to parse
// (incrementing NumParseErrors), and emits a ProcessedDocBatch covering the
// survivors. The checkpoint delta and force-commit flag pass through
// unchanged: per the checkpoint invariant, the checkpoint advances past
// dropped documents too.
func (p *DocProcessor) Process(batch source.RawDocBatch) ProcessedDocBatch {
	out := ProcessedDocBatch{
		CheckpointDelta: batch.CheckpointDelta,
		ForceCommit:     batch.ForceCommit,
	}
	for _, raw := range batch.Docs {
		doc, err := p.mapper.DocFromJSON(raw)
		if err != nil {
			p.NumParseErrors.Add(1)
			continue
		}

		rawHash := p.mapper.PartitionKey(doc)
		partition := ids.CollapsePartition(rawHash, p.cfg.MaxNumPartitions)

		ts, hasTS := p.mapper.Timestamp(doc)

		out.Docs = append(out.Docs, ProcessedDoc{
			Raw:          raw,
			PartitionID: partition,
			Timestamp:    ts,
			HasTimestamp: hasTS,
			Tags:         p.mapper.TagValues(doc),
		})
	}
	return out
}
