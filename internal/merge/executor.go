package merge

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/indexing"
	"github.com/shardwell/shardwell/internal/ioctl"
	"github.com/shardwell/shardwell/internal/model"
)

// Executor combines a merge op's downloaded inputs into a single replacement
// IndexedSplit. Concatenating segment bytes and unioning the split-level
// summary fields is the Go-idiomatic stand-in for a real full-text index's
// postings-merge and dictionary rebuild, which is out of scope here; what
// matters to every downstream stage (packager, metastore, search-side split
// selection) is the split metadata this produces, not the segment's
// internal format.
type Executor struct {
	indexUID    string
	sourceID    string
	nodeID      string
	pipelineOrd int
	newSplitID  func() ids.SplitID
}

// NewExecutor constructs an Executor stamping its identity onto every merged
// split it produces.
func NewExecutor(indexUID, sourceID, nodeID string, pipelineOrd int, newSplitID func() ids.SplitID) *Executor {
	return &Executor{indexUID: indexUID, sourceID: sourceID, nodeID: nodeID, pipelineOrd: pipelineOrd, newSplitID: newSplitID}
}

// Execute reads each downloaded input's segment region (the bundle's bytes
// preceding its footer region, i.e. FooterOffsets.Start bytes) and
// concatenates them into one new segment file in scratch, producing the
// merged IndexedSplit.
func (e *Executor) Execute(scratch *ioctl.ScopedDir, op Op, inputs []DownloadedSplit) (indexing.IndexedSplit, error) {
	merged := indexing.IndexedSplit{
		SplitID:         e.newSplitID(),
		IndexUID:        model.IndexUID(e.indexUID),
		SourceID:        e.sourceID,
		NodeID:          e.nodeID,
		PipelineOrd:     e.pipelineOrd,
		PartitionID:     op.PartitionID,
		CreateTimestamp: time.Now(),
		Tags:            model.NewTagSet(),
		ScratchDir:      scratch.Path(),
	}

	segPath := scratch.Join(string(merged.SplitID) + ".segment")
	out, err := os.Create(segPath)
	if err != nil {
		return indexing.IndexedSplit{}, fmt.Errorf("merge executor: create segment: %w", err)
	}
	defer out.Close()

	var maxMergeOps int
	for _, input := range inputs {
		if input.PartitionID != op.PartitionID {
			return indexing.IndexedSplit{}, fmt.Errorf("merge executor: input %s has partition %d, expected %d",
				input.SplitID, input.PartitionID, op.PartitionID)
		}

		if err := appendSegmentRegion(out, input); err != nil {
			return indexing.IndexedSplit{}, fmt.Errorf("merge executor: append %s: %w", input.SplitID, err)
		}

		merged.NumDocs += input.NumDocs
		merged.UncompressedBytes += input.UncompressedDocsSizeInBytes
		merged.TimeRange = merged.TimeRange.Union(input.TimeRange)
		for _, t := range input.Tags {
			merged.Tags.Add(t)
		}
		merged.ReplacedSplitIDs = append(merged.ReplacedSplitIDs, input.SplitID)
		if input.NumMergeOps > maxMergeOps {
			maxMergeOps = input.NumMergeOps
		}
	}
	merged.NumMergeOps = maxMergeOps + 1
	merged.SegmentFiles = []string{string(merged.SplitID) + ".segment"}

	return merged, nil
}

// appendSegmentRegion copies the bytes preceding input's footer region (its
// concatenated segment files, pre-merge) from its local bundle onto w.
func appendSegmentRegion(w io.Writer, input DownloadedSplit) error {
	f, err := os.Open(input.BundlePath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.CopyN(w, f, input.FooterOffsets.Start)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}
