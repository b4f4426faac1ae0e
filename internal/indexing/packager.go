package indexing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shardwell/shardwell/internal/bundle"
	"github.com/shardwell/shardwell/internal/model"
)

// Packager turns a finalized IndexedSplit into a self-describing bundle file
// on disk: segment files concatenated, followed by a JSON metadata table, a
// hotcache blob, and the fixed 24-byte footer.
type Packager struct{}

// NewPackager constructs a Packager. It is stateless; one instance serves
// every split in a pipeline.
func NewPackager() *Packager { return &Packager{} }

// Package writes split's bundle into its own scratch dir and returns the
// PackagedSplit describing it. The caller owns moving the resulting
// ScratchDir/BundlePath downstream to the uploader.
func (p *Packager) Package(split IndexedSplit) (PackagedSplit, error) {
	bundlePath := split.ScratchDir + string(os.PathSeparator) + string(split.SplitID) + ".split"

	segPaths := make([]string, len(split.SegmentFiles))
	for i, name := range split.SegmentFiles {
		segPaths[i] = split.ScratchDir + string(os.PathSeparator) + name
	}

	f, err := os.Create(bundlePath)
	if err != nil {
		return PackagedSplit{}, fmt.Errorf("packager: create bundle: %w", err)
	}
	defer f.Close()

	hotcache := buildHotcache(split)

	footerStart, footerLen, err := bundle.Write(f, segPaths, hotcache)
	if err != nil {
		return PackagedSplit{}, fmt.Errorf("packager: write bundle: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return PackagedSplit{}, fmt.Errorf("packager: stat bundle: %w", err)
	}

	return PackagedSplit{
		IndexedSplit: split,
		BundlePath:   bundlePath,
		SizeInBytes:  uint64(info.Size()),
		FooterOffsets: model.FooterOffsets{
			Start: footerStart,
			End:   footerStart + footerLen,
		},
	}, nil
}

// buildHotcache produces the small fast-path blob consulted before a full
// bundle download: just the fields a split-selection decision needs, JSON
// encoded. A real full-text hotcache (term dictionary prefixes, FST roots)
// is out of scope; this is the Go-idiomatic stand-in the spec's search path
// never inspects beyond existence.
func buildHotcache(split IndexedSplit) []byte {
	type hotcacheDoc struct {
		SplitID     string `json:"split_id"`
		PartitionID uint64 `json:"partition_id"`
		NumDocs     uint64 `json:"num_docs"`
	}
	b, _ := json.Marshal(hotcacheDoc{
		SplitID:     string(split.SplitID),
		PartitionID: uint64(split.PartitionID),
		NumDocs:     split.NumDocs,
	})
	return b
}
