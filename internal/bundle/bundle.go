// Package bundle implements the on-storage bundle file format: a
// self-describing concatenation of segment files, a metadata table, a
// hotcache blob, and a trailing fixed-size footer, bit-stable across
// implementations per the external interface contract.
package bundle

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Magic identifies a shardwell bundle file.
const Magic = "QWST"

// Version is the current bundle format version.
const Version uint32 = 1

// FooterLen is the fixed trailing footer size in bytes:
// magic(4) + version(4) + hotcache_len(8) + metadata_len(8).
const FooterLen = 24

// FileEntry locates one concatenated segment file within the bundle.
type FileEntry struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
	Len    int64  `json:"len"`
}

// Metadata is the UTF-8 JSON object preceding the hotcache. It carries no
// length prefix; its length is recorded only in the footer's MetadataLen.
type Metadata struct {
	Files []FileEntry `json:"files"`
}

// Footer is the trailing 24-byte record. Its fields are lengths, not
// offsets; the start and length of the footer region (the bytes a remote
// reader fetches) are returned by Write.
type Footer struct {
	Version     uint32
	HotcacheLen uint64
	MetadataLen uint64
}

// Write concatenates the named source files (in order) into w, followed by
// the metadata table, the hotcache blob, and the footer. It returns the
// number of metadata+hotcache+footer bytes written (the "footer region"
// length, i.e. how many trailing bytes a remote reader must fetch to locate
// everything without a directory listing) and the absolute byte offset at
// which that region starts.
func Write(w io.Writer, segmentFiles []string, hotcache []byte) (footerRegionStart int64, footerRegionLen int64, err error) {
	var written int64
	entries := make([]FileEntry, 0, len(segmentFiles))

	for _, path := range segmentFiles {
		f, err := os.Open(path)
		if err != nil {
			return 0, 0, fmt.Errorf("bundle: open segment file %q: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, 0, fmt.Errorf("bundle: stat segment file %q: %w", path, err)
		}
		n, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("bundle: copy segment file %q: %w", path, err)
		}
		entries = append(entries, FileEntry{Name: baseName(path), Offset: written, Len: n})
		written += n
		_ = info
	}

	footerRegionStart = written

	metaBytes, err := json.Marshal(Metadata{Files: entries})
	if err != nil {
		return 0, 0, fmt.Errorf("bundle: marshal metadata: %w", err)
	}
	if _, err := w.Write(metaBytes); err != nil {
		return 0, 0, fmt.Errorf("bundle: write metadata: %w", err)
	}
	written += int64(len(metaBytes))

	if len(hotcache) > 0 {
		if _, err := w.Write(hotcache); err != nil {
			return 0, 0, fmt.Errorf("bundle: write hotcache: %w", err)
		}
		written += int64(len(hotcache))
	}

	footer := make([]byte, FooterLen)
	copy(footer[0:4], Magic)
	binary.LittleEndian.PutUint32(footer[4:8], Version)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(hotcache)))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(metaBytes)))
	if _, err := w.Write(footer); err != nil {
		return 0, 0, fmt.Errorf("bundle: write footer: %w", err)
	}
	written += FooterLen

	footerRegionLen = written - footerRegionStart
	return footerRegionStart, footerRegionLen, nil
}

// ParseFooter decodes the trailing FooterLen bytes of a bundle.
func ParseFooter(trailer []byte) (Footer, error) {
	if len(trailer) != FooterLen {
		return Footer{}, fmt.Errorf("bundle: footer must be %d bytes, got %d", FooterLen, len(trailer))
	}
	if string(trailer[0:4]) != Magic {
		return Footer{}, fmt.Errorf("bundle: bad magic %q", trailer[0:4])
	}
	return Footer{
		Version:     binary.LittleEndian.Uint32(trailer[4:8]),
		HotcacheLen: binary.LittleEndian.Uint64(trailer[8:16]),
		MetadataLen: binary.LittleEndian.Uint64(trailer[16:24]),
	}, nil
}

// ParseMetadata decodes the JSON metadata table; b must be exactly the
// MetadataLen bytes named by the footer.
func ParseMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("bundle: unmarshal metadata: %w", err)
	}
	return m, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
