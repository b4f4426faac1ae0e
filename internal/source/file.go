package source

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/shardwell/shardwell/internal/ids"
)

// File is a finite Source reading newline-delimited JSON documents from a
// local file, one line per document, checkpointed by byte offset.
type File struct {
	path      string
	f         *os.File
	r         *bufio.Reader
	batchSize int
	offset    int64
}

// NewFile opens path for reading, yielding up to batchSize docs per batch.
func NewFile(path string, batchSize int) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	return &File{path: path, f: f, r: bufio.NewReader(f), batchSize: batchSize}, nil
}

func (s *File) NextBatch(ctx context.Context, checkpoint ids.Checkpoint) (RawDocBatch, error) {
	from := s.partitionPosition(checkpoint)

	var docs [][]byte
	for len(docs) < s.batchSize {
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			if len(trimmed) > 0 {
				docs = append(docs, trimmed)
			}
			s.offset += int64(len(line))
		}
		if err == io.EOF {
			if len(docs) == 0 {
				return RawDocBatch{}, ErrEndOfSource
			}
			break
		}
		if err != nil {
			return RawDocBatch{}, err
		}
	}

	to := ids.Offset(offsetToken(s.offset))
	delta := ids.CheckpointDelta{
		ids.PartitionUnpartitioned: {From: from, To: to},
	}
	return RawDocBatch{Docs: docs, CheckpointDelta: delta}, nil
}

func (s *File) partitionPosition(checkpoint ids.Checkpoint) ids.Position {
	if p, ok := checkpoint[ids.PartitionUnpartitioned]; ok {
		return p
	}
	return ids.Beginning()
}

func (s *File) Acknowledge(ctx context.Context, checkpoint ids.Checkpoint) error { return nil }

func (s *File) Close() error { return s.f.Close() }

func trimNewline(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n]
}

func offsetToken(n int64) string {
	// fixed-width decimal so lexicographic order matches numeric order.
	const width = 20
	s := itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
