package source

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/shardwell/shardwell/internal/ids"
)

// Stdin is a finite Source reading newline-delimited JSON documents from
// os.Stdin, checkpointed by line count (stdin has no durable byte offset
// across restarts, so the checkpoint is only meaningful within one run).
type Stdin struct {
	r         *bufio.Reader
	batchSize int
	lineNo    int64
}

// NewStdin constructs a Source reading from os.Stdin.
func NewStdin(batchSize int) *Stdin {
	if batchSize <= 0 {
		batchSize = 256
	}
	return &Stdin{r: bufio.NewReader(os.Stdin), batchSize: batchSize}
}

func (s *Stdin) NextBatch(ctx context.Context, checkpoint ids.Checkpoint) (RawDocBatch, error) {
	from := ids.Beginning()
	if p, ok := checkpoint[ids.PartitionUnpartitioned]; ok {
		from = p
	}

	var docs [][]byte
	for len(docs) < s.batchSize {
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			if len(trimmed) > 0 {
				docs = append(docs, trimmed)
				s.lineNo++
			}
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

	to := ids.Offset(offsetToken(s.lineNo))
	delta := ids.CheckpointDelta{
		ids.PartitionUnpartitioned: {From: from, To: to},
	}
	return RawDocBatch{Docs: docs, CheckpointDelta: delta}, nil
}

func (s *Stdin) Acknowledge(ctx context.Context, checkpoint ids.Checkpoint) error { return nil }

func (s *Stdin) Close() error { return nil }
