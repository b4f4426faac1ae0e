package source

import (
	"context"
	"sync"

	"github.com/shardwell/shardwell/internal/ids"
)

// Memory is a finite Source over a preloaded slice of documents, used by
// pipeline-level integration tests that need deterministic input.
type Memory struct {
	mu        sync.Mutex
	docs      [][]byte
	batchSize int
	pos       int64
}

// NewMemory constructs a Source that yields docs in order, batchSize at a
// time.
func NewMemory(docs [][]byte, batchSize int) *Memory {
	if batchSize <= 0 {
		batchSize = 256
	}
	return &Memory{docs: docs, batchSize: batchSize}
}

func (s *Memory) NextBatch(ctx context.Context, checkpoint ids.Checkpoint) (RawDocBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := ids.Beginning()
	if p, ok := checkpoint[ids.PartitionUnpartitioned]; ok {
		from = p
	}

	if int(s.pos) >= len(s.docs) {
		return RawDocBatch{}, ErrEndOfSource
	}

	end := int(s.pos) + s.batchSize
	if end > len(s.docs) {
		end = len(s.docs)
	}
	batch := s.docs[s.pos:end]
	s.pos = int64(end)

	to := ids.Offset(offsetToken(s.pos))
	delta := ids.CheckpointDelta{
		ids.PartitionUnpartitioned: {From: from, To: to},
	}
	return RawDocBatch{Docs: append([][]byte(nil), batch...), CheckpointDelta: delta}, nil
}

func (s *Memory) Acknowledge(ctx context.Context, checkpoint ids.Checkpoint) error { return nil }

func (s *Memory) Close() error { return nil }
