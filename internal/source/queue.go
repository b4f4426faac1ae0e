package source

import (
	"context"
	"sync"

	"github.com/shardwell/shardwell/internal/ids"
)

// Queue is an unbounded, mutex-guarded push-API Source (Push never blocks on
// capacity; waiting readers are woken through a waiter list): producers call Push to
// append documents, and the source driver polls it like any pull-style
// source via NextBatch. It assigns a strictly increasing in-memory offset
// per partition-0 append, honoring the checkpoint-delta-chaining invariant
// for as long as the process lives (it has no durable backing, matching the
// "in-memory queue" enumerated in the source contract).
type Queue struct {
	mu      sync.Mutex
	buf     [][]byte
	closed  bool
	pos     int64
	waiters []chan struct{}
}

// NewQueue constructs an empty push-API source.
func NewQueue() *Queue {
	return &Queue{}
}

// ErrQueueClosed is returned by Push after the queue has been closed.
var ErrQueueClosed = &queueClosedError{}

type queueClosedError struct{}

func (*queueClosedError) Error() string { return "source: queue closed" }

// Push appends docs for later delivery via NextBatch. It returns an error if
// the queue has been closed.
func (q *Queue) Push(ctx context.Context, docs [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.buf = append(q.buf, docs...)
	q.wake()
	return nil
}

// wake must be called with mu held.
func (q *Queue) wake() {
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

func (q *Queue) NextBatch(ctx context.Context, checkpoint ids.Checkpoint) (RawDocBatch, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			docs := q.buf
			q.buf = nil
			from := ids.Beginning()
			if p, ok := checkpoint[ids.PartitionUnpartitioned]; ok {
				from = p
			}
			q.pos += int64(len(docs))
			to := ids.Offset(offsetToken(q.pos))
			q.mu.Unlock()
			delta := ids.CheckpointDelta{
				ids.PartitionUnpartitioned: {From: from, To: to},
			}
			return RawDocBatch{Docs: docs, CheckpointDelta: delta}, nil
		}
		if q.closed {
			q.mu.Unlock()
			return RawDocBatch{}, ErrEndOfSource
		}
		wait := make(chan struct{})
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return RawDocBatch{}, ctx.Err()
		case <-wait:
		}
	}
}

func (q *Queue) Acknowledge(ctx context.Context, checkpoint ids.Checkpoint) error { return nil }

// Close marks the queue closed: pending NextBatch calls return
// ErrEndOfSource once drained, and further Push calls fail.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake()
	return nil
}
