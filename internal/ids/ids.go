// Package ids provides the identifiers shared across every stage of the
// indexing core: split ids, partition ids, and the checkpoint/position types
// that model consumed source progress.
package ids

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SplitID is a 26-char Crockford base32 ULID, monotone-ish by creation time.
type SplitID string

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewSplitID mints a new split id from the current time, safe for concurrent
// use. Monotonicity (within the same millisecond) is provided by the shared
// entropy source, matching oklog/ulid's documented pattern for high-frequency
// generation from a single process.
func NewSplitID() SplitID {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return SplitID(id.String())
}

// ObjectName is the object storage key for this split's bundle, relative to
// the index's URI.
func (id SplitID) ObjectName() string {
	return string(id) + ".split"
}

// PartitionID identifies a partition within one (index, source). Overflow
// beyond the configured cardinality cap collapses onto PartitionOverflow.
type PartitionID uint64

// PartitionOverflow is the sentinel partition that overflow hashes collapse
// onto when the configured max_num_partitions is exceeded. Existing,
// non-overflowing partitions are never evicted to make room (no LRU) — see
// DESIGN.md's Open Question decision.
const PartitionOverflow PartitionID = ^PartitionID(0)

// PartitionUnpartitioned is used when no partition expression is configured.
const PartitionUnpartitioned PartitionID = 0

// CollapsePartition caps a raw hash into [0, maxPartitions), returning
// PartitionOverflow if maxPartitions is exceeded by the raw value's range.
// maxPartitions <= 0 means "no cap" (collapse disabled).
func CollapsePartition(raw uint64, maxPartitions int) PartitionID {
	if maxPartitions <= 0 {
		return PartitionID(raw)
	}
	p := raw % uint64(maxPartitions)
	if p != raw && raw >= uint64(maxPartitions) {
		return PartitionOverflow
	}
	return PartitionID(p)
}

// Position is an opaque, lexicographically ordered token marking a consumed
// point in one partition of a source. The pipeline never interprets a
// Position's contents beyond the three sentinel states below and a string
// equality/ordering comparison for the Offset case — it is source-specific.
type Position struct {
	kind positionKind
	off  string
}

type positionKind uint8

const (
	positionBeginning positionKind = iota
	positionOffset
	positionEOF
)

// Beginning is the position before any document has been consumed.
func Beginning() Position { return Position{kind: positionBeginning} }

// Offset wraps a source-specific opaque token.
func Offset(s string) Position { return Position{kind: positionOffset, off: s} }

// Eof is the position after a finite source has been fully consumed.
func Eof() Position { return Position{kind: positionEOF} }

// String renders the position for logging and metastore persistence.
func (p Position) String() string {
	switch p.kind {
	case positionBeginning:
		return "-"
	case positionEOF:
		return "+eof"
	default:
		return p.off
	}
}

// ParsePosition is the inverse of String, used by metastore adapters that
// persist positions as plain strings.
func ParsePosition(s string) Position {
	switch s {
	case "-":
		return Beginning()
	case "+eof":
		return Eof()
	default:
		return Offset(s)
	}
}

// Less reports whether p sorts strictly before other. Beginning sorts before
// every Offset; Eof sorts after every Offset; Offsets compare lexicographically
// on their opaque token, per spec: "lexicographic order is source-specific".
func (p Position) Less(other Position) bool {
	if p.kind != other.kind {
		return p.kind < other.kind
	}
	if p.kind == positionOffset {
		return p.off < other.off
	}
	return false
}

// MarshalJSON encodes a Position as its String form, so metastore adapters
// that persist via JSON (e.g. the boltdb backend) need no bespoke handling.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Position) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = ParsePosition(s)
	return nil
}

// Equal reports whether p and other denote the same position.
func (p Position) Equal(other Position) bool {
	return p.kind == other.kind && p.off == other.off
}

// Checkpoint is the per-source mapping from partition to the greatest
// consumed position whose documents have been published.
type Checkpoint map[PartitionID]Position

// Clone returns an independent copy.
func (c Checkpoint) Clone() Checkpoint {
	out := make(Checkpoint, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// PartitionDelta is the half-open interval (from, to] produced by one batch
// for a single partition.
type PartitionDelta struct {
	From Position
	To   Position
}

// CheckpointDelta is the per-partition set of deltas produced by one batch.
type CheckpointDelta map[PartitionID]PartitionDelta

// ErrCheckpointMismatch is returned by Checkpoint.Apply when a delta's From
// does not equal the stored To for its partition — a logical, non-retried
// protocol error per the publish compare-and-swap invariant.
type ErrCheckpointMismatch struct {
	Partition PartitionID
	Expected  Position
	Got       Position
}

func (e *ErrCheckpointMismatch) Error() string {
	return fmt.Sprintf("checkpoint mismatch on partition %d: expected from=%s, got from=%s",
		e.Partition, e.Expected, e.Got)
}

// Apply performs the compare-and-swap check required before a checkpoint
// advance: for every partition in delta, delta.From must equal the stored To
// (or Beginning, if the partition has not been seen before). On success it
// returns the checkpoint with every involved partition advanced to delta.To;
// the receiver is left unmodified either way.
func (c Checkpoint) Apply(delta CheckpointDelta) (Checkpoint, error) {
	next := c.Clone()
	for part, d := range delta {
		stored, ok := next[part]
		if !ok {
			stored = Beginning()
		}
		if !stored.Equal(d.From) {
			return nil, &ErrCheckpointMismatch{Partition: part, Expected: stored, Got: d.From}
		}
	}
	for part, d := range delta {
		next[part] = d.To
	}
	return next, nil
}
