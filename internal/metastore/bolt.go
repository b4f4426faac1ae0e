package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/model"
)

var (
	bucketIndexes = []byte("indexes")
	bucketSplits  = []byte("splits") // nested bucket per index uid
)

// Bolt is a durable, single-file Metastore backed by boltdb, for deployments
// that need split/checkpoint state to survive a process restart.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a boltdb-backed metastore at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &Error{Kind: ErrorKindIO, Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIndexes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSplits)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &Error{Kind: ErrorKindIO, Op: "open", Err: err}
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying file lock.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) CreateIndex(meta model.IndexMetadata) error {
	if meta.Checkpoints == nil {
		meta.Checkpoints = make(map[string]ids.Checkpoint)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		buf, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndexes).Put([]byte(meta.IndexUID), buf); err != nil {
			return err
		}
		_, err = tx.Bucket(bucketSplits).CreateBucketIfNotExists([]byte(meta.IndexUID))
		return err
	})
}

func (b *Bolt) ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error) {
	var out []model.IndexMetadata
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			var meta model.IndexMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, &Error{Kind: ErrorKindIO, Op: "list_indexes_metadatas", Err: err}
	}
	return out, nil
}

func (b *Bolt) IndexMetadata(ctx context.Context, indexUID model.IndexUID) (model.IndexMetadata, error) {
	var meta model.IndexMetadata
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndexes).Get([]byte(indexUID))
		if v == nil {
			return fmt.Errorf("index %q not found", indexUID)
		}
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return model.IndexMetadata{}, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "index_metadata", Err: err}
	}
	return meta, nil
}

func (b *Bolt) StageSplit(ctx context.Context, indexUID model.IndexUID, split model.SplitMetadata) error {
	split.State = model.SplitStateStaged
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return fmt.Errorf("index %q not found", indexUID)
		}
		buf, err := json.Marshal(split)
		if err != nil {
			return err
		}
		return sb.Put([]byte(split.SplitID), buf)
	})
}

func (b *Bolt) PublishSplits(ctx context.Context, indexUID model.IndexUID, sourceID string, publish []ids.SplitID, replace []ids.SplitID, delta ids.CheckpointDelta) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "publish_splits", Err: fmt.Errorf("index %q not found", indexUID)}
		}
		ib := tx.Bucket(bucketIndexes)
		mv := ib.Get([]byte(indexUID))
		if mv == nil {
			return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "publish_splits", Err: fmt.Errorf("index %q not found", indexUID)}
		}
		var meta model.IndexMetadata
		if err := json.Unmarshal(mv, &meta); err != nil {
			return err
		}

		splitDocs := make(map[ids.SplitID]model.SplitMetadata, len(publish)+len(replace))
		for _, id := range publish {
			v := sb.Get([]byte(id))
			if v == nil {
				return &Error{Kind: ErrorKindSplitsNotStaged, Op: "publish_splits", Err: fmt.Errorf("split %q not found", id)}
			}
			var s model.SplitMetadata
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if s.State != model.SplitStateStaged {
				return &Error{Kind: ErrorKindSplitsNotStaged, Op: "publish_splits", Err: fmt.Errorf("split %q is %s, not Staged", id, s.State)}
			}
			splitDocs[id] = s
		}
		for _, id := range replace {
			v := sb.Get([]byte(id))
			if v == nil {
				return &Error{Kind: ErrorKindSplitsDoNotExist, Op: "publish_splits", Err: fmt.Errorf("split %q not found", id)}
			}
			var s model.SplitMetadata
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			splitDocs[id] = s
		}

		if meta.Checkpoints == nil {
			meta.Checkpoints = make(map[string]ids.Checkpoint)
		}
		cp := meta.Checkpoints[sourceID]
		if cp == nil {
			cp = ids.Checkpoint{}
		}
		if len(delta) > 0 {
			next, err := cp.Apply(delta)
			if err != nil {
				return &Error{Kind: ErrorKindCheckpointMismatch, Op: "publish_splits", Err: err}
			}
			cp = next
		}

		for _, id := range publish {
			s := splitDocs[id]
			s.State = model.SplitStatePublished
			buf, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := sb.Put([]byte(id), buf); err != nil {
				return err
			}
		}
		for _, id := range replace {
			s := splitDocs[id]
			s.State = model.SplitStateMarkedForDeletion
			buf, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := sb.Put([]byte(id), buf); err != nil {
				return err
			}
		}

		meta.Checkpoints[sourceID] = cp
		buf, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return ib.Put([]byte(indexUID), buf)
	})
}

func (b *Bolt) ListSplits(ctx context.Context, indexUID model.IndexUID, filter SplitFilter) ([]model.SplitMetadata, error) {
	var out []model.SplitMetadata
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return fmt.Errorf("index %q not found", indexUID)
		}
		return sb.ForEach(func(k, v []byte) error {
			var s model.SplitMetadata
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if filter.matches(s) {
				out = append(out, s)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "list_splits", Err: err}
	}
	return out, nil
}

func (b *Bolt) MarkSplitsForDeletion(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "mark_splits_for_deletion", Err: fmt.Errorf("index %q not found", indexUID)}
		}
		for _, id := range splitIDs {
			v := sb.Get([]byte(id))
			if v == nil {
				continue
			}
			var s model.SplitMetadata
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			s.State = model.SplitStateMarkedForDeletion
			buf, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := sb.Put([]byte(id), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) DeleteSplits(ctx context.Context, indexUID model.IndexUID, splitIDs []ids.SplitID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return &Error{Kind: ErrorKindIndexDoesNotExist, Op: "delete_splits", Err: fmt.Errorf("index %q not found", indexUID)}
		}
		for _, id := range splitIDs {
			if err := sb.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) CheckConnectivity(ctx context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error { return nil })
}

func (b *Bolt) SweepStaged(ctx context.Context, indexUID model.IndexUID, grace time.Duration) ([]model.SplitMetadata, error) {
	var swept []model.SplitMetadata
	cutoff := time.Now().Add(-grace)
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSplits).Bucket([]byte(indexUID))
		if sb == nil {
			return fmt.Errorf("index %q not found", indexUID)
		}
		// collect first: boltdb disallows bucket mutation during ForEach.
		var stale []model.SplitMetadata
		if err := sb.ForEach(func(k, v []byte) error {
			var s model.SplitMetadata
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if s.State == model.SplitStateStaged && s.CreateTimestamp.Before(cutoff) {
				stale = append(stale, s)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, s := range stale {
			s.State = model.SplitStateMarkedForDeletion
			buf, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := sb.Put([]byte(s.SplitID), buf); err != nil {
				return err
			}
			swept = append(swept, s)
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: ErrorKindIndexDoesNotExist, Op: "sweep_staged", Err: err}
	}
	return swept, nil
}
