package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwell/shardwell/internal/ids"
	"github.com/shardwell/shardwell/internal/model"
)

// metastoreUnderTest pairs an adapter with the index-creation step, which
// isn't part of the Metastore interface (index creation is administrative,
// out of the core's scope) and differs in signature between adapters.
type metastoreUnderTest struct {
	name       string
	ms         Metastore
	createIndex func(t *testing.T, uid model.IndexUID)
}

func metastoresUnderTest(t *testing.T) []metastoreUnderTest {
	t.Helper()
	mem := NewMemory()
	boltPath := filepath.Join(t.TempDir(), "meta.db")
	b, err := OpenBolt(boltPath)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return []metastoreUnderTest{
		{
			name: "memory",
			ms:   mem,
			createIndex: func(t *testing.T, uid model.IndexUID) {
				mem.CreateIndex(model.IndexMetadata{IndexUID: uid})
			},
		},
		{
			name: "bolt",
			ms:   b,
			createIndex: func(t *testing.T, uid model.IndexUID) {
				require.NoError(t, b.CreateIndex(model.IndexMetadata{IndexUID: uid}))
			},
		},
	}
}

func TestOpen_memoryScheme(t *testing.T) {
	ms, err := Open("memory://")
	require.NoError(t, err)
	assert.NotNil(t, ms)
}

func TestOpen_boltScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	ms, err := Open("bolt://" + path)
	require.NoError(t, err)
	assert.NotNil(t, ms)
}

func TestOpen_unsupportedScheme(t *testing.T) {
	_, err := Open("redis://localhost")
	assert.Error(t, err)
}

func TestMetastore_StageThenPublish(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			split := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			require.NoError(t, tc.ms.StageSplit(ctx, uid, split))

			delta := ids.CheckpointDelta{1: {From: ids.Beginning(), To: ids.Offset("10")}}
			require.NoError(t, tc.ms.PublishSplits(ctx, uid, "src", []ids.SplitID{split.SplitID}, nil, delta))

			splits, err := tc.ms.ListSplits(ctx, uid, SplitFilter{})
			require.NoError(t, err)
			require.Len(t, splits, 1)
			assert.Equal(t, model.SplitStatePublished, splits[0].State)

			meta, err := tc.ms.IndexMetadata(ctx, uid)
			require.NoError(t, err)
			assert.True(t, meta.Checkpoints["src"][1].Equal(ids.Offset("10")))
		})
	}
}

func TestMetastore_PublishUnstagedSplitFails(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			err := tc.ms.PublishSplits(ctx, uid, "src", []ids.SplitID{"nonexistent"}, nil, nil)
			require.Error(t, err)
			assert.True(t, IsLogical(err))
		})
	}
}

func TestMetastore_PublishCheckpointMismatchIsLogical(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			split := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			require.NoError(t, tc.ms.StageSplit(ctx, uid, split))

			badDelta := ids.CheckpointDelta{1: {From: ids.Offset("not-the-beginning"), To: ids.Offset("10")}}
			err := tc.ms.PublishSplits(ctx, uid, "src", []ids.SplitID{split.SplitID}, nil, badDelta)
			require.Error(t, err)
			assert.True(t, IsLogical(err))

			// the split must remain Staged: the whole transaction is atomic.
			splits, err := tc.ms.ListSplits(ctx, uid, SplitFilter{})
			require.NoError(t, err)
			require.Len(t, splits, 1)
			assert.Equal(t, model.SplitStateStaged, splits[0].State)
		})
	}
}

func TestMetastore_PublishWithReplace(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			old1 := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			old2 := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			merged := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			require.NoError(t, tc.ms.StageSplit(ctx, uid, old1))
			require.NoError(t, tc.ms.StageSplit(ctx, uid, old2))
			require.NoError(t, tc.ms.StageSplit(ctx, uid, merged))

			require.NoError(t, tc.ms.PublishSplits(ctx, uid, "src", []ids.SplitID{merged.SplitID}, []ids.SplitID{old1.SplitID, old2.SplitID}, nil))

			splits, err := tc.ms.ListSplits(ctx, uid, SplitFilter{})
			require.NoError(t, err)
			states := map[ids.SplitID]model.SplitState{}
			for _, s := range splits {
				states[s.SplitID] = s.State
			}
			assert.Equal(t, model.SplitStatePublished, states[merged.SplitID])
			assert.Equal(t, model.SplitStateMarkedForDeletion, states[old1.SplitID])
			assert.Equal(t, model.SplitStateMarkedForDeletion, states[old2.SplitID])
		})
	}
}

func TestMetastore_ListSplits_filterByState(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			s1 := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 1}
			s2 := model.SplitMetadata{SplitID: ids.NewSplitID(), PartitionID: 2}
			require.NoError(t, tc.ms.StageSplit(ctx, uid, s1))
			require.NoError(t, tc.ms.StageSplit(ctx, uid, s2))
			require.NoError(t, tc.ms.PublishSplits(ctx, uid, "src", []ids.SplitID{s1.SplitID}, nil, nil))

			published := model.SplitStatePublished
			splits, err := tc.ms.ListSplits(ctx, uid, SplitFilter{State: &published})
			require.NoError(t, err)
			require.Len(t, splits, 1)
			assert.Equal(t, s1.SplitID, splits[0].SplitID)
		})
	}
}

func TestMetastore_MarkSplitsForDeletion_idempotent(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			require.NoError(t, tc.ms.MarkSplitsForDeletion(ctx, uid, []ids.SplitID{"does-not-exist"}))
		})
	}
}

func TestMetastore_SweepStaged(t *testing.T) {
	for _, tc := range metastoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			uid := model.IndexUID("idx-" + tc.name)
			tc.createIndex(t, uid)

			old := model.SplitMetadata{SplitID: ids.NewSplitID(), CreateTimestamp: time.Now().Add(-time.Hour)}
			fresh := model.SplitMetadata{SplitID: ids.NewSplitID(), CreateTimestamp: time.Now()}
			require.NoError(t, tc.ms.StageSplit(ctx, uid, old))
			require.NoError(t, tc.ms.StageSplit(ctx, uid, fresh))

			swept, err := tc.ms.SweepStaged(ctx, uid, 10*time.Minute)
			require.NoError(t, err)
			require.Len(t, swept, 1)
			assert.Equal(t, old.SplitID, swept[0].SplitID)

			splits, err := tc.ms.ListSplits(ctx, uid, SplitFilter{})
			require.NoError(t, err)
			for _, s := range splits {
				if s.SplitID == old.SplitID {
					assert.Equal(t, model.SplitStateMarkedForDeletion, s.State)
				}
				if s.SplitID == fresh.SplitID {
					assert.Equal(t, model.SplitStateStaged, s.State)
				}
			}
		})
	}
}
