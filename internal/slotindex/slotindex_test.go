package slotindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

func hash(b byte) types.TaskHash {
	var h types.TaskHash
	h[0] = b
	return h
}

func TestInsertAndReady(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertBlock(batch, 100, hash(1)))
	require.NoError(t, batch.Commit())

	slot, kind, ok, err := idx.Ready(99, 0)
	require.NoError(t, err)
	require.False(t, ok)

	slot, kind, ok, err = idx.Ready(100, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), slot)
	require.Equal(t, types.SlotBlock, kind)
}

func TestBlockPreferredOverTime(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertBlock(batch, 50, hash(1)))
	require.NoError(t, idx.InsertTime(batch, 10, hash(2)))
	require.NoError(t, batch.Commit())

	slot, kind, ok, err := idx.Ready(100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.SlotBlock, kind)
	require.Equal(t, uint64(50), slot)
}

func TestFallsBackToTimeWhenNoBlockReady(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertBlock(batch, 500, hash(1)))
	require.NoError(t, idx.InsertTime(batch, 10, hash(2)))
	require.NoError(t, batch.Commit())

	slot, kind, ok, err := idx.Ready(100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.SlotTime, kind)
	require.Equal(t, uint64(10), slot)
}

func TestRemoveEmptiesBucketKey(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertBlock(batch, 100, hash(1)))
	require.NoError(t, batch.Commit())

	batch = kv.NewBatch()
	require.NoError(t, idx.RemoveBlock(batch, 100, hash(1)))
	require.NoError(t, batch.Commit())

	_, _, ok, err := idx.Ready(1000, 0)
	require.NoError(t, err)
	require.False(t, ok)

	blocks, _, err := idx.SlotIDs()
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestMultipleHashesPerBucketPreserveOrder(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertBlock(batch, 100, hash(1)))
	require.NoError(t, idx.InsertBlock(batch, 100, hash(2)))
	require.NoError(t, idx.InsertBlock(batch, 100, hash(3)))
	require.NoError(t, batch.Commit())

	hashes, err := idx.Hashes(types.SlotBlock, 100)
	require.NoError(t, err)
	require.Equal(t, []types.TaskHash{hash(1), hash(2), hash(3)}, hashes)

	batch = kv.NewBatch()
	require.NoError(t, idx.RemoveBlock(batch, 100, hash(2)))
	require.NoError(t, batch.Commit())

	hashes, err = idx.Hashes(types.SlotBlock, 100)
	require.NoError(t, err)
	require.Equal(t, []types.TaskHash{hash(1), hash(3)}, hashes)
}

func TestEventedReadyRespectsBound(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertEvented(batch, types.SlotBlock, 100, hash(1)))
	require.NoError(t, idx.InsertEvented(batch, types.SlotBlock, 200, hash(2)))
	require.NoError(t, batch.Commit())

	entries, err := idx.EventedReady(150, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, hash(1), entries[0].Hash)

	entries, err = idx.EventedReady(250, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	got := []types.TaskHash{entries[0].Hash, entries[1].Hash}
	require.ElementsMatch(t, []types.TaskHash{hash(1), hash(2)}, got)
}

// TestEventedReadyKeepsHeightAndTimeScalesSeparate guards against a
// height-bound trigger spuriously firing off the (vastly larger)
// nanosecond-scale current time, and vice versa.
func TestEventedReadyKeepsHeightAndTimeScalesSeparate(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.InsertEvented(batch, types.SlotBlock, 100, hash(1)))
	require.NoError(t, idx.InsertEvented(batch, types.SlotTime, 100, hash(2)))
	require.NoError(t, batch.Commit())

	// currentHeight=50 (below both triggers' raw value, but a real
	// nanosecond clock would already exceed 100): neither should fire.
	entries, err := idx.EventedReady(50, 50)
	require.NoError(t, err)
	require.Empty(t, entries)

	// currentHeight=100 crosses only the height-bound trigger.
	entries, err = idx.EventedReady(100, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, hash(1), entries[0].Hash)
	require.Equal(t, types.SlotBlock, entries[0].Kind)
}

func TestInsertRouterMatchesKind(t *testing.T) {
	kv := store.NewMemStore()
	idx := New(kv)

	batch := kv.NewBatch()
	require.NoError(t, idx.Insert(batch, types.SlotTime, 777, hash(9)))
	require.NoError(t, batch.Commit())

	hashes, err := idx.Hashes(types.SlotTime, 777)
	require.NoError(t, err)
	require.Equal(t, []types.TaskHash{hash(9)}, hashes)
}
