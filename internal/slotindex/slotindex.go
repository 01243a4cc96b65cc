// Package slotindex implements C2 (spec.md §4.2): the bucketed priority
// structure mapping future block heights and timestamps to task-hash lists,
// plus the separate evented-by-trigger family for query-gated tasks. It is
// a thin router over internal/store.KV, grounded on the teacher's own
// convention in core/txpool/journal.go of encoding an ordered key and a
// small list value rather than maintaining an in-memory heap.
package slotindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/croncatd/croncatd/internal/store"
	"github.com/croncatd/croncatd/internal/types"
)

const (
	prefixBlockSlot     = "block_slots/"
	prefixTimeSlot      = "time_slots/"
	prefixEventedHeight = "evented_by_trigger/height/"
	prefixEventedTime   = "evented_by_trigger/time/"
)

// Index is C2. It holds no state of its own beyond the KV handle; every
// bucket lives in the underlying store so it survives restarts.
type Index struct {
	kv store.KV
}

// New wraps kv as a slot index.
func New(kv store.KV) *Index {
	return &Index{kv: kv}
}

// blockKey/timeKey encode the bucket id big-endian so lexicographic byte
// order matches numeric order, the same trick the teacher's core/rawdb
// encoders use for block-number keys.
func blockKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append([]byte(prefixBlockSlot), buf[:]...)
}

func timeKey(nanos uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nanos)
	return append([]byte(prefixTimeSlot), buf[:]...)
}

// eventedKey routes to the height or time evented family depending on
// kind, mirroring blockKey/timeKey's split so a height-bound trigger is
// never compared against a nanosecond-scale current value or vice versa.
func eventedKey(kind types.SlotKind, bound uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bound)
	prefix := prefixEventedHeight
	if kind == types.SlotTime {
		prefix = prefixEventedTime
	}
	return append([]byte(prefix), buf[:]...)
}

func decodeBucketID(key []byte, prefixLen int) uint64 {
	return binary.BigEndian.Uint64(key[prefixLen:])
}

type bucket []types.TaskHash

func decodeBucket(raw []byte) (bucket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var b bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("slotindex: decode bucket: %w", err)
	}
	return b, nil
}

func encodeBucket(b bucket) ([]byte, error) {
	return json.Marshal(b)
}

func insert(batch store.Batch, kv store.KV, key []byte, hash types.TaskHash) error {
	raw, ok, err := kv.Get(key)
	if err != nil {
		return err
	}
	var b bucket
	if ok {
		b, err = decodeBucket(raw)
		if err != nil {
			return err
		}
	}
	b = append(b, hash)
	enc, err := encodeBucket(b)
	if err != nil {
		return err
	}
	batch.Set(key, enc)
	return nil
}

// remove deletes hash from the bucket at key, in the same batch, and drops
// the bucket key entirely if it becomes empty so it never re-surfaces in a
// first-key scan (spec.md §4.2 "bucket key is removed").
func remove(batch store.Batch, kv store.KV, key []byte, hash types.TaskHash) error {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok {
		return err
	}
	b, err := decodeBucket(raw)
	if err != nil {
		return err
	}
	out := b[:0]
	for _, h := range b {
		if h != hash {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		batch.Delete(key)
		return nil
	}
	enc, err := encodeBucket(out)
	if err != nil {
		return err
	}
	batch.Set(key, enc)
	return nil
}

// InsertBlock appends hash to the block-slot bucket at height, staging the
// write on batch.
func (idx *Index) InsertBlock(batch store.Batch, height uint64, hash types.TaskHash) error {
	return insert(batch, idx.kv, blockKey(height), hash)
}

// InsertTime appends hash to the time-slot bucket at nanos.
func (idx *Index) InsertTime(batch store.Batch, nanos uint64, hash types.TaskHash) error {
	return insert(batch, idx.kv, timeKey(nanos), hash)
}

// InsertEvented records hash in the evented-by-trigger family keyed by its
// trigger bound and bound kind. Spec.md §4.2: evented tasks are indexed
// separately and are never placed in block/time slots.
func (idx *Index) InsertEvented(batch store.Batch, kind types.SlotKind, bound uint64, hash types.TaskHash) error {
	return insert(batch, idx.kv, eventedKey(kind, bound), hash)
}

// RemoveBlock, RemoveTime, RemoveEvented undo the corresponding Insert*.
func (idx *Index) RemoveBlock(batch store.Batch, height uint64, hash types.TaskHash) error {
	return remove(batch, idx.kv, blockKey(height), hash)
}

func (idx *Index) RemoveTime(batch store.Batch, nanos uint64, hash types.TaskHash) error {
	return remove(batch, idx.kv, timeKey(nanos), hash)
}

func (idx *Index) RemoveEvented(batch store.Batch, kind types.SlotKind, bound uint64, hash types.TaskHash) error {
	return remove(batch, idx.kv, eventedKey(kind, bound), hash)
}

// Insert routes to the correct family based on kind, the single entry
// point C3's creation flow and C6's reinsertion step call through.
func (idx *Index) Insert(batch store.Batch, kind types.SlotKind, slot uint64, hash types.TaskHash) error {
	switch kind {
	case types.SlotBlock:
		return idx.InsertBlock(batch, slot, hash)
	case types.SlotTime:
		return idx.InsertTime(batch, slot, hash)
	default:
		return fmt.Errorf("slotindex: unhandled slot kind %v", kind)
	}
}

// Remove routes to the correct family based on kind.
func (idx *Index) Remove(batch store.Batch, kind types.SlotKind, slot uint64, hash types.TaskHash) error {
	switch kind {
	case types.SlotBlock:
		return idx.RemoveBlock(batch, slot, hash)
	case types.SlotTime:
		return idx.RemoveTime(batch, slot, hash)
	default:
		return fmt.Errorf("slotindex: unhandled slot kind %v", kind)
	}
}

// Ready is the C2 readiness check of spec.md §4.2: block slots are
// preferred because they are strictly monotone and cheap to bound; time
// slots may batch several distinct cron fires into one granularity bucket.
func (idx *Index) Ready(currentHeight, currentTimeNanos uint64) (slot uint64, kind types.SlotKind, ok bool, err error) {
	var firstBlock uint64
	found := false
	err = idx.kv.ScanPrefix([]byte(prefixBlockSlot), func(key, _ []byte) (bool, error) {
		firstBlock = decodeBucketID(key, len(prefixBlockSlot))
		found = true
		return false, nil
	})
	if err != nil {
		return 0, types.SlotBlock, false, err
	}
	if found && firstBlock <= currentHeight {
		return firstBlock, types.SlotBlock, true, nil
	}

	var firstTime uint64
	found = false
	err = idx.kv.ScanPrefix([]byte(prefixTimeSlot), func(key, _ []byte) (bool, error) {
		firstTime = decodeBucketID(key, len(prefixTimeSlot))
		found = true
		return false, nil
	})
	if err != nil {
		return 0, types.SlotTime, false, err
	}
	if found && firstTime <= currentTimeNanos {
		return firstTime, types.SlotTime, true, nil
	}

	return 0, types.SlotBlock, false, nil
}

// Hashes returns the task hashes currently bucketed at (kind, slot), in
// insertion order, for query handlers (spec.md §6 slot_hashes).
func (idx *Index) Hashes(kind types.SlotKind, slot uint64) ([]types.TaskHash, error) {
	var key []byte
	switch kind {
	case types.SlotBlock:
		key = blockKey(slot)
	case types.SlotTime:
		key = timeKey(slot)
	default:
		return nil, fmt.Errorf("slotindex: unhandled slot kind %v", kind)
	}
	raw, ok, err := idx.kv.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	b, err := decodeBucket(raw)
	if err != nil {
		return nil, err
	}
	return []types.TaskHash(b), nil
}

// SlotIDs lists every non-empty bucket id across block and time families,
// for the slot_ids query (spec.md §6).
func (idx *Index) SlotIDs() (blocks, times []uint64, err error) {
	err = idx.kv.ScanPrefix([]byte(prefixBlockSlot), func(key, _ []byte) (bool, error) {
		blocks = append(blocks, decodeBucketID(key, len(prefixBlockSlot)))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	err = idx.kv.ScanPrefix([]byte(prefixTimeSlot), func(key, _ []byte) (bool, error) {
		times = append(times, decodeBucketID(key, len(prefixTimeSlot)))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return blocks, times, nil
}

// EventedEntry is one ready evented-task hit: the hash plus the trigger
// bound/kind it is currently filed under, so C6 can remove and reinsert
// at the exact bucket the hash came from rather than guessing from the
// current clock.
type EventedEntry struct {
	Hash  types.TaskHash
	Kind  types.SlotKind
	Bound uint64
}

// EventedReady range-scans evented_by_trigger, returning every hash whose
// trigger bound has arrived (spec.md §4.2: "agents discover them by
// range-scanning evented_by_trigger starting at current_height or
// current_time"). Height-bound and time-bound triggers are two disjoint
// numeric scales, so each family is scanned against its own current
// value, the same split Ready applies to plain block/time slots.
func (idx *Index) EventedReady(currentHeight, currentTimeNanos uint64) ([]EventedEntry, error) {
	var out []EventedEntry
	err := idx.kv.ScanPrefix([]byte(prefixEventedHeight), func(key, value []byte) (bool, error) {
		bound := decodeBucketID(key, len(prefixEventedHeight))
		if bound > currentHeight {
			return false, nil
		}
		b, err := decodeBucket(value)
		if err != nil {
			return false, err
		}
		for _, h := range b {
			out = append(out, EventedEntry{Hash: h, Kind: types.SlotBlock, Bound: bound})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	err = idx.kv.ScanPrefix([]byte(prefixEventedTime), func(key, value []byte) (bool, error) {
		bound := decodeBucketID(key, len(prefixEventedTime))
		if bound > currentTimeNanos {
			return false, nil
		}
		b, err := decodeBucket(value)
		if err != nil {
			return false, err
		}
		for _, h := range b {
			out = append(out, EventedEntry{Hash: h, Kind: types.SlotTime, Bound: bound})
		}
		return true, nil
	})
	return out, err
}

// EventedHashes returns the task hashes currently bucketed at the evented
// (kind, bound), in insertion order, the evented counterpart of Hashes.
func (idx *Index) EventedHashes(kind types.SlotKind, bound uint64) ([]types.TaskHash, error) {
	raw, ok, err := idx.kv.Get(eventedKey(kind, bound))
	if err != nil || !ok {
		return nil, err
	}
	b, err := decodeBucket(raw)
	if err != nil {
		return nil, err
	}
	return []types.TaskHash(b), nil
}

// EventedSlotIDs lists every non-empty evented bucket id across the
// height and time families, the evented counterpart of SlotIDs.
func (idx *Index) EventedSlotIDs() (heights, times []uint64, err error) {
	err = idx.kv.ScanPrefix([]byte(prefixEventedHeight), func(key, _ []byte) (bool, error) {
		heights = append(heights, decodeBucketID(key, len(prefixEventedHeight)))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	err = idx.kv.ScanPrefix([]byte(prefixEventedTime), func(key, _ []byte) (bool, error) {
		times = append(times, decodeBucketID(key, len(prefixEventedTime)))
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return heights, times, nil
}
