package index

import (
	"sync"

	"github.com/hanyunqi/faststore/cmn"
)

// Index is the sharded, in-memory object-block slice index (spec §4.D).
// Concurrency is sharded across shardCount lock contexts; bucket b is
// guarded by shards[b % shardCount], matching the design's "bucket b uses
// context b mod shared_locks_count".
type Index struct {
	capacity uint64
	buckets  []*BlockEntry
	shards   []*sync.Mutex

	allocator SliceAllocator
}

// New builds an Index with the given bucket-table capacity and shard count
// (spec §6 object_block_hashtable_capacity / object_block_shared_locks_count
// defaults: 1,403,641 and 163).
func New(capacity, shardCount uint64, allocator SliceAllocator) *Index {
	cmn.Assert(capacity > 0 && shardCount > 0)
	idx := &Index{
		capacity:  capacity,
		buckets:   make([]*BlockEntry, capacity),
		shards:    make([]*sync.Mutex, shardCount),
		allocator: allocator,
	}
	for i := range idx.shards {
		idx.shards[i] = &sync.Mutex{}
	}
	return idx
}

func (idx *Index) bucketIndex(bkey BlockKey) uint64 {
	return bkey.HashCode() % idx.capacity
}

func (idx *Index) shardFor(bucketIdx uint64) *sync.Mutex {
	return idx.shards[bucketIdx%uint64(len(idx.shards))]
}

// getBlock walks the bucket's BlockEntry chain (ordered by BlockKey,
// mirroring get_ob_entry), creating one if create is set and none is found.
func (idx *Index) getBlock(bucketIdx uint64, bkey BlockKey, create bool) *BlockEntry {
	head := idx.buckets[bucketIdx]
	if head == nil {
		if !create {
			return nil
		}
		nb := &BlockEntry{BKey: bkey, slices: newSkiplist()}
		idx.buckets[bucketIdx] = nb
		return nb
	}
	if head.BKey == bkey {
		return head
	}
	if bkey.Less(head.BKey) {
		if !create {
			return nil
		}
		nb := &BlockEntry{BKey: bkey, slices: newSkiplist(), next: head}
		idx.buckets[bucketIdx] = nb
		return nb
	}
	prev := head
	for prev.next != nil {
		if prev.next.BKey == bkey {
			return prev.next
		}
		if bkey.Less(prev.next.BKey) {
			break
		}
		prev = prev.next
	}
	if !create {
		return nil
	}
	nb := &BlockEntry{BKey: bkey, slices: newSkiplist(), next: prev.next}
	prev.next = nb
	return nb
}

// AddSlice implements the mutate path (spec §4.D step 1-4 / invariant I1):
// deletes/trims any existing slices overlapping [ssize.Offset, ssize.End())
// and inserts the new one, mirroring every insert/delete to the trunk
// allocator so invariant I3 holds.
func (idx *Index) AddSlice(bkey BlockKey, ssize SliceSize, space TrunkSpace) error {
	bucketIdx := idx.bucketIndex(bkey)
	mu := idx.shardFor(bucketIdx)
	mu.Lock()
	defer mu.Unlock()

	block := idx.getBlock(bucketIdx, bkey, true)
	slice := newSliceEntry(bkey, ssize, space)
	return idx.addSliceLocked(block, slice)
}

func (idx *Index) addSliceLocked(block *BlockEntry, slice *SliceEntry) error {
	toDelete, toAdd := trimRangeLocked(block, slice.SSize)
	for _, d := range toDelete {
		if err := idx.deleteFromSkiplistLocked(block, d); err != nil {
			return err
		}
	}
	for _, a := range toAdd {
		if err := idx.insertIntoSkiplistLocked(block, a); err != nil {
			return err
		}
	}
	return idx.insertIntoSkiplistLocked(block, slice)
}

// trimRangeLocked walks the slices overlapping rng and reports which ones
// must be deleted and which trimmed remainder copies must be reinserted in
// their place - steps 2-3 of spec §4.D, shared by AddSlice (which then
// inserts the new slice on top) and DeleteSlice (which does not).
func trimRangeLocked(block *BlockEntry, rng SliceSize) (toDelete, toAdd []*SliceEntry) {
	node := block.slices.findGE(rng.Offset)
	var predecessor *slNode
	if node != nil {
		predecessor = prevOf(node)
	} else {
		predecessor = block.slices.last()
	}

	if predecessor != nil {
		cur := predecessor.entry
		if cur.SSize.End() > rng.Offset {
			toDelete = append(toDelete, cur)
			toAdd = append(toAdd, dup(cur, cur.SSize.Offset, rng.Offset-cur.SSize.Offset))
			if cur.SSize.End() > rng.End() {
				toAdd = append(toAdd, dup(cur, rng.End(), cur.SSize.End()-rng.End()))
			}
		}
	}

	for n := node; n != nil; n = n.next[0] {
		cur := n.entry
		if rng.End() <= cur.SSize.Offset {
			break
		}
		toDelete = append(toDelete, cur)
		if cur.SSize.End() > rng.End() {
			toAdd = append(toAdd, dup(cur, rng.End(), cur.SSize.End()-rng.End()))
			break
		}
	}
	return toDelete, toAdd
}

// DeleteSlice implements the binlog delete-slice op: every slice entry
// overlapping [ssize.Offset, ssize.End()) is removed (trimmed remainders on
// either edge are kept), without inserting a replacement - the explicit
// counterpart to AddSlice's implicit overlap trim. A block with nothing
// indexed for bkey is a no-op: deletes must replay idempotently (spec
// "Binlog record framing" invariant).
func (idx *Index) DeleteSlice(bkey BlockKey, ssize SliceSize) error {
	bucketIdx := idx.bucketIndex(bkey)
	mu := idx.shardFor(bucketIdx)
	mu.Lock()
	defer mu.Unlock()

	block := idx.getBlock(bucketIdx, bkey, false)
	if block == nil {
		return nil
	}
	toDelete, toAdd := trimRangeLocked(block, ssize)
	for _, d := range toDelete {
		if err := idx.deleteFromSkiplistLocked(block, d); err != nil {
			return err
		}
	}
	for _, a := range toAdd {
		if err := idx.insertIntoSkiplistLocked(block, a); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBlock implements the binlog delete-block op: every slice currently
// indexed for bkey is removed and mirrored to the trunk allocator, and the
// now-empty block entry is unlinked from its bucket chain. A block with
// nothing indexed for bkey is a no-op, for the same idempotent-replay
// reason DeleteSlice is.
func (idx *Index) DeleteBlock(bkey BlockKey) error {
	bucketIdx := idx.bucketIndex(bkey)
	mu := idx.shardFor(bucketIdx)
	mu.Lock()
	defer mu.Unlock()

	block := idx.getBlock(bucketIdx, bkey, false)
	if block == nil {
		return nil
	}

	var all []*SliceEntry
	block.slices.walkFrom(block.slices.findGE(0), func(e *SliceEntry) bool {
		all = append(all, e)
		return true
	})
	for _, e := range all {
		if err := idx.deleteFromSkiplistLocked(block, e); err != nil {
			return err
		}
	}
	idx.unlinkBlockLocked(bucketIdx, bkey)
	return nil
}

func (idx *Index) unlinkBlockLocked(bucketIdx uint64, bkey BlockKey) {
	head := idx.buckets[bucketIdx]
	if head == nil {
		return
	}
	if head.BKey == bkey {
		idx.buckets[bucketIdx] = head.next
		return
	}
	prev := head
	for prev.next != nil {
		if prev.next.BKey == bkey {
			prev.next = prev.next.next
			return
		}
		prev = prev.next
	}
}

func (idx *Index) insertIntoSkiplistLocked(block *BlockEntry, s *SliceEntry) error {
	block.slices.insert(s)
	if idx.allocator != nil {
		if err := idx.allocator.AddSlice(s); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) deleteFromSkiplistLocked(block *BlockEntry, s *SliceEntry) error {
	block.slices.delete(s.SSize.Offset)
	if idx.allocator != nil {
		return idx.allocator.DeleteSlice(s)
	}
	return nil
}

// GetSlices implements the read path (spec §4.D "Read"): returns the
// ordered slices intersecting [rng.Offset, rng.End()), trimming the first
// and last overlapping entries into read-only duplicate views and bumping
// the ref count of interior entries. Returns cmn.ErrNotFound if the block is
// absent or nothing in the range is indexed.
func (idx *Index) GetSlices(bkey BlockKey, rng SliceSize) ([]*SliceEntry, error) {
	bucketIdx := idx.bucketIndex(bkey)
	mu := idx.shardFor(bucketIdx)
	mu.Lock()
	defer mu.Unlock()

	block := idx.getBlock(bucketIdx, bkey, false)
	if block == nil {
		return nil, cmn.NewError(cmn.ErrNotFound, "block not indexed")
	}

	var out cmn.SmallVec[*SliceEntry]
	node := block.slices.findGE(rng.Offset)
	var predecessor *slNode
	if node != nil {
		predecessor = prevOf(node)
	} else {
		predecessor = block.slices.last()
	}

	rngEnd := rng.End()
	if predecessor != nil {
		cur := predecessor.entry
		if cur.SSize.End() > rng.Offset {
			length := min(cur.SSize.End(), rngEnd) - rng.Offset
			out.Append(dup(cur, rng.Offset, length))
		}
	}

	for n := node; n != nil; n = n.next[0] {
		cur := n.entry
		if rngEnd <= cur.SSize.Offset {
			break
		}
		if cur.SSize.End() > rngEnd {
			out.Append(dup(cur, cur.SSize.Offset, rngEnd-cur.SSize.Offset))
		} else {
			cur.RefCount.Inc()
			out.Append(cur)
		}
	}

	if out.Len() == 0 {
		return nil, cmn.NewError(cmn.ErrNotFound, "no slice in range")
	}
	return out.Slice(), nil
}

// FreeSlice releases one reference. It is idempotent against the double
// release case exercised by the testable-properties "idempotent free": once
// the count reaches zero, further calls are no-ops rather than going
// negative or double-freeing the underlying trunk space.
func (idx *Index) FreeSlice(s *SliceEntry) {
	for {
		cur := s.RefCount.Load()
		if cur <= 0 {
			return
		}
		if s.RefCount.CAS(cur, cur-1) {
			return
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
