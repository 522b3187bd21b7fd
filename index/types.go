// Package index implements the object-block slice index: an in-memory,
// sharded hashtable mapping (object-id, aligned-offset) blocks to the
// ordered set of slices currently valid within them. Grounded on
// original_source/src/server/storage/object_block_index.c.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package index

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"go.uber.org/atomic"
)

// BlockSize is the fixed logical addressing unit every BlockKey.Offset must
// be a multiple of (spec §3, BlockKey).
const BlockSize = 4 * 1024 * 1024

// BlockKey is the (oid, aligned-offset) pair identifying a block.
type BlockKey struct {
	OID    uint64
	Offset uint64 // multiple of BlockSize
}

// HashCode is the bucket-selecting hash named in spec §3: an xxhash of the
// (oid, block-index-within-object) pair, fanning blocks out evenly across
// both the index's hashtable buckets and, via the same value handed to
// fs.Manager.Alloc, the trunk allocator's hash-start scan (spec §4.B).
func (k BlockKey) HashCode() uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], k.OID)
	binary.LittleEndian.PutUint64(buf[8:], k.Offset/BlockSize)
	return xxhash.Checksum64(buf[:])
}

func (k BlockKey) Less(o BlockKey) bool {
	if k.OID != o.OID {
		return k.OID < o.OID
	}
	return k.Offset < o.Offset
}

// SliceSize is a contiguous byte range within a block: Offset+Length <=
// BlockSize (invariant checked by Index.AddSlice's caller, not here - the
// index trusts its caller the way the original trusts its RPC layer).
type SliceSize struct {
	Offset int
	Length int
}

func (s SliceSize) End() int { return s.Offset + s.Length }

// TrunkSpace is the physical extent a slice is stored at - opaque to the
// index itself, just carried through to the trunk allocator on every
// mutation (spec invariant I3).
type TrunkSpace struct {
	PathIndex int
	TrunkID   uint64
	Subdir    uint32
	Offset    int64
	Size      int64
}

// SliceEntry is a reference-counted record of one physical slice. Entries
// returned by Index.GetSlices for the first/last overlapping slice in a
// range are trimmed duplicates: same Space, narrowed SliceSize, RefCount
// reset to 1, and never linked into any block's skiplist (spec §4.D).
type SliceEntry struct {
	Block    BlockKey
	SSize    SliceSize
	Space    TrunkSpace
	RefCount atomic.Int32
}

func newSliceEntry(block BlockKey, ssize SliceSize, space TrunkSpace) *SliceEntry {
	e := &SliceEntry{Block: block, SSize: ssize, Space: space}
	e.RefCount.Store(1)
	return e
}

// dup produces a trimmed, freshly-identified read-only view of src, per the
// read path's splice_dup/dup_slice_to_array.
func dup(src *SliceEntry, offset, length int) *SliceEntry {
	return newSliceEntry(src.Block, SliceSize{Offset: offset, Length: length}, src.Space)
}

// BlockEntry owns the ordered set of slices currently valid within one
// block. Blocks live in a closed-addressing hashtable bucket chain ordered
// by BlockKey (see Index.getBlock in index.go).
type BlockEntry struct {
	BKey   BlockKey
	slices *skiplist
	next   *BlockEntry // next block in this bucket's chain
}

// SliceAllocator is the trunk-space counterpart every slice mutation must be
// mirrored to, keeping the index and the trunk allocator's accounting in
// sync (invariant I3). fs.Allocator implements this.
type SliceAllocator interface {
	AddSlice(s *SliceEntry) error
	DeleteSlice(s *SliceEntry) error
}
