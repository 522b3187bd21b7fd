package repl

import (
	"github.com/hanyunqi/faststore/binlog"
	"github.com/hanyunqi/faststore/index"
)

// IndexApplier is the Applier a follower's Router drains routed records
// into: it turns a decoded AddSliceBody back into the index.BlockKey/
// SliceSize/TrunkSpace triple the local index and allocator already agree
// on, so a follower's object-block index ends up bit-for-bit the same as
// its master's (spec invariant I5).
type IndexApplier struct {
	Index *index.Index
}

func NewIndexApplier(idx *index.Index) *IndexApplier {
	return &IndexApplier{Index: idx}
}

func (a *IndexApplier) ApplyAddSlice(body binlog.AddSliceBody) error {
	bkey := index.BlockKey{OID: body.OID, Offset: body.BlockOff}
	ssize := index.SliceSize{Offset: body.SliceOff, Length: body.SliceLen}
	space := index.TrunkSpace{
		PathIndex: body.PathIndex,
		TrunkID:   body.TrunkID,
		Subdir:    body.Subdir,
		Offset:    body.Offset,
		Size:      body.Size,
	}
	return a.Index.AddSlice(bkey, ssize, space)
}

func (a *IndexApplier) ApplyDeleteSlice(body binlog.AddSliceBody) error {
	bkey := index.BlockKey{OID: body.OID, Offset: body.BlockOff}
	ssize := index.SliceSize{Offset: body.SliceOff, Length: body.SliceLen}
	return a.Index.DeleteSlice(bkey, ssize)
}

func (a *IndexApplier) ApplyDeleteBlock(oid uint64) error {
	// Router.apply's OpDeleteBlock case passes only the record body's oid
	// (its block_off is decoded but not passed on), so this deletes the
	// block at offset zero. Other blocks of a multi-block object are not
	// touched.
	return a.Index.DeleteBlock(index.BlockKey{OID: oid, Offset: 0})
}
