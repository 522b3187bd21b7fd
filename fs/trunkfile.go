package fs

// TrunkState is one of the three states a trunk file cycles through (spec
// §3 TrunkFileInfo / §4.B transitions).
type TrunkState int

const (
	TrunkOpen TrunkState = iota
	TrunkFull
	TrunkReclaiming
)

func (s TrunkState) String() string {
	switch s {
	case TrunkOpen:
		return "open"
	case TrunkFull:
		return "full"
	case TrunkReclaiming:
		return "reclaiming"
	default:
		return "unknown"
	}
}

// FreeExtent is the single still-usable, not-yet-allocated region at the
// head of a trunk file. Sub-discard_remain_space_size remainders are never
// tracked here (spec §4.B "do not track sub-threshold fragments") - they
// simply become permanent slack, which is why invariant I2 is an
// inequality rather than an equality.
type FreeExtent struct {
	Offset int64
	Size   int64
}

// TrunkFileInfo is the per-trunk-file bookkeeping record a TrunkAllocator
// owns exclusively (spec §3).
type TrunkFileInfo struct {
	ID        TrunkID
	PathIndex int
	TotalSize int64
	UsedBytes int64
	Free      FreeExtent // head-free region; Size == 0 once exhausted/discarded
	State     TrunkState
}

func newTrunkFileInfo(pathIndex int, id TrunkID, totalSize int64) *TrunkFileInfo {
	return &TrunkFileInfo{
		ID:        id,
		PathIndex: pathIndex,
		TotalSize: totalSize,
		Free:      FreeExtent{Offset: 0, Size: totalSize},
		State:     TrunkOpen,
	}
}

// usageRatio is UsedBytes/TotalSize, used for reclaim-candidate selection
// in Allocator.DeleteSlice.
func (t *TrunkFileInfo) usageRatio() float64 {
	if t.TotalSize == 0 {
		return 0
	}
	return float64(t.UsedBytes) / float64(t.TotalSize)
}
