package fs

import (
	"os"
	"sync"

	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/index"
	"github.com/hanyunqi/faststore/stats"
	"go.uber.org/atomic"
)

type extentKey struct {
	trunkID uint64
	offset  int64
}

// Allocator is the per-store-path trunk allocator (spec §4.B). Exactly one
// goroutine at a time mutates its trunk sets - all state transitions are
// single-threaded per allocator, guarded by mu.
type Allocator struct {
	PathIndex int
	Path      *StorePath
	registry  *Registry
	metrics   *stats.Registry

	discardRemainSize int64
	reclaimOnUsage    float64
	trunkFileSize     int64
	maxPerSubdir      int

	mu          sync.Mutex
	open        []*TrunkFileInfo // accepting new slices
	full        []*TrunkFileInfo
	reclaiming  []*TrunkFileInfo
	bySubdirCnt map[uint32]int
	curSubdir   uint32
	nextID      atomic.Uint64

	// extentRefs tracks how many indexed SliceEntry views currently
	// reference each physical (trunk, offset) extent so UsedBytes is
	// charged exactly once per extent no matter how many trimmed views of
	// it the object-block index hands out (spec invariant I2; see
	// DESIGN.md for why this differs from a literal per-SliceEntry sum).
	extentRefs map[extentKey]int
}

func NewAllocator(pathIndex int, path *StorePath, registry *Registry, metrics *stats.Registry, discardRemainSize int64, reclaimOnUsage float64, trunkFileSize int64, maxPerSubdir int) *Allocator {
	return &Allocator{
		PathIndex:         pathIndex,
		Path:              path,
		registry:          registry,
		metrics:           metrics,
		discardRemainSize: discardRemainSize,
		reclaimOnUsage:    reclaimOnUsage,
		trunkFileSize:     trunkFileSize,
		maxPerSubdir:      maxPerSubdir,
		bySubdirCnt:       map[uint32]int{},
		extentRefs:        map[extentKey]int{},
	}
}

// observeTrunkCountsLocked refreshes the open/full trunk gauges for this
// allocator's path - called after every transition that can change either
// set's size, under a.mu.
func (a *Allocator) observeTrunkCountsLocked() {
	if a.metrics == nil {
		return
	}
	a.metrics.TrunksOpen.WithLabelValues(a.Path.Root).Set(float64(len(a.open)))
	a.metrics.TrunksFull.WithLabelValues(a.Path.Root).Set(float64(len(a.full)))
}

// CreateTrunk reserves a new trunk id in the registry, sizes the backing
// file, and marks it open - rolling the reservation back on any failure
// along the way (spec §4.B creation ordering).
func (a *Allocator) CreateTrunk(size int64) (*TrunkFileInfo, error) {
	a.mu.Lock()
	subdir := NextSubdir(a.curSubdir, a.bySubdirCnt[a.curSubdir], a.maxPerSubdir)
	a.curSubdir = subdir
	id := TrunkID{Subdir: subdir, ID: a.nextID.Inc()}
	a.mu.Unlock()

	if err := a.registry.Add(a.PathIndex, id); err != nil {
		return nil, err
	}

	path := TrunkPath(a.Path.Root, id)
	if err := allocateTrunkFile(path, size); err != nil {
		_ = a.registry.Delete(a.PathIndex, id) // roll back the reservation
		if cmn.IsIOError(err) {
			a.Path.markDegraded()
		}
		if a.metrics != nil {
			a.metrics.AllocFailures.WithLabelValues("create_trunk").Inc()
		}
		return nil, cmn.WrapError(cmn.ErrIO, "create trunk file", err)
	}

	tf := newTrunkFileInfo(a.PathIndex, id, size)
	a.mu.Lock()
	a.open = append(a.open, tf)
	a.bySubdirCnt[subdir]++
	a.observeTrunkCountsLocked()
	a.mu.Unlock()
	return tf, nil
}

func allocateTrunkFile(path string, size int64) error {
	if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return fallocate(f, size)
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

// OpenTrunkCount reports the number of trunks currently accepting new
// slices, the signal the background preallocator watches.
func (a *Allocator) OpenTrunkCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// NormalAlloc carves size bytes out of an open trunk, picking by hash for
// locality but scanning the rest of the open set if the hashed trunk lacks
// room (spec §4.B "Normal allocation").
func (a *Allocator) NormalAlloc(blockHash uint64, size int64) (index.TrunkSpace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocFrom(a.open, blockHash, size, "normal")
}

// ReclaimAlloc is identical except it only draws from trunks already in the
// reclaiming state (spec §4.B "Reclaim allocation").
func (a *Allocator) ReclaimAlloc(blockHash uint64, size int64) (index.TrunkSpace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocFrom(a.reclaiming, blockHash, size, "reclaim")
}

func (a *Allocator) allocFrom(set []*TrunkFileInfo, blockHash uint64, size int64, mode string) (index.TrunkSpace, error) {
	n := len(set)
	if n == 0 {
		if a.metrics != nil {
			a.metrics.AllocFailures.WithLabelValues("no_trunk_available").Inc()
		}
		return index.TrunkSpace{}, cmn.NewError(cmn.ErrOutOfSpace, "no trunk available")
	}
	start := int(blockHash % uint64(n))
	for i := 0; i < n; i++ {
		t := set[(start+i)%n]
		if t.Free.Size >= size {
			space := index.TrunkSpace{
				PathIndex: a.PathIndex,
				TrunkID:   t.ID.ID,
				Subdir:    t.ID.Subdir,
				Offset:    t.Free.Offset,
				Size:      size,
			}
			t.Free.Offset += size
			t.Free.Size -= size
			a.discardIfBelowThresholdLocked(t)
			if a.metrics != nil {
				a.metrics.AllocBytes.WithLabelValues(a.Path.Root, mode).Add(float64(size))
			}
			return space, nil
		}
	}
	if a.metrics != nil {
		a.metrics.AllocFailures.WithLabelValues("no_space_in_set").Inc()
	}
	return index.TrunkSpace{}, cmn.NewError(cmn.ErrOutOfSpace, "no trunk has enough free space")
}

// discardIfBelowThresholdLocked drops a head-free remainder too small to
// ever satisfy another allocation (spec §4.B, clamped
// [256 B, 256 KiB]) and transitions the trunk to full if it no longer has a
// usable free extent.
func (a *Allocator) discardIfBelowThresholdLocked(t *TrunkFileInfo) {
	if t.Free.Size > 0 && t.Free.Size < a.discardRemainSize {
		t.Free.Size = 0
	}
	if t.Free.Size == 0 {
		a.transitionLocked(t, TrunkFull)
	}
}

func (a *Allocator) transitionLocked(t *TrunkFileInfo, to TrunkState) {
	if t.State == to {
		return
	}
	from := t.State
	a.removeFromSetLocked(t, from)
	t.State = to
	switch to {
	case TrunkOpen:
		a.open = append(a.open, t)
	case TrunkFull:
		a.full = append(a.full, t)
	case TrunkReclaiming:
		a.reclaiming = append(a.reclaiming, t)
	}
	a.observeTrunkCountsLocked()
}

func (a *Allocator) removeFromSetLocked(t *TrunkFileInfo, from TrunkState) {
	var set *[]*TrunkFileInfo
	switch from {
	case TrunkOpen:
		set = &a.open
	case TrunkFull:
		set = &a.full
	case TrunkReclaiming:
		set = &a.reclaiming
	}
	if set == nil {
		return
	}
	for i, x := range *set {
		if x == t {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return
		}
	}
}

// AddSlice implements index.SliceAllocator: it charges UsedBytes exactly
// once per distinct physical extent, no matter how many trimmed index
// views of that extent exist (spec invariant I3/I2).
func (a *Allocator) AddSlice(s *index.SliceEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.findTrunkLocked(s.Space.TrunkID)
	if t == nil {
		return cmn.NewError(cmn.ErrNotFound, "slice references an unknown trunk")
	}
	key := extentKey{trunkID: s.Space.TrunkID, offset: s.Space.Offset}
	a.extentRefs[key]++
	if a.extentRefs[key] == 1 {
		t.UsedBytes += s.Space.Size
		if t.UsedBytes >= t.TotalSize {
			a.transitionLocked(t, TrunkFull)
		}
	}
	return nil
}

// DeleteSlice is AddSlice's inverse: once an extent's last reference drops,
// the bytes are released and the trunk is reconsidered for reclaim.
func (a *Allocator) DeleteSlice(s *index.SliceEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.findTrunkLocked(s.Space.TrunkID)
	if t == nil {
		return cmn.NewError(cmn.ErrNotFound, "slice references an unknown trunk")
	}
	key := extentKey{trunkID: s.Space.TrunkID, offset: s.Space.Offset}
	if a.extentRefs[key] == 0 {
		return nil
	}
	a.extentRefs[key]--
	if a.extentRefs[key] == 0 {
		delete(a.extentRefs, key)
		t.UsedBytes -= s.Space.Size
		if a.metrics != nil {
			a.metrics.ReclaimedBytes.Add(float64(s.Space.Size))
		}
		if t.State != TrunkReclaiming && t.usageRatio() < a.reclaimOnUsage {
			a.transitionLocked(t, TrunkReclaiming)
		}
	}
	return nil
}

func (a *Allocator) findTrunkLocked(trunkID uint64) *TrunkFileInfo {
	for _, set := range [][]*TrunkFileInfo{a.open, a.full, a.reclaiming} {
		for _, t := range set {
			if t.ID.ID == trunkID {
				return t
			}
		}
	}
	return nil
}

// UsageRatio is the allocator's overall used/total ratio across every
// trunk, the signal the storage allocator manager compares against
// reclaim_trunks_on_usage to decide whether to allocate in reclaim mode.
func (a *Allocator) UsageRatio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var used, total int64
	for _, set := range [][]*TrunkFileInfo{a.open, a.full, a.reclaiming} {
		for _, t := range set {
			used += t.UsedBytes
			total += t.TotalSize
		}
	}
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}
