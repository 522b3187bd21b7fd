package fs

import (
	"sync"
	"time"

	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/config"
	"github.com/hanyunqi/faststore/index"
	"github.com/hanyunqi/faststore/stats"
)

// AllocatorContext is one of the manager's two allocator pools - write_cache
// or store_path - tracking every configured allocator (All) alongside the
// subset currently eligible for new allocations (Avail), per spec §4.C.
type AllocatorContext struct {
	All   []*Allocator
	Avail []*Allocator
}

func (c *AllocatorContext) refreshAvailLocked(reservedRatio float64) {
	c.Avail = c.Avail[:0]
	for _, a := range c.All {
		if a.Path.Degraded() {
			continue
		}
		ratio, err := statvfsAvailRatio(a.Path.Root)
		if err != nil {
			continue
		}
		if ratio >= 1-reservedRatio {
			continue
		}
		c.Avail = append(c.Avail, a)
	}
}

// Manager is the storage allocator manager (spec §4.C): it owns both the
// write_cache and store_path allocator contexts, decides which one is
// current, and dispatches slice deletes straight to the owning allocator by
// path index without the caller needing to know which context that path
// lives in.
type Manager struct {
	cfg *config.SystemConfig

	mu         sync.Mutex
	writeCache *AllocatorContext
	storePath  *AllocatorContext
	current    *AllocatorContext

	byPathIndex map[int]*Allocator
}

// NewManager builds every configured allocator. Path indices come from
// pathIndex (persistent across restarts - spec §6's "storage/
// store_path.index") rather than a sequential in-memory counter, so a
// trunk's PathIndex recorded in the object-block index or a binlog record
// keeps meaning the same physical path even if storage.conf later lists
// its paths in a different order.
func NewManager(cfg *config.SystemConfig, registry *Registry, pathIndex *PathIndexStore, metrics *stats.Registry) (*Manager, error) {
	m := &Manager{
		cfg:         cfg,
		writeCache:  &AllocatorContext{},
		storePath:   &AllocatorContext{},
		byPathIndex: map[int]*Allocator{},
	}
	for _, pc := range cfg.WriteCachePaths {
		idx, err := pathIndex.Resolve(pc.Path)
		if err != nil {
			return nil, err
		}
		a := m.newAllocatorFor(pc, idx, registry, metrics)
		m.writeCache.All = append(m.writeCache.All, a)
		m.byPathIndex[idx] = a
	}
	for _, pc := range cfg.StorePaths {
		idx, err := pathIndex.Resolve(pc.Path)
		if err != nil {
			return nil, err
		}
		a := m.newAllocatorFor(pc, idx, registry, metrics)
		m.storePath.All = append(m.storePath.All, a)
		m.byPathIndex[idx] = a
	}
	m.current = m.storePath
	m.RefreshAvail()
	return m, nil
}

func (m *Manager) newAllocatorFor(pc config.PathConfig, pathIndex int, registry *Registry, metrics *stats.Registry) *Allocator {
	sp := &StorePath{
		Index:          pathIndex,
		Root:           pc.Path,
		WriteThreads:   pc.WriteThreads,
		ReadThreads:    pc.ReadThreads,
		PreallocTarget: pc.PreallocTrunks,
		ReservedSpace:  pc.ReservedSpace,
	}
	return NewAllocator(pathIndex, sp, registry, metrics, m.cfg.DiscardRemainSpaceSize, m.cfg.ReclaimTrunksOnUsage, m.cfg.TrunkFileSize, m.cfg.MaxTrunkFilesPerSubdir)
}

// RefreshAvail recomputes each context's avail subset, excluding any path
// currently over its reserved-space threshold or marked degraded. Called
// periodically by the owning server loop, not on every allocation.
func (m *Manager) RefreshAvail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCache.refreshAvailLocked(m.cfg.ReservedSpacePerDisk)
	m.storePath.refreshAvailLocked(m.cfg.ReservedSpacePerDisk)
}

// SelectCurrent flips current to write_cache during the configured flush
// window provided overall write_cache usage is still below
// write_cache_to_hd.on_usage; otherwise store_path serves new allocations
// (spec §4.C).
func (m *Manager) SelectCurrent(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.WithinFlushWindow(now) && m.overallUsageLocked(m.writeCache) < m.cfg.WriteCacheToHDOnUsage {
		m.current = m.writeCache
		return
	}
	m.current = m.storePath
}

func (m *Manager) overallUsageLocked(ctx *AllocatorContext) float64 {
	if len(ctx.All) == 0 {
		return 0
	}
	var sum float64
	for _, a := range ctx.All {
		sum += a.UsageRatio()
	}
	return sum / float64(len(ctx.All))
}

// Alloc picks an allocator from the current context's avail subset by
// blockHash and carves size bytes from it, using reclaim-mode allocation
// once that allocator's usage has crossed reclaim_trunks_on_usage. Returns
// OUT_OF_SPACE when the current context has no available allocator at all
// (spec §4.C).
func (m *Manager) Alloc(blockHash uint64, size int64) (index.TrunkSpace, error) {
	m.mu.Lock()
	ctx := m.current
	m.mu.Unlock()

	if len(ctx.Avail) == 0 {
		return index.TrunkSpace{}, cmn.NewError(cmn.ErrOutOfSpace, "no available store path")
	}
	start := int(blockHash % uint64(len(ctx.Avail)))
	for i := 0; i < len(ctx.Avail); i++ {
		a := ctx.Avail[(start+i)%len(ctx.Avail)]
		var space index.TrunkSpace
		var err error
		if a.UsageRatio() >= m.cfg.ReclaimTrunksOnUsage {
			space, err = a.ReclaimAlloc(blockHash, size)
			if err != nil {
				space, err = a.NormalAlloc(blockHash, size)
			}
		} else {
			space, err = a.NormalAlloc(blockHash, size)
		}
		if err == nil {
			return space, nil
		}
	}
	return index.TrunkSpace{}, cmn.NewError(cmn.ErrOutOfSpace, "no allocator has sufficient free space")
}

// AddSlice and DeleteSlice implement index.SliceAllocator by dispatching to
// the owning allocator via PathIndex - the allocator_ptr_array lookup named
// in spec §4.C, keeping delete dispatch independent of which context a path
// currently lives in.
func (m *Manager) AddSlice(s *index.SliceEntry) error {
	a := m.ownerOf(s.Space.PathIndex)
	if a == nil {
		return cmn.NewError(cmn.ErrNotFound, "slice references an unknown store path")
	}
	return a.AddSlice(s)
}

func (m *Manager) DeleteSlice(s *index.SliceEntry) error {
	a := m.ownerOf(s.Space.PathIndex)
	if a == nil {
		return cmn.NewError(cmn.ErrNotFound, "slice references an unknown store path")
	}
	return a.DeleteSlice(s)
}

func (m *Manager) ownerOf(pathIndex int) *Allocator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPathIndex[pathIndex]
}

// AllocatorFor exposes the allocator owning a given path index, for the
// preallocator goroutine and admin tooling.
func (m *Manager) AllocatorFor(pathIndex int) *Allocator {
	return m.ownerOf(pathIndex)
}

// AllAllocators returns every allocator across both contexts, for the
// preallocator to range over.
func (m *Manager) AllAllocators() []*Allocator {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Allocator, 0, len(m.writeCache.All)+len(m.storePath.All))
	out = append(out, m.writeCache.All...)
	out = append(out, m.storePath.All...)
	return out
}
