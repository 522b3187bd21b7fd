package fs

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/hanyunqi/faststore/cmn"
)

// StorePath is one configured [store-path-N] or [write-cache-path-N]
// section, tracking the info the allocator manager needs to decide
// availability (spec §4.C "avail subset").
type StorePath struct {
	Index         int
	Root          string
	WriteThreads  int
	ReadThreads   int
	PreallocTarget int
	ReservedSpace  float64

	degraded bool // set by markDegraded on a severe IsIOError
}

func (p *StorePath) markDegraded() { p.degraded = true }
func (p *StorePath) Degraded() bool { return p.degraded }

// TrunkPath composes the on-disk path for a trunk file:
// <store-path>/<subdir>/<id>  (spec §6 layout table).
func TrunkPath(root string, id TrunkID) string {
	return filepath.Join(root, fmt.Sprintf("%d", id.Subdir), fmt.Sprintf("%d", id.ID))
}

// NextSubdir rolls allocation into the next numeric subdir bucket once the
// current one holds maxPerSubdir trunk files (spec §6
// max_trunk_files_per_subdir).
func NextSubdir(current uint32, countInSubdir, maxPerSubdir int) uint32 {
	if countInSubdir >= maxPerSubdir {
		return current + 1
	}
	return current
}

// statvfsAvailRatio returns the fraction of root's filesystem currently
// used, for the reserved-space availability check (spec §4.C).
func statvfsAvailRatio(root string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(root, &st); err != nil {
		return 0, cmn.WrapError(cmn.ErrIO, "statvfs "+root, err)
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := st.Bfree * uint64(st.Bsize)
	used := total - free
	return float64(used) / float64(total), nil
}
