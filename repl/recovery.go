package repl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hanyunqi/faststore/binlog"
	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/stats"
)

// recoveryBinlogSubdirName is FS_RECOVERY_BINLOG_SUBDIR_NAME.
const recoveryBinlogSubdirName = "recovery"

// RecoveryContext stages a data group's catch-up binlog under
// `recovery/<data-group-id>/...` (spec §6) while a follower performs a
// full resync from its master, so a crash mid-resync leaves the live
// binlog untouched - only the scratch copy is lost and resync restarts
// cleanly. Grounded on
// original_source/src/server/recovery/data_recovery.h's DataRecoveryContext.
type RecoveryContext struct {
	DataGroupID int
	dir         string
	metrics     *stats.Registry
}

// NewRecoveryContext creates (if needed) and returns the scratch directory
// for dataGroupID under baseDir/recovery/<data-group-id>.
func NewRecoveryContext(baseDir string, dataGroupID int, metrics *stats.Registry) (*RecoveryContext, error) {
	dir := filepath.Join(baseDir, recoveryBinlogSubdirName, fmt.Sprintf("%d", dataGroupID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cmn.WrapError(cmn.ErrIO, "create recovery scratch dir", err)
	}
	return &RecoveryContext{DataGroupID: dataGroupID, dir: dir, metrics: metrics}, nil
}

// SubdirPath composes the scratch path for one subdir of this data
// group's recovery binlog - data_recovery_get_subdir_name's Go equivalent.
func (c *RecoveryContext) SubdirPath(subdir string) string {
	return filepath.Join(c.dir, subdir)
}

// ScratchWriter opens (creating if absent) a binlog.Writer rooted at this
// data group's scratch directory for subdir, used to stage records pushed
// by the master during full resync before they're validated and applied
// to the live index (spec §4.F catch-up).
func (c *RecoveryContext) ScratchWriter(subdir string, maxSize int64, ringSize uint64) (*binlog.Writer, error) {
	return binlog.NewWriter(c.SubdirPath(subdir), maxSize, binlog.OrderByVersion, ringSize, c.metrics)
}

// Discard removes every staged record for subdir once resync has either
// completed (records were applied straight from the scratch copy and are
// no longer needed) or been abandoned in favor of retrying from scratch.
func (c *RecoveryContext) Discard(subdir string) error {
	if err := os.RemoveAll(c.SubdirPath(subdir)); err != nil {
		return cmn.WrapError(cmn.ErrIO, "discard recovery scratch", err)
	}
	return nil
}

// MasterLookup resolves the current master server for a data group -
// data_recovery_get_master's Go equivalent. A follower beginning full
// resync calls this to decide which peer's binlog to stream.
type MasterLookup interface {
	MasterFor(dataGroupID int) (peerID uint64, ok bool)
}
