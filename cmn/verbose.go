package cmn

import "github.com/golang/glog"

// Smodule tags a log line with the subsystem that produced it, the way the
// teacher's glog fork gates per-subsystem verbosity (glog.SmoduleReb,
// glog.SmoduleTransport). Upstream glog has no such concept, so we keep the
// gate here and delegate the actual write to glog.V/Infof.
type Smodule int

const (
	SmoduleTrunk Smodule = iota
	SmoduleIndex
	SmoduleBinlog
	SmoduleRepl
	SmoduleTopology
	SmoduleConfig
)

// perModuleVerbosity lets an operator dial up tracing for one subsystem
// (e.g. the skiplist walk in the slice index) without the global -v flag
// flooding every log with replication heartbeat noise.
var perModuleVerbosity = map[Smodule]glog.Level{}

func SetModuleVerbosity(m Smodule, level glog.Level) {
	perModuleVerbosity[m] = level
}

// FastV reports whether a log statement at the given level for the given
// module should fire, without paying glog.V's allocation when it's a no-op.
func FastV(level glog.Level, m Smodule) bool {
	if lvl, ok := perModuleVerbosity[m]; ok {
		return level <= lvl
	}
	return bool(glog.V(level))
}
