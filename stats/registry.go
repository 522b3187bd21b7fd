package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the process-wide set of prometheus collectors for the
// storage kernel. One Registry is created per server process and handed
// down to fs, binlog, repl and topology, the way the teacher's Trunner
// hands its Core down to every xaction that reports through it.
type Registry struct {
	reg *prometheus.Registry

	TrunksOpen       *prometheus.GaugeVec
	TrunksFull       *prometheus.GaugeVec
	AllocBytes       *prometheus.CounterVec
	AllocFailures    *prometheus.CounterVec
	ReclaimedBytes   prometheus.Counter
	BinlogAppends    *prometheus.CounterVec
	BinlogBytes      *prometheus.CounterVec
	BinlogRotations  *prometheus.CounterVec
	ReplLag          *prometheus.GaugeVec
	ReplPushFailures *prometheus.CounterVec
	ReplAcksTimedOut prometheus.Counter
	TopologyPushes   *prometheus.CounterVec
}

const namespace = "faststore"

// NewRegistry builds and registers every collector against a fresh
// prometheus.Registry - callers that want the default global registry
// instead can pass prometheus.DefaultRegisterer's underlying registry, but
// a private one keeps tests hermetic.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TrunksOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trunks_open", Help: "Open trunk files per store path.",
		}, []string{"path"}),
		TrunksFull: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trunks_full", Help: "Full trunk files per store path.",
		}, []string{"path"}),
		AllocBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alloc_bytes_total", Help: "Bytes allocated from trunk space.",
		}, []string{"path", "mode"}),
		AllocFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alloc_failures_total", Help: "Failed allocation attempts.",
		}, []string{"reason"}),
		ReclaimedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reclaimed_bytes_total", Help: "Bytes reclaimed by trunk compaction.",
		}),
		BinlogAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "binlog_appends_total", Help: "Records appended to binlog files.",
		}, []string{"subdir", "op"}),
		BinlogBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "binlog_bytes_total", Help: "Bytes appended to binlog files.",
		}, []string{"subdir"}),
		BinlogRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "binlog_rotations_total", Help: "Binlog file rotations.",
		}, []string{"subdir"}),
		ReplLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "repl_lag_versions", Help: "data_version gap between leader and this channel's last acked version.",
		}, []string{"peer", "channel"}),
		ReplPushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "repl_push_failures_total", Help: "Replication push RPCs that failed or timed out.",
		}, []string{"peer", "reason"}),
		ReplAcksTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "repl_acks_timed_out_total", Help: "Push results swept out by expiry before an ack arrived.",
		}),
		TopologyPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "topology_pushes_total", Help: "PUSH_DATA_SERVER_STATUS batches sent.",
		}, []string{"peer"}),
	}
	reg.MustRegister(
		r.TrunksOpen, r.TrunksFull, r.AllocBytes, r.AllocFailures, r.ReclaimedBytes,
		r.BinlogAppends, r.BinlogBytes, r.BinlogRotations,
		r.ReplLag, r.ReplPushFailures, r.ReplAcksTimedOut, r.TopologyPushes,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP /metrics
// handler - left to cmd/storenode to wire up, since this package has no
// opinion about transport.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Snapshot is a point-in-time, JSON-friendly view of the counters most
// useful for a log line or the admin CLI's `storectl status` - grounded
// on the teacher's BaseXactStats, which plays the same role (a flat,
// serializable summary pulled out of live counters) for a running
// transaction.
type Snapshot struct {
	TakenAt       time.Time        `json:"taken_at"`
	TrunksOpen    map[string]int   `json:"trunks_open"`
	TrunksFull    map[string]int   `json:"trunks_full"`
	AllocFailures int64            `json:"alloc_failures"`
	ReclaimedMB   float64          `json:"reclaimed_mb"`
	ReplLag       map[string]int64 `json:"repl_lag"`
}
