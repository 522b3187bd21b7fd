package repl

import (
	"container/list"
	"sync"
	"time"

	"github.com/hanyunqi/faststore/stats"
)

// RPCEntry is one unit of replicated work a master-side thread pushes into
// a channel's RPCQueue (spec §4.F "ReplicationRPCEntry").
type RPCEntry struct {
	DataVersion uint64
	Record      []byte // pre-serialized binlog record
	WaitingTask chan AckResult
	Expires     time.Time
}

// AckResult is what a waiting task is notified with once its entry's
// version has been acked or timed out.
type AckResult struct {
	Version uint64
	ErrNo   int32
	TimedOut bool
}

// pushResultEntry mirrors FSBinlogPushResultEntry: the bookkeeping needed
// to match an incoming ack to the task that's waiting on it.
type pushResultEntry struct {
	version     uint64
	waitingTask chan AckResult
	expires     time.Time
}

// PushResultRing is the per-channel "entries pushed, awaiting ack"
// structure: a ring buffer keyed by version mod size for the common case,
// with overflow spilling into a linked list the way
// replication_common.c's push_result_ctx does for bursty traffic (spec
// §4.F).
type PushResultRing struct {
	mu       sync.Mutex
	ring     []*pushResultEntry
	overflow *list.List
	metrics  *stats.Registry
}

func NewPushResultRing(size int, metrics *stats.Registry) *PushResultRing {
	return &PushResultRing{
		ring:     make([]*pushResultEntry, size),
		overflow: list.New(),
		metrics:  metrics,
	}
}

// Push records a newly-submitted entry awaiting ack. Versions are expected
// to grow monotonically; a collision in the ring slot (an older, unacked
// entry still occupying it) spills the new entry into the overflow list
// rather than clobbering the old one.
func (r *PushResultRing) Push(e RPCEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pe := &pushResultEntry{version: e.DataVersion, waitingTask: e.WaitingTask, expires: e.Expires}
	slot := int(e.DataVersion) % len(r.ring)
	if len(r.ring) == 0 || r.ring[slot] != nil {
		r.overflow.PushBack(pe)
		return
	}
	r.ring[slot] = pe
}

// Ack notifies every tracked entry with data_version <= acked and removes
// them, the way replication_common.c's ack handler matches a cumulative
// acknowledgment against everything still outstanding.
func (r *PushResultRing) Ack(acked uint64, errNo int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, pe := range r.ring {
		if pe != nil && pe.version <= acked {
			notify(pe, AckResult{Version: pe.version, ErrNo: errNo})
			r.ring[i] = nil
		}
	}
	for e := r.overflow.Front(); e != nil; {
		next := e.Next()
		pe := e.Value.(*pushResultEntry)
		if pe.version <= acked {
			notify(pe, AckResult{Version: pe.version, ErrNo: errNo})
			r.overflow.Remove(e)
		}
		e = next
	}
}

// SweepExpired times out every entry whose expires has passed, notifying
// its waiting task with TimedOut so callers don't block forever on a peer
// that stopped acking without closing the connection.
func (r *PushResultRing) SweepExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, pe := range r.ring {
		if pe != nil && now.After(pe.expires) {
			notify(pe, AckResult{Version: pe.version, TimedOut: true})
			r.ring[i] = nil
			if r.metrics != nil {
				r.metrics.ReplAcksTimedOut.Inc()
			}
		}
	}
	for e := r.overflow.Front(); e != nil; {
		next := e.Next()
		pe := e.Value.(*pushResultEntry)
		if now.After(pe.expires) {
			notify(pe, AckResult{Version: pe.version, TimedOut: true})
			r.overflow.Remove(e)
			if r.metrics != nil {
				r.metrics.ReplAcksTimedOut.Inc()
			}
		}
		e = next
	}
}

func notify(pe *pushResultEntry, res AckResult) {
	if pe.waitingTask == nil {
		return
	}
	select {
	case pe.waitingTask <- res:
	default:
	}
}
