package repl

import (
	"github.com/hanyunqi/faststore/binlog"
	"github.com/hanyunqi/faststore/cmn"
)

// Applier is the follower-side target a routed record is applied to.
// IndexApplier, the implementation in this package, applies records to the
// local object-block index (and through it the trunk allocator); it does
// not write them to a local binlog.
type Applier interface {
	ApplyAddSlice(body binlog.AddSliceBody) error
	ApplyDeleteSlice(body binlog.AddSliceBody) error
	ApplyDeleteBlock(oid uint64) error
}

// InboundRecord is one record received over a channel, tagged with the
// data-group it belongs to so the router can dispatch it deterministically
// (spec §4.F "routed ... by data_group_id mod data_thread_count").
type InboundRecord struct {
	DataGroupID uint64
	Record      binlog.Record
	Ack         func(errNo int32)
}

// Router fans inbound records out across a fixed pool of data threads, one
// goroutine per thread, so records for a given data-group are always
// applied by the same goroutine and therefore in the order they arrive
// (spec invariant I5).
type Router struct {
	threads []chan InboundRecord
	applier Applier
}

func NewRouter(dataThreadCount int, applier Applier) *Router {
	cmn.Assert(dataThreadCount > 0)
	r := &Router{
		threads: make([]chan InboundRecord, dataThreadCount),
		applier: applier,
	}
	for i := range r.threads {
		r.threads[i] = make(chan InboundRecord, 256)
	}
	return r
}

// Start launches one goroutine per data thread; call once at startup.
func (r *Router) Start() {
	for _, ch := range r.threads {
		go r.drain(ch)
	}
}

// Route enqueues rec onto the data thread owning its data group. Never
// blocks the caller on application - only on a full per-thread queue,
// which is itself the desired backpressure signal to the channel's reader.
func (r *Router) Route(rec InboundRecord) {
	idx := rec.DataGroupID % uint64(len(r.threads))
	r.threads[idx] <- rec
}

func (r *Router) drain(ch chan InboundRecord) {
	for rec := range ch {
		err := r.apply(rec.Record)
		var errNo int32
		if err != nil {
			errNo = errNoFor(err)
		}
		if rec.Ack != nil {
			rec.Ack(errNo)
		}
	}
}

func (r *Router) apply(rec binlog.Record) error {
	switch rec.Op {
	case binlog.OpAddSlice:
		body, err := binlog.DecodeAddSliceBody(rec.Body)
		if err != nil {
			return err
		}
		return r.applier.ApplyAddSlice(body)
	case binlog.OpDeleteSlice:
		body, err := binlog.DecodeAddSliceBody(rec.Body)
		if err != nil {
			return err
		}
		return r.applier.ApplyDeleteSlice(body)
	case binlog.OpDeleteBlock:
		body, err := binlog.DecodeAddSliceBody(rec.Body)
		if err != nil {
			return err
		}
		return r.applier.ApplyDeleteBlock(body.OID)
	default:
		return nil // no-op record, e.g. a heartbeat placeholder
	}
}

func errNoFor(err error) int32 {
	if ce, ok := err.(*cmn.Error); ok {
		return int32(ce.Kind)
	}
	return int32(cmn.ErrIO)
}
