// Package transport implements the wire framing and connection-lifecycle
// plumbing the replication pipeline (spec §4.F) runs its RPCs over.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"container/heap"
	"time"

	"github.com/golang/glog"
	"github.com/hanyunqi/faststore/cmn"
)

const tickUnit = time.Second

// Idler is anything the Collector watches for inactivity: a replication
// channel that has gone quiet past its idle timeout gets torn down rather
// than holding a socket open indefinitely (adapted from the teacher's
// per-stream idle timer, here applied to repl.Channel instead of an
// object-stream).
type Idler interface {
	ID() string
	// Active reports whether work was posted to this idler since the last
	// tick; the collector clears this between ticks via ClearActive.
	Active() bool
	ClearActive()
	Terminated() bool
	Deactivate()
}

type idleTime struct {
	ticks   int
	index   int
	idleOut time.Duration
}

type entry struct {
	idler Idler
	time  idleTime
}

type ctrl struct {
	e   *entry
	add bool
}

// Collector is a singleton that ticks every registered Idler down and
// deactivates it once its idle budget is exhausted, the way the teacher's
// stream collector times out quiesced object streams.
type Collector struct {
	stopCh  *cmn.StopCh
	ctrlCh  chan ctrl
	entries map[string]*entry
	heap    []*entry
	ticker  *time.Ticker
}

var gc *Collector

func Init() *Collector {
	cmn.Assert(gc == nil)
	gc = &Collector{
		stopCh:  cmn.NewStopCh(),
		ctrlCh:  make(chan ctrl, 16),
		entries: make(map[string]*entry, 16),
		heap:    make([]*entry, 0, 16),
	}
	heap.Init(gc)
	return gc
}

// Register starts tracking idler with the given idle timeout.
func (gc *Collector) Register(idler Idler, idleOut time.Duration) {
	e := &entry{idler: idler, time: idleTime{ticks: int(idleOut / tickUnit), idleOut: idleOut}}
	gc.ctrlCh <- ctrl{e, true}
}

func (gc *Collector) Remove(idler Idler) {
	if e, ok := gc.entries[idler.ID()]; ok {
		gc.ctrlCh <- ctrl{e, false}
	}
}

func (gc *Collector) Run() {
	gc.ticker = time.NewTicker(tickUnit)
	for {
		select {
		case <-gc.ticker.C:
			gc.do()
		case c, ok := <-gc.ctrlCh:
			if !ok {
				return
			}
			e, add := c.e, c.add
			_, exists := gc.entries[e.idler.ID()]
			if add {
				cmn.AssertMsg(!exists, e.idler.ID())
				gc.entries[e.idler.ID()] = e
				heap.Push(gc, e)
			} else if exists {
				heap.Remove(gc, e.time.index)
				delete(gc.entries, e.idler.ID())
			}
		case <-gc.stopCh.Listen():
			gc.entries = nil
			return
		}
	}
}

func (gc *Collector) Stop() { gc.stopCh.Close() }

// heap.Interface, sorted by soonest-to-expire.
func (gc *Collector) Len() int { return len(gc.heap) }
func (gc *Collector) Less(i, j int) bool {
	return gc.heap[i].time.ticks < gc.heap[j].time.ticks
}
func (gc *Collector) Swap(i, j int) {
	gc.heap[i], gc.heap[j] = gc.heap[j], gc.heap[i]
	gc.heap[i].time.index = i
	gc.heap[j].time.index = j
}
func (gc *Collector) Push(x interface{}) {
	e := x.(*entry)
	e.time.index = len(gc.heap)
	gc.heap = append(gc.heap, e)
	heap.Fix(gc, e.time.index)
}
func (gc *Collector) Pop() interface{} {
	old := gc.heap
	n := len(old)
	e := old[n-1]
	gc.heap = old[:n-1]
	return e
}

func (gc *Collector) update(e *entry, ticks int) {
	e.time.ticks = ticks
	cmn.Assert(e.time.ticks >= 0)
	heap.Fix(gc, e.time.index)
}

func (gc *Collector) do() {
	for id, e := range gc.entries {
		if e.idler.Terminated() {
			delete(gc.entries, id)
			continue
		}
		if e.idler.Active() {
			e.idler.ClearActive()
			gc.update(e, int(e.time.idleOut/tickUnit))
			continue
		}
		gc.update(e, e.time.ticks-1)
		if e.time.ticks <= 0 {
			if glog.V(2) {
				glog.Infof("transport: idler %s timed out, deactivating", id)
			}
			e.idler.Deactivate()
			delete(gc.entries, id)
		}
	}
}
