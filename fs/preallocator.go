package fs

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/hanyunqi/faststore/cmn"
)

// Preallocator is the background trunk-creation loop: per store path, it
// keeps the open-trunk count at or above that path's configured
// prealloc_trunks so writers never block waiting on fallocate (spec §4.B
// "preallocation keeps writers from blocking on file creation").
type Preallocator struct {
	manager *Manager
	target  func(*Allocator) int
	period  time.Duration
}

func NewPreallocator(manager *Manager, period time.Duration) *Preallocator {
	return &Preallocator{
		manager: manager,
		target:  func(a *Allocator) int { return a.Path.PreallocTarget },
		period:  period,
	}
}

// Run blocks, topping up every allocator's open-trunk count once per
// period, until ctx is cancelled.
func (p *Preallocator) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Preallocator) tick() {
	for _, a := range p.manager.AllAllocators() {
		want := p.target(a)
		for a.OpenTrunkCount() < want {
			if _, err := a.CreateTrunk(a.trunkFileSize); err != nil {
				if cmn.FastV(1, cmn.SmoduleTrunk) {
					glog.Errorf("preallocator: create trunk on path %d: %v", a.PathIndex, err)
				}
				break
			}
		}
	}
}
