package repl

import (
	"sync"

	"github.com/hanyunqi/faststore/stats"
)

// Registry owns every channel to every peer and is the global lock
// fs_get_idle_replication_by_peer claims an idle channel under, so exactly
// one caller ever wins a given channel's NONE->INITED transition (spec
// §4.F).
type Registry struct {
	selfID  uint64
	metrics *stats.Registry

	mu     sync.Mutex
	byPeer map[uint64][]*Channel
}

func NewRegistry(selfID uint64, metrics *stats.Registry) *Registry {
	return &Registry{selfID: selfID, metrics: metrics, byPeer: map[uint64][]*Channel{}}
}

// EnsurePeer creates ChannelsBetweenTwoServers channels for peerID if none
// exist yet. The channel-index base comes from PairBaseOffset rather than
// LinkIndex: LinkIndex alone is computed relative to each side's own
// exclusion of itself from serverIDs and the two sides' results can
// diverge, whereas PairBaseOffset is a pure function of the unordered pair
// (selfID, peerID) and so both sides always land on the same base (spec
// §4.F "pair_base_offset derived from (min_id, max_id)"). serverIDs is not
// used.
func (r *Registry) EnsurePeer(peerID uint64, serverIDs []uint64) []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chans, ok := r.byPeer[peerID]; ok {
		return chans
	}
	isClient := IsClient(r.selfID, peerID)
	base := PairBaseOffset(r.selfID, peerID, ChannelsBetweenTwoServers)
	chans := make([]*Channel, ChannelsBetweenTwoServers)
	for i := 0; i < ChannelsBetweenTwoServers; i++ {
		chans[i] = NewChannel(peerID, base+i, isClient, 4096, r.metrics)
	}
	r.byPeer[peerID] = chans
	return chans
}

// ClaimIdle scans peerID's channels under the global lock and claims the
// first one still in NONE, returning it and true. Returns false if every
// channel is already in use - the caller should retry on its next cycle,
// not block.
func (r *Registry) ClaimIdle(peerID uint64) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byPeer[peerID] {
		if c.TryClaim() {
			return c, true
		}
	}
	return nil, false
}

// Peers returns every peer currently registered.
func (r *Registry) Peers() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.byPeer))
	for id := range r.byPeer {
		out = append(out, id)
	}
	return out
}

// ChannelsFor returns peerID's channels, or nil if EnsurePeer hasn't been
// called for it yet.
func (r *Registry) ChannelsFor(peerID uint64) []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPeer[peerID]
}

// ChannelByAbsoluteIndex finds the channel among peerID's registered
// channels whose LinkIndex equals absIndex - the accept side's lookup for
// a JOIN request's channel_index, which names the pair's shared absolute
// base-plus-offset rather than a local 0..ChannelsBetweenTwoServers-1 slot.
func (r *Registry) ChannelByAbsoluteIndex(peerID uint64, absIndex int) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byPeer[peerID] {
		if c.LinkIndex == absIndex {
			return c
		}
	}
	return nil
}
