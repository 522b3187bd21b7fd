package repl

import (
	"strconv"
	"time"

	"github.com/hanyunqi/faststore/stats"
	"go.uber.org/atomic"
)

// ChannelsBetweenTwoServers is CHANNELS_BETWEEN_TWO_SERVERS (spec §4.F).
const ChannelsBetweenTwoServers = 2

// ChannelState is one node of the channel state machine (spec §4.F).
type ChannelState int32

const (
	StateNone ChannelState = iota
	StateInited
	StateConnecting
	StateWaitingJoinResp
	StateSyncing
)

func (s ChannelState) String() string {
	switch s {
	case StateInited:
		return "inited"
	case StateConnecting:
		return "connecting"
	case StateWaitingJoinResp:
		return "waiting-join-resp"
	case StateSyncing:
		return "syncing"
	default:
		return "none"
	}
}

// LinkIndex returns the position of peerID within serverIDs once selfID is
// excluded and the array sorted ascending (spec §4.F). It is deterministic
// but local: each side excludes itself, so the two ends of one pair can get
// different values. PairBaseOffset is the pair-symmetric index.
func LinkIndex(selfID uint64, serverIDs []uint64, peerID uint64) int {
	idx := 0
	for _, id := range sortedExcluding(serverIDs, selfID) {
		if id == peerID {
			return idx
		}
		idx++
	}
	return -1
}

func sortedExcluding(ids []uint64, exclude uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// PairBaseOffset derives the channel-index base both (a, b) agree on from
// their ids alone, so channel i on one side always pairs with channel i on
// the other (spec §4.F "pair_base_offset derived from (min_id, max_id)").
func PairBaseOffset(a, b uint64, channelsPerPair int) int {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return int((lo*31+hi)%997) * channelsPerPair
}

// IsClient reports whether selfID is the connection-initiating side of a
// pair - the lower id always is (spec §4.F).
func IsClient(selfID, peerID uint64) bool { return selfID < peerID }

// Channel is one of the ChannelsBetweenTwoServers links to a given peer.
// State transitions happen only on the owning goroutine except for the
// NONE->INITED claim, which is compare-and-swapped under the registry's
// global lock (see Registry.ClaimIdle).
type Channel struct {
	PeerID      uint64
	LinkIndex   int
	IsClient    bool
	state       atomic.Int32
	failCount   atomic.Int32
	nextConnect atomic.Int64 // unix nanos; zero means "no backoff pending"

	active     atomic.Bool
	terminated atomic.Bool

	RPCQueue chan RPCEntry
	Results  *PushResultRing
	metrics  *stats.Registry
}

func NewChannel(peerID uint64, linkIndex int, isClient bool, ringSize int, metrics *stats.Registry) *Channel {
	c := &Channel{
		PeerID:    peerID,
		LinkIndex: linkIndex,
		IsClient:  isClient,
		RPCQueue:  make(chan RPCEntry, 64),
		Results:   NewPushResultRing(ringSize, metrics),
		metrics:   metrics,
	}
	c.state.Store(int32(StateNone))
	return c
}

func (c *Channel) State() ChannelState { return ChannelState(c.state.Load()) }

// TryClaim attempts the NONE->INITED transition, the exactly-once claim
// fs_get_idle_replication_by_peer performs under the global lock.
func (c *Channel) TryClaim() bool {
	return c.state.CAS(int32(StateNone), int32(StateInited))
}

func (c *Channel) SetState(s ChannelState) { c.state.Store(int32(s)) }

// FailAndBackoff resets the channel to NONE and computes the next allowed
// connect time using exponential backoff capped at maxBackoff (spec §4.F
// "next_connect_time with per-channel fail_count").
func (c *Channel) FailAndBackoff(base, maxBackoff time.Duration, now time.Time) {
	n := c.failCount.Inc()
	backoff := base << uint(n-1)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	c.nextConnect.Store(now.Add(backoff).UnixNano())
	c.SetState(StateNone)
	if c.metrics != nil {
		c.metrics.ReplPushFailures.WithLabelValues(channelID(c.PeerID, c.LinkIndex), "connect").Inc()
	}
}

func (c *Channel) ResetBackoff() {
	c.failCount.Store(0)
	c.nextConnect.Store(0)
}

func (c *Channel) ReadyToConnect(now time.Time) bool {
	return now.UnixNano() >= c.nextConnect.Load()
}

// transport.Idler implementation, so the stream collector can time out a
// channel that has gone quiet.
func (c *Channel) ID() string         { return channelID(c.PeerID, c.LinkIndex) }
func (c *Channel) Active() bool       { return c.active.Swap(false) }
func (c *Channel) ClearActive()       { c.active.Store(false) }
func (c *Channel) Terminated() bool   { return c.terminated.Load() }
func (c *Channel) MarkPosted()        { c.active.Store(true) }
func (c *Channel) Deactivate() {
	c.terminated.Store(true)
	c.SetState(StateNone)
}

func channelID(peerID uint64, linkIndex int) string {
	return strconv.FormatUint(peerID, 10) + ":" + strconv.Itoa(linkIndex)
}
