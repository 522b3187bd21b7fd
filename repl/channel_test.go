package repl

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Channel claim and backoff", func() {
	It("claims an idle channel exactly once", func() {
		reg := NewRegistry(1, nil)
		chans := reg.EnsurePeer(2, []uint64{1, 2, 3})
		Expect(chans).To(HaveLen(ChannelsBetweenTwoServers))

		c1, ok := reg.ClaimIdle(2)
		Expect(ok).To(BeTrue())
		Expect(c1.State()).To(Equal(StateInited))

		c2, ok := reg.ClaimIdle(2)
		Expect(ok).To(BeTrue())
		Expect(c2).NotTo(Equal(c1))

		_, ok = reg.ClaimIdle(2)
		Expect(ok).To(BeFalse(), "both channels are already claimed")
	})

	It("assigns deterministic, non-negative link indices on both sides", func() {
		servers := []uint64{10, 20, 30}
		fromA := LinkIndex(10, servers, 20)
		fromB := LinkIndex(20, servers, 10)
		// Not required to be equal (each side excludes itself from its own
		// array) but both must be deterministic and non-negative.
		Expect(fromA).To(BeNumerically(">=", 0))
		Expect(fromB).To(BeNumerically(">=", 0))
	})

	It("derives IsClient from the lower server id on both sides", func() {
		Expect(IsClient(10, 20)).To(BeTrue())
		Expect(IsClient(20, 10)).To(BeFalse())
	})

	It("computes the same pair_base_offset from either side", func() {
		Expect(PairBaseOffset(10, 20, ChannelsBetweenTwoServers)).To(Equal(PairBaseOffset(20, 10, ChannelsBetweenTwoServers)))
	})

	It("backs off exponentially up to the configured cap", func() {
		c := NewChannel(2, 0, true, 16, nil)
		now := time.Unix(1000, 0)
		base := 100 * time.Millisecond
		maxBackoff := 500 * time.Millisecond

		c.FailAndBackoff(base, maxBackoff, now)
		Expect(c.ReadyToConnect(now)).To(BeFalse())
		Expect(c.ReadyToConnect(now.Add(base))).To(BeTrue())

		for i := 0; i < 10; i++ {
			c.FailAndBackoff(base, maxBackoff, now)
		}
		Expect(c.ReadyToConnect(now.Add(maxBackoff - time.Millisecond))).To(BeFalse())
		Expect(c.ReadyToConnect(now.Add(maxBackoff))).To(BeTrue())
	})
})

var _ = Describe("PushResultRing", func() {
	It("notifies waiting tasks in version order on ack", func() {
		ring := NewPushResultRing(8, nil)
		waiters := make([]chan AckResult, 3)
		for i := range waiters {
			waiters[i] = make(chan AckResult, 1)
			ring.Push(RPCEntry{DataVersion: uint64(i), WaitingTask: waiters[i], Expires: time.Now().Add(time.Minute)})
		}
		ring.Ack(1, 0)
		Expect(<-waiters[0]).To(Equal(AckResult{Version: 0, ErrNo: 0}))
		Expect(<-waiters[1]).To(Equal(AckResult{Version: 1, ErrNo: 0}))
		Expect(waiters[2]).To(HaveLen(0))
	})

	It("spills into the overflow list on a ring collision", func() {
		ring := NewPushResultRing(1, nil)
		w1 := make(chan AckResult, 1)
		w2 := make(chan AckResult, 1)
		ring.Push(RPCEntry{DataVersion: 0, WaitingTask: w1, Expires: time.Now().Add(time.Minute)})
		ring.Push(RPCEntry{DataVersion: 1, WaitingTask: w2, Expires: time.Now().Add(time.Minute)})

		ring.Ack(1, 0)
		Expect(<-w1).To(Equal(AckResult{Version: 0}))
		Expect(<-w2).To(Equal(AckResult{Version: 1}))
	})

	It("times out entries past their expiry", func() {
		ring := NewPushResultRing(4, nil)
		w := make(chan AckResult, 1)
		past := time.Now().Add(-time.Second)
		ring.Push(RPCEntry{DataVersion: 0, WaitingTask: w, Expires: past})
		ring.SweepExpired(time.Now())
		Expect(<-w).To(Equal(AckResult{Version: 0, TimedOut: true}))
	})
})
