package topology

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/hanyunqi/faststore/config"
)

type fakeSender struct {
	sent map[int][][]byte
}

func newFakeSender() *fakeSender { return &fakeSender{sent: map[int][][]byte{}} }

func (f *fakeSender) Send(peerID int, body []byte) error {
	f.sent[peerID] = append(f.sent[peerID], body)
	return nil
}

func twoPeerGroup() *config.ServerGroup {
	self := &config.ClusterServerInfo{ID: 1, Status: config.ServerStatusActive}
	p2 := &config.ClusterServerInfo{ID: 2, Status: config.ServerStatusActive}
	p3 := &config.ClusterServerInfo{ID: 3, Status: config.ServerStatusOffline}
	return &config.ServerGroup{Servers: []*config.ClusterServerInfo{self, p2, p3}, Myself: self}
}

var _ = Describe("Notifier", func() {
	It("delivers a status change only to active non-self peers, once", func() {
		group := twoPeerGroup()
		n := NewNotifier(group, nil)

		n.NotifyStatusChange(4, 8, 1, 2, 3)
		// A second change to the same cell before any drain must not queue
		// twice - the CAS pattern collapses bursts into one delivery.
		n.NotifyStatusChange(4, 8, 1, 2, 5)

		sender := newFakeSender()
		Expect(n.SendPending(2, sender)).To(Succeed())
		Expect(n.SendPending(3, sender)).To(Succeed()) // offline peer never got a table

		Expect(sender.sent[2]).To(HaveLen(1))
		Expect(sender.sent[3]).To(BeEmpty())

		updates, err := DecodeStatusBatch(sender.sent[2][0])
		Expect(err).NotTo(HaveOccurred())
		Expect(updates).To(HaveLen(1))
		// The drain reads status at send time, so the second, later value
		// wins even though only one enqueue happened.
		Expect(updates[0].Status).To(Equal(int32(5)))
	})

	It("re-enqueues a change that arrives after the previous drain released the cell", func() {
		group := twoPeerGroup()
		n := NewNotifier(group, nil)

		n.NotifyStatusChange(4, 8, 1, 2, 1)
		sender := newFakeSender()
		Expect(n.SendPending(2, sender)).To(Succeed())
		Expect(sender.sent[2]).To(HaveLen(1))

		n.NotifyStatusChange(4, 8, 1, 2, 2)
		Expect(n.SendPending(2, sender)).To(Succeed())
		Expect(sender.sent[2]).To(HaveLen(2))
	})
})
