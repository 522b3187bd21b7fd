package topology

import (
	"bytes"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/config"
	"github.com/hanyunqi/faststore/stats"
)

var statusJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// statusPart is one body-part of a batched PUSH_DATA_SERVER_STATUS
// message: the state of a single (data-group, server) cell at send time.
type statusPart struct {
	DataGroupID int   `json:"data_group_id"`
	ServerID    int   `json:"server_id"`
	Status      int32 `json:"status"`
}

// Sender delivers a serialized PUSH_DATA_SERVER_STATUS body to one peer -
// implemented by whatever already owns that peer's replication channel.
type Sender interface {
	Send(peerID int, body []byte) error
}

// Notifier is the per-peer push context (spec §4.G): its EventTable and
// Queue together implement the CAS-gated at-most-once enqueue pattern, and
// its drain builds one batched message per pass.
type Notifier struct {
	group   *config.ServerGroup
	metrics *stats.Registry

	mu     sync.Mutex
	tables map[int]*EventTable // peer id -> table
	queues map[int]*Queue      // peer id -> queue
}

func NewNotifier(group *config.ServerGroup, metrics *stats.Registry) *Notifier {
	return &Notifier{
		group:   group,
		metrics: metrics,
		tables:  map[int]*EventTable{},
		queues:  map[int]*Queue{},
	}
}

// ensurePeerLocked lazily allocates the (data_groups × servers) table and
// queue for a newly-seen peer.
func (n *Notifier) ensurePeerLocked(peerID, dataGroups, servers int) (*EventTable, *Queue) {
	t, ok := n.tables[peerID]
	if !ok {
		t = NewEventTable(dataGroups, servers)
		n.tables[peerID] = t
		n.queues[peerID] = NewQueue()
	}
	return t, n.queues[peerID]
}

// NotifyStatusChange is the leader's status-change handler: it walks every
// active, non-self peer and CAS-enqueues the matching event for each one
// (spec §4.G).
func (n *Notifier) NotifyStatusChange(dataGroups, servers, dataGroupID, serverID int, status int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, peer := range n.group.ActivePeers() {
		table, queue := n.ensurePeerLocked(peer.ID, dataGroups, servers)
		cell := table.cell(dataGroupID, serverID)
		cell.Status.Store(status)
		if cell.InQueue.CAS(false, true) {
			queue.Push(cell)
		}
	}
}

// DrainAndBuild drains peerID's queue in one pass, releases each event's
// InQueue flag before returning, and returns the batched message body - the
// order spec §4.G requires so a status change racing with this drain is
// never lost: it simply re-enqueues for the next pass.
func (n *Notifier) DrainAndBuild(peerID int) ([]byte, error) {
	n.mu.Lock()
	queue, ok := n.queues[peerID]
	n.mu.Unlock()
	if !ok {
		return nil, nil
	}

	events := queue.DrainAll()
	if len(events) == 0 {
		return nil, nil
	}
	parts := make([]statusPart, 0, len(events))
	for _, e := range events {
		// release first, then read: a change stored after the release
		// re-enqueues itself instead of being swallowed by this pass.
		e.InQueue.Store(false)
		parts = append(parts, statusPart{
			DataGroupID: e.DataGroupID,
			ServerID:    e.ServerID,
			Status:      e.Status.Load(),
		})
	}
	return statusJSON.Marshal(parts)
}

// SendPending drains and ships peerID's pending status events over sender
// as one CmdPushDataServerStatus frame.
func (n *Notifier) SendPending(peerID int, sender Sender) error {
	body, err := n.DrainAndBuild(peerID)
	if err != nil {
		return cmn.WrapError(cmn.ErrIO, "encode data-server-status batch", err)
	}
	if body == nil {
		return nil
	}
	if n.metrics != nil {
		n.metrics.TopologyPushes.WithLabelValues(strconv.Itoa(peerID)).Inc()
	}
	return sender.Send(peerID, body)
}

// DecodeStatusBatch parses a received PUSH_DATA_SERVER_STATUS body into its
// constituent per-cell status updates.
func DecodeStatusBatch(body []byte) ([]StatusUpdate, error) {
	var parts []statusPart
	if err := statusJSON.NewDecoder(bytes.NewReader(body)).Decode(&parts); err != nil {
		return nil, cmn.WrapError(cmn.ErrProtocolViolation, "decode data-server-status batch", err)
	}
	out := make([]StatusUpdate, len(parts))
	for i, p := range parts {
		out[i] = StatusUpdate{DataGroupID: p.DataGroupID, ServerID: p.ServerID, Status: p.Status}
	}
	return out, nil
}

// StatusUpdate is one decoded cell from a received status batch.
type StatusUpdate struct {
	DataGroupID int
	ServerID    int
	Status      int32
}
