package topology

import "go.uber.org/atomic"

// NotifyEvent is one pre-allocated (data-group, server) cell: a single-slot
// MPSC inlet whose InQueue flag CAS-gates enqueue so a burst of status
// changes for the same cell collapses into at most one queued delivery
// (spec §4.G "notification CAS pattern", §9 "keep exactly").
type NotifyEvent struct {
	DataGroupID int
	ServerID    int
	InQueue     atomic.Bool

	// Status is the value a drain reads at send time, not at enqueue
	// time - the reason the CAS pattern never loses a change: whatever is
	// current when the I/O task actually serializes the event is what
	// goes out, even if it changed again after being queued.
	Status atomic.Int32
}

// EventTable is the pre-sized `events` array of (data_groups × servers)
// slots a Notifier owns for one peer.
type EventTable struct {
	dataGroups int
	servers    int
	cells      []*NotifyEvent
}

func NewEventTable(dataGroups, servers int) *EventTable {
	t := &EventTable{dataGroups: dataGroups, servers: servers, cells: make([]*NotifyEvent, dataGroups*servers)}
	for g := 0; g < dataGroups; g++ {
		for s := 0; s < servers; s++ {
			t.cells[g*servers+s] = &NotifyEvent{DataGroupID: g, ServerID: s}
		}
	}
	return t
}

func (t *EventTable) cell(dataGroup, server int) *NotifyEvent {
	return t.cells[dataGroup*t.servers+server]
}
