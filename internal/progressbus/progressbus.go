// Package progressbus is an in-process, single-writer/many-reader pub-sub
// mapping job id to a subscriber set. The worker is the sole writer;
// the WebSocket endpoint reads by subscribing per job id. The persisted
// job row remains authoritative — this bus only pushes advisory events,
// and may drop one under load rather than block the worker.
package progressbus

import "sync"

// Event is a single advisory progress notification.
type Event struct {
	Status        string `json:"status"`
	Progress      *int   `json:"progress,omitempty"`
	Error         string `json:"error,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
	CompletedTool int    `json:"completed_tools,omitempty"`
	TotalTools    int    `json:"total_tools,omitempty"`
}

// subscriberBuffer is the bounded capacity of each subscriber's channel. A
// full channel means that one subscriber is slow; the event is dropped for
// that subscriber only, never blocking the publisher.
const subscriberBuffer = 8

// Handle is an ephemeral subscription bound to one job id. The caller
// reads Events until it is closed, and must call Unsubscribe when done.
// Only Unsubscribe closes the channel; a job reaching a terminal state
// does not.
type Handle struct {
	jobID  string
	events chan Event
	bus    *Bus
}

// Events returns the channel this handle receives events on.
func (h *Handle) Events() <-chan Event { return h.events }

// Bus is the per-job subscriber registry, guarded by a short critical
// section per the shared-resource model: writers and readers contend only
// for the instant it takes to add/remove/iterate a job's subscriber set.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[*Handle]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]map[*Handle]struct{})}
}

// Subscribe registers a new handle for jobID and returns it. Callers must
// call Unsubscribe when they are done (connection closed, job terminal).
func (b *Bus) Subscribe(jobID string) *Handle {
	h := &Handle{jobID: jobID, events: make(chan Event, subscriberBuffer), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subscribers[jobID]
	if !ok {
		set = make(map[*Handle]struct{})
		b.subscribers[jobID] = set
	}
	set[h] = struct{}{}
	return h
}

// Unsubscribe removes h from its job's subscriber set and closes its
// channel. Safe to call more than once.
func (b *Bus) Unsubscribe(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[h.jobID]
	if !ok {
		return
	}
	if _, present := set[h]; !present {
		return
	}
	delete(set, h)
	close(h.events)
	if len(set) == 0 {
		delete(b.subscribers, h.jobID)
	}
}

// Publish delivers event to every current subscriber of jobID. Delivery is
// best-effort and non-blocking per subscriber: a subscriber whose channel
// is full simply misses this event rather than stalling the worker.
func (b *Bus) Publish(jobID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for h := range b.subscribers[jobID] {
		select {
		case h.events <- event:
		default:
		}
	}
}
