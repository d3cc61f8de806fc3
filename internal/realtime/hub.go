// Package realtime fans leaderboard snapshots out to in-process
// subscribers and, when a broker is configured, across nodes over Redis
// pub/sub. Publishing is best-effort by design: a slow subscriber misses
// snapshots rather than stalling the publisher, and a dead broker trips a
// circuit breaker that degrades delivery to the local hub only.
package realtime

import "sync"

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls this far behind starts losing intermediate snapshots; the next
// delivered one carries the full current standing, so nothing stays
// stale.
const subscriberBuffer = 8

// topic holds the subscriber set for one contest plus the most recent
// snapshot for replay to late joiners.
type topic struct {
	last    *Snapshot
	clients map[chan *Snapshot]struct{}
}

// Hub fans out leaderboard snapshots to per-contest subscriber channels.
// The zero value is not usable; construct with NewHub.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewHub creates a Hub ready for use.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// getOrCreate returns the topic for contestID, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(contestID string) *topic {
	t, ok := h.topics[contestID]
	if !ok {
		t = &topic{clients: make(map[chan *Snapshot]struct{})}
		h.topics[contestID] = t
	}
	return t
}

// Publish delivers a snapshot to every subscriber of its contest and
// retains it for late joiners. Sends never block: a subscriber whose
// buffer is full misses this snapshot and catches up on the next one.
func (h *Hub) Publish(snap *Snapshot) {
	if snap == nil || snap.ContestID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.getOrCreate(snap.ContestID)
	t.last = snap
	for ch := range t.clients {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe registers interest in a contest's snapshots and returns the
// receive channel plus an unsubscribe function. If a snapshot has been
// published before, it is replayed immediately so the subscriber does not
// wait for the next finish. The channel is closed only by Remove; callers
// that leave early just unsubscribe and stop reading.
func (h *Hub) Subscribe(contestID string) (<-chan *Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.getOrCreate(contestID)
	ch := make(chan *Snapshot, subscriberBuffer)
	if t.last != nil {
		ch <- t.last
	}
	t.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(t.clients, ch)
	}
	return ch, unsubscribe
}

// Remove drops a contest's topic entirely, closing all subscriber
// channels. Used when a contest is deleted.
func (h *Hub) Remove(contestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[contestID]
	if !ok {
		return
	}
	for ch := range t.clients {
		close(ch)
	}
	t.clients = nil
	delete(h.topics, contestID)
}

// Subscribers reports how many channels are subscribed to a contest.
func (h *Hub) Subscribers(contestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[contestID]
	if !ok {
		return 0
	}
	return len(t.clients)
}
