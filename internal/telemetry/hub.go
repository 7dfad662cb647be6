package telemetry

import (
	"sync"
	"sync/atomic"
)

// Subscription is one observer's ordered stream of samples for a mission.
// C is closed when the subscriber unsubscribes or the mission ends.
type Subscription struct {
	C <-chan Sample

	ch        chan Sample
	missionID string
	id        uint64
	mu        sync.Mutex // serializes drop-and-send
	dropped   atomic.Uint64
	closed    bool
}

// MissionID returns the mission the subscription follows.
func (s *Subscription) MissionID() string { return s.missionID }

// Dropped returns how many samples were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// offer delivers smp without blocking. When the buffer is full the oldest
// buffered sample is discarded first.
func (s *Subscription) offer(smp Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- smp:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Hub fans samples out to per-mission subscribers. Publish never blocks on
// a slow subscriber.
type Hub struct {
	mu     sync.RWMutex
	buffer int
	next   uint64
	subs   map[string]map[uint64]*Subscription
}

// NewHub returns a hub whose subscribers buffer up to bufferSize samples.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Hub{buffer: bufferSize, subs: map[string]map[uint64]*Subscription{}}
}

// Subscribe registers a new observer for missionID.
func (h *Hub) Subscribe(missionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan Sample, h.buffer)
	s := &Subscription{C: ch, ch: ch, missionID: missionID, id: h.next}
	if h.subs[missionID] == nil {
		h.subs[missionID] = map[uint64]*Subscription{}
	}
	h.subs[missionID][s.id] = s
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more
// than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[s.missionID]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(h.subs, s.missionID)
		}
	}
	closeSub(s)
}

// Publish delivers smp to every subscriber of its mission.
func (h *Hub) Publish(smp Sample) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[smp.MissionID] {
		s.offer(smp)
	}
}

// CloseMission ends every subscription of missionID.
func (h *Hub) CloseMission(missionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[missionID] {
		closeSub(s)
	}
	delete(h.subs, missionID)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, m := range h.subs {
		for _, s := range m {
			closeSub(s)
		}
		delete(h.subs, id)
	}
}

// Subscribers returns the number of live subscriptions for missionID.
func (h *Hub) Subscribers(missionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[missionID])
}

func closeSub(s *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
