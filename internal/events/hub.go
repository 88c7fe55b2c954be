// Package events fans lifecycle events out to live subscribers and keeps a short
// replay buffer for clients that reconnect.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	TypeServerState      = "server.state_changed"
	TypeServerStarted    = "server.started"
	TypeServerStopped    = "server.stopped"
	TypeServerFailed     = "server.failed"
	TypeRestartScheduled = "server.restart_scheduled"
	TypeOrchestrator     = "orchestrator.state_changed"
	TypeConfigChanged    = "config.changed"
)

const (
	defaultCapacity   = 256
	subscriberBacklog = 64
)

// Event is one published notification. Data is a JSON object.
type Event struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Server string          `json:"server,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer of recent events.
// Publish never blocks; slow subscribers miss events instead.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub keeping the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event for server. A nil data becomes an empty object.
func (h *Hub) Publish(eventType, server string, data any) Event {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring stays ordered.
	ev := Event{
		ID:     h.nextID.Add(1),
		Type:   eventType,
		Server: server,
		At:     time.Now().UTC(),
		Data:   payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev
}

// Subscribe returns a channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBacklog)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
