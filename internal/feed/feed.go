// Package feed fans out change events to connected clients. Subscribers get
// invalidation messages, not entity payloads; they refetch what they show.
package feed

import (
	"sync"
)

// Event is one change-feed message.
type Event struct {
	Table       string `json:"table"`
	Action      string `json:"action"`
	EntityID    string `json:"entity_id,omitempty"`
	AgreementID string `json:"agreement_id,omitempty"`
	// RecipientID restricts delivery to one user; empty means broadcast.
	RecipientID string `json:"-"`
}

type subscriber struct {
	userID string
	ch     chan Event
}

type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener for the given user. The returned cancel
// function must be called when the client disconnects.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	sub := &subscriber{userID: userID, ch: make(chan Event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to matching subscribers. Slow subscribers with a
// full buffer miss the event rather than block the publisher; clients recover
// by refetching on reconnect.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if ev.RecipientID != "" && sub.userID != ev.RecipientID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
