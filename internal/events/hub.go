package events

import "sync"

// Hub fans notifications out to in-process subscribers. A subscriber watches
// one user id, or every user with the empty id. Slow subscribers drop
// notifications instead of blocking the listener.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	userID string
	ch     chan Notification
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]*subscription{}}
}

// Subscribe registers interest in notifications for userID (empty for all).
// The returned cancel func closes the channel and must be called exactly once.
func (h *Hub) Subscribe(userID string, buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &subscription{userID: userID, ch: make(chan Notification, buffer)}
	h.subs[id] = sub
	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
}

// Notify implements Notifier.
func (h *Hub) Notify(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.userID != "" && sub.userID != n.UserID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
}
