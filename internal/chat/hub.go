package chat

import "sync"

// subscriber receives broadcast messages for one room membership.
type subscriber struct {
	ch chan Message
}

// Hub fans room messages out to in-process subscribers. Slow consumers
// are skipped rather than blocking the sender.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a listener for a room. The returned channel is
// closed after unsubscribe runs.
func (h *Hub) Subscribe(roomID string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, 32)}
	h.mu.Lock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.rooms[roomID]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(h.rooms, roomID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, unsubscribe
}

// Broadcast delivers a message to every subscriber of its room.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[msg.RoomID] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Occupancy reports the number of live subscribers in a room.
func (h *Hub) Occupancy(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
