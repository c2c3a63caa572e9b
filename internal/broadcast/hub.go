package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/logger"
)

// Message is the envelope written to every subscriber.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscriber receives encoded messages for the rooms it joined.
type Subscriber interface {
	// Send queues msg without blocking. It returns false when the
	// subscriber cannot take more messages.
	Send(msg []byte) bool
	Close()
}

// Hub keeps one room of subscribers per poll. Delivery is fire-and-forget:
// a subscriber that falls behind is dropped from the room and closed.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe(pollID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[pollID] == nil {
		h.rooms[pollID] = make(map[Subscriber]struct{})
	}
	h.rooms[pollID][sub] = struct{}{}
	logger.V(1).Infof("hub: subscriber joined poll %s (total: %d)", pollID, len(h.rooms[pollID]))
}

func (h *Hub) Unsubscribe(pollID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(pollID, sub)
}

func (h *Hub) removeLocked(pollID string, sub Subscriber) {
	room, ok := h.rooms[pollID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, pollID)
	}
	logger.V(1).Infof("hub: subscriber left poll %s", pollID)
}

// Publish encodes the event once and offers it to every subscriber of the
// poll. It never blocks on a subscriber.
func (h *Hub) Publish(pollID, event string, payload any) {
	data, err := json.Marshal(Message{Type: event, Data: payload})
	if err != nil {
		logger.Errorf("hub: marshal %s for poll %s: %v", event, pollID, err)
		return
	}

	var slow []Subscriber
	h.mu.RLock()
	for sub := range h.rooms[pollID] {
		if !sub.Send(data) {
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range slow {
		h.removeLocked(pollID, sub)
	}
	h.mu.Unlock()
	for _, sub := range slow {
		logger.Warningf("hub: dropping slow subscriber from poll %s", pollID)
		sub.Close()
	}
}

// RoomSize returns the number of subscribers of a poll.
func (h *Hub) RoomSize(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pollID])
}

// Close closes every subscriber and empties all rooms.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[Subscriber]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for sub := range room {
			sub.Close()
		}
	}
}
