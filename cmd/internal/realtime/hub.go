package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the rooms for every channel with at least one joined connection.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds client to channelID's room, creating it if needed.
func (h *Hub) Join(channelID string, client *Client) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[channelID]
	if !ok {
		r = NewRoom(h.log, channelID)
		h.rooms[channelID] = r
	}
	r.Join(client)
	return r
}

// Leave removes the session from channelID's room and drops empty rooms.
func (h *Hub) Leave(channelID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[channelID]
	if !ok {
		return
	}
	if r.Leave(sessionID) == 0 {
		delete(h.rooms, channelID)
	}
}

// Room returns channelID's room, or nil when nobody is joined.
func (h *Hub) Room(channelID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[channelID]
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
