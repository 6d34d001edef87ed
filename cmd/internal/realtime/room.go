package realtime

import (
	"log/slog"
	"sync"

	v1 "teamsync/contracts/realtime/v1"
)

// Room is the in-memory set of connections joined to one channel.
//
// Join and Leave are safe under concurrent Broadcast, and Broadcast never
// blocks: a full or closing client queue drops the envelope.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room for channelID.
func NewRoom(log *slog.Logger, channelID string) *Room {
	return &Room{
		log:     log,
		ID:      channelID,
		members: make(map[string]*Client),
	}
}

// Join adds a client.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}
	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "channel_id", r.ID, "session_id", client.SessionID)
}

// Leave removes a client and reports how many members remain.
func (r *Room) Leave(sessionID string) int {
	if r == nil || sessionID == "" {
		return 0
	}
	r.mu.Lock()
	delete(r.members, sessionID)
	n := len(r.members)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "channel_id", r.ID, "session_id", sessionID)
	return n
}

// Len returns the number of joined clients.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member for which allow reports true (all
// members when allow is nil) and returns how many queues took it. allow runs
// on a snapshot with the room unlocked, so it may call back into the Hub.
func (r *Room) Broadcast(env v1.Envelope, allow func(*Client) bool) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	members := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m != nil {
			members = append(members, m)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if allow != nil && !allow(m) {
			continue
		}
		// A full queue drops the envelope rather than blocking the room.
		if m.TrySend(env) {
			delivered++
		}
	}
	return delivered
}
