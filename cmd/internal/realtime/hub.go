package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the live rooms. Message history lives in the thread store, not here.
//
// Join and Leave run under the hub lock so a room is never dropped between being
// looked up and being joined.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds client to the room for threadID, creating the room on first use.
func (h *Hub) Join(threadID, kind string, client *Client) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[threadID]
	if !ok {
		r = NewRoom(h.log, threadID, kind)
		h.rooms[threadID] = r
	}
	r.Join(client)
	return r
}

// Leave removes sessionID from r and drops the room once it is empty.
func (h *Hub) Leave(r *Room, sessionID string) {
	if r == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	r.Leave(sessionID)
	if r.Size() == 0 && h.rooms[r.ThreadID] == r {
		delete(h.rooms, r.ThreadID)
	}
}

// Len reports how many rooms are live.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Room returns the live room for threadID, or nil.
func (h *Hub) Room(threadID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[threadID]
}
