package realtime

import (
	"log/slog"
	"sync"

	v1 "campus/shared/contracts/realtime/v1"
)

// Room is the live fanout group for one thread: every connection that has joined it.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks; a member whose
// queue is full misses the envelope and recovers through history fetch.
type Room struct {
	log      *slog.Logger
	ThreadID string
	Kind     string

	mu      sync.RWMutex
	members map[string]*Client
}

func NewRoom(log *slog.Logger, threadID, kind string) *Room {
	return &Room{
		log:      log,
		ThreadID: threadID,
		Kind:     kind,
		members:  make(map[string]*Client),
	}
}

func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}
	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "thread_id", r.ThreadID, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a session from the room. The client itself stays open; it may join
// another thread.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}
	r.mu.Lock()
	_, ok := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	if ok {
		r.log.Info("room.member.leave", "thread_id", r.ThreadID, "session_id", sessionID)
	}
}

// Size returns the number of joined sessions.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member.
func (r *Room) Broadcast(env v1.Envelope) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, m := range r.members {
		if !m.Offer(env) {
			r.log.Debug("room.broadcast.drop", "thread_id", r.ThreadID, "session_id", sid, "type", env.Type)
		}
	}
}
