package directory

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Directory.
//
// In open mode any thread id resolves (as a direct thread) and every user is a member,
// which is what a single-node development setup wants. Otherwise only seeded threads and
// members exist.
type Memory struct {
	open bool

	mu      sync.RWMutex
	threads map[string]Thread
	members map[string][]Participant // thread id -> participants in join order
}

func NewMemory(open bool) *Memory {
	return &Memory{
		open:    open,
		threads: make(map[string]Thread),
		members: make(map[string][]Participant),
	}
}

// Put registers or replaces a thread and appends any new participants.
func (m *Memory) Put(t Thread, participants ...Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Kind == "" {
		t.Kind = KindDirect
	}
	m.threads[t.ID] = t
	for _, p := range participants {
		if p.UserID == "" || m.hasLocked(t.ID, p.UserID) {
			continue
		}
		m.members[t.ID] = append(m.members[t.ID], p)
	}
}

func (m *Memory) Thread(ctx context.Context, threadID string) (Thread, error) {
	if err := ctx.Err(); err != nil {
		return Thread{}, err
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return Thread{}, ErrThreadNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.threads[threadID]; ok {
		return t, nil
	}
	if m.open {
		return Thread{ID: threadID, Kind: KindDirect}, nil
	}
	return Thread{}, ErrThreadNotFound
}

func (m *Memory) Participants(ctx context.Context, threadID string) ([]Participant, error) {
	if _, err := m.Thread(ctx, threadID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.members[strings.TrimSpace(threadID)]
	out := make([]Participant, len(src))
	copy(out, src)
	return out, nil
}

func (m *Memory) IsMember(ctx context.Context, userID, threadID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	userID = strings.TrimSpace(userID)
	threadID = strings.TrimSpace(threadID)
	if userID == "" || threadID == "" {
		return false, nil
	}
	if m.open {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLocked(threadID, userID), nil
}

func (m *Memory) hasLocked(threadID, userID string) bool {
	for _, p := range m.members[threadID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Join adds p to threadID without touching the thread record. Used in open mode so
// participant lists reflect who has actually shown up.
func (m *Memory) Join(threadID string, p Participant) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" || p.UserID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLocked(threadID, p.UserID) {
		m.members[threadID] = append(m.members[threadID], p)
	}
}
