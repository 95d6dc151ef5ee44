package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"campus/cmd/identity/ids"
)

// InMemoryStore is the process-local message log. The log is ephemeral by design:
// nothing survives a restart.
//
// The mutex is the single serialized entry point for every writer, so the order in
// which Append calls are observed is the order in which List returns them.
type InMemoryStore struct {
	log *slog.Logger
	ids *ids.Generator

	mu      sync.Mutex
	threads map[string]*memThread
}

type memThread struct {
	seq    int64
	last   time.Time
	dedupe map[string]int // client_msg_id -> index in msgs
	msgs   []Message      // ordered by seq
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore(log *slog.Logger) *InMemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryStore{
		log:     log,
		ids:     ids.NewGenerator(),
		threads: make(map[string]*memThread),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append appends msg to threadID and returns the assigned message id.
func (s *InMemoryStore) Append(ctx context.Context, threadID string, msg Message) (string, error) {
	res, err := s.AppendMessage(ctx, AppendInput{ThreadID: threadID, Message: msg})
	if err != nil {
		return "", err
	}
	return res.Stored.ID, nil
}

// AppendMessage appends in.Message, assigning id, seq and thread id.
// CreatedAt is clamped so it never goes backwards within a thread.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return AppendResult{}, fmt.Errorf("%w: missing thread_id", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	msg := in.Message

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threads[threadID]
	if t == nil {
		t = &memThread{
			dedupe: make(map[string]int),
			msgs:   make([]Message, 0, 64),
		}
		s.threads[threadID] = t
	}

	if msg.ClientMsgID != "" {
		if idx, ok := t.dedupe[msg.ClientMsgID]; ok {
			prev := t.msgs[idx]
			s.log.Debug("thread.append.duplicate", "thread_id", threadID, "client_msg_id", msg.ClientMsgID, "message_id", prev.ID)
			return AppendResult{Stored: prev.clone(), Duplicated: true}, nil
		}
	}

	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if created.Before(t.last) {
		created = t.last
	}

	id, err := s.ids.New(created)
	if err != nil {
		return AppendResult{}, fmt.Errorf("thread: allocate id: %w", err)
	}

	t.seq++
	stored := msg.clone()
	stored.ID = id
	stored.ThreadID = threadID
	stored.Seq = t.seq
	stored.CreatedAt = created

	t.last = created
	t.msgs = append(t.msgs, stored)
	if stored.ClientMsgID != "" {
		t.dedupe[stored.ClientMsgID] = len(t.msgs) - 1
	}

	s.log.Debug("thread.append", "thread_id", threadID, "message_id", id, "seq", stored.Seq, "kind", stored.Kind)
	return AppendResult{Stored: stored.clone()}, nil
}

// List returns a copy of every message in threadID in insertion order.
// An unknown thread yields an empty, non-nil slice.
func (s *InMemoryStore) List(ctx context.Context, threadID string) ([]Message, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: missing thread_id", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threads[threadID]
	if t == nil {
		return []Message{}, nil
	}
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.clone()
	}
	return out, nil
}

// Get returns one message by id.
func (s *InMemoryStore) Get(ctx context.Context, threadID, messageID string) (Message, bool, error) {
	msgs, err := s.List(ctx, threadID)
	if err != nil {
		return Message{}, false, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

// FetchHistory returns messages ordered by seq ASC with paging via after_seq.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	snap, err := s.List(ctx, in.ThreadID)
	if err != nil {
		return FetchHistoryResult{}, err
	}

	limit := clampHistoryLimit(in.Limit)
	fetch := limit + 1

	if len(snap) == 0 {
		return FetchHistoryResult{Messages: nil, HasMore: false}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return FetchHistoryResult{Messages: nil, HasMore: false}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return FetchHistoryResult{Messages: out, HasMore: hasMore}, nil
}
