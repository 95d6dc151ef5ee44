package thread

import (
	"context"
)

// Store is the per-thread ordered message log.
//
// Requirements:
//   - Append-only: no update or delete path exists
//   - Insertion order == Seq order == display order (never reordered by timestamp)
//   - Append never judges content; validation belongs to the caller
//   - Optional idempotency per (thread_id, client_msg_id)
type Store interface {
	// Append adds msg after every message previously appended to threadID and
	// returns the assigned message id.
	Append(ctx context.Context, threadID string, msg Message) (string, error)

	// AppendMessage is Append reporting the stored copy and whether the call was
	// absorbed by client_msg_id dedupe.
	AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error)

	// List returns a finite snapshot of the whole thread in insertion order.
	List(ctx context.Context, threadID string) ([]Message, error)

	// Get returns one message by id; ok is false when it is not in threadID.
	Get(ctx context.Context, threadID, messageID string) (msg Message, ok bool, err error)

	// FetchHistory returns a window of the thread ordered by seq ASC.
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)

	Close() error
}

// AppendInput describes an append request.
type AppendInput struct {
	ThreadID string
	Message  Message
}

// AppendResult returns the stored message (with ID, ThreadID and Seq assigned).
// Duplicated is true when an earlier append with the same ClientMsgID won.
type AppendResult struct {
	Stored     Message
	Duplicated bool
}

// FetchHistoryInput describes a history query request.
type FetchHistoryInput struct {
	ThreadID string
	AfterSeq *int64
	Limit    int
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Messages []Message
	HasMore  bool
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
