package thread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

var alice = Sender{ID: "u-alice", Name: "Alice"}

func newTestStore() *InMemoryStore {
	return NewInMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustText(t *testing.T, raw string, now time.Time) Message {
	t.Helper()
	m, err := NewText(alice, raw, now)
	if err != nil {
		t.Fatalf("NewText(%q): %v", raw, err)
	}
	return m
}

func mustAudio(t *testing.T, ref string, secs int, now time.Time) Message {
	t.Helper()
	m, err := NewAudio(alice, Audio{SourceRef: ref, DurationSeconds: secs}, now)
	if err != nil {
		t.Fatalf("NewAudio(%q): %v", ref, err)
	}
	return m
}

func TestInMemoryStore_AppendThenList_SingleText(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()

	id, err := st.Append(ctx, "T1", mustText(t, "Hello", time.Now().UTC()))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.List(ctx, "T1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len=%d want 1", len(got))
	}
	if got[0].ID != id || got[0].Kind != KindText || got[0].Text != "Hello" {
		t.Fatalf("unexpected message: %+v", got[0])
	}
	if got[0].ThreadID != "T1" || got[0].Seq != 1 {
		t.Fatalf("thread/seq mismatch: %+v", got[0])
	}
}

func TestInMemoryStore_PreservesCallOrderAcrossKinds(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	// Timestamps deliberately out of order: the log must follow call order.
	in := []Message{
		mustText(t, "first", base.Add(5*time.Second)),
		mustAudio(t, "blob:a", 3, base),
		mustText(t, "third", base.Add(2*time.Second)),
		mustAudio(t, "blob:b", 0, base.Add(9*time.Second)),
	}

	var ids []string
	for i, m := range in {
		id, err := st.Append(ctx, "T1", m)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	got, err := st.List(ctx, "T1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("len=%d want %d", len(got), len(in))
	}
	for i := range in {
		if got[i].ID != ids[i] {
			t.Fatalf("pos %d id=%s want %s", i, got[i].ID, ids[i])
		}
		if got[i].Kind != in[i].Kind {
			t.Fatalf("pos %d kind=%s want %s", i, got[i].Kind, in[i].Kind)
		}
		if got[i].Seq != int64(i+1) {
			t.Fatalf("pos %d seq=%d want %d", i, got[i].Seq, i+1)
		}
		if i > 0 {
			if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
				t.Fatalf("created_at went backwards at %d", i)
			}
			if got[i].ID <= got[i-1].ID {
				t.Fatalf("ids not in generation order at %d", i)
			}
		}
	}
	if got[1].Audio == nil || got[1].Audio.DurationSeconds != 3 {
		t.Fatalf("audio payload lost: %+v", got[1])
	}
}

func TestInMemoryStore_ThreadsAreIndependent(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.Append(ctx, "T1", mustText(t, "a", now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := st.Append(ctx, "T2", mustText(t, "b", now)); err != nil {
		t.Fatalf("append: %v", err)
	}

	t2, _ := st.List(ctx, "T2")
	if len(t2) != 1 || t2[0].Seq != 1 {
		t.Fatalf("T2 snapshot unexpected: %+v", t2)
	}

	empty, err := st.List(ctx, "T-none")
	if err != nil {
		t.Fatalf("list unknown: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("unknown thread should yield an empty snapshot, got %v", empty)
	}
}

func TestInMemoryStore_SnapshotIsImmutable(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()

	msg := mustAudio(t, "blob:x", 4, time.Now().UTC())
	if _, err := st.Append(ctx, "T1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Mutating the caller's copy or a snapshot must not leak into the log.
	msg.Audio.DurationSeconds = 99
	snap, _ := st.List(ctx, "T1")
	snap[0].Audio.SourceRef = "tampered"

	again, _ := st.List(ctx, "T1")
	if again[0].Audio.DurationSeconds != 4 || again[0].Audio.SourceRef != "blob:x" {
		t.Fatalf("stored message mutated: %+v", again[0].Audio)
	}
}

func TestInMemoryStore_DoesNotJudgeContent(t *testing.T) {
	t.Parallel()

	st := newTestStore()

	// A raw message the constructors would never build is still appended.
	if _, err := st.Append(context.Background(), "T1", Message{Kind: KindText, Text: "  padded  ", SenderID: "u"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := st.Append(context.Background(), "  ", Message{Kind: KindText, Text: "x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing thread id: err=%v want ErrInvalidInput", err)
	}
}

func TestInMemoryStore_ClientMsgIDDedupe(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()

	m := mustText(t, "once", time.Now().UTC())
	m.ClientMsgID = "cmsg-1"

	first, err := st.Append(ctx, "T1", m)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := st.Append(ctx, "T1", m)
	if err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if first != second {
		t.Fatalf("dedupe returned new id: %s vs %s", first, second)
	}
	got, _ := st.List(ctx, "T1")
	if len(got) != 1 {
		t.Fatalf("len=%d want 1", len(got))
	}
}

func TestInMemoryStore_FetchHistory_AfterSeq_HasMore(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := st.Append(ctx, "T1", mustText(t, fmt.Sprintf("m%d", i), time.Now().UTC())); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	out, err := st.FetchHistory(ctx, FetchHistoryInput{ThreadID: "T1", Limit: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !out.HasMore || len(out.Messages) != 2 || out.Messages[0].Seq != 1 {
		t.Fatalf("first window unexpected: has_more=%v msgs=%d", out.HasMore, len(out.Messages))
	}

	after := out.Messages[1].Seq
	out, err = st.FetchHistory(ctx, FetchHistoryInput{ThreadID: "T1", AfterSeq: &after, Limit: 10})
	if err != nil {
		t.Fatalf("fetch after: %v", err)
	}
	if out.HasMore || len(out.Messages) != 3 || out.Messages[0].Seq != 3 {
		t.Fatalf("second window unexpected: has_more=%v msgs=%d", out.HasMore, len(out.Messages))
	}

	end := int64(5)
	out, _ = st.FetchHistory(ctx, FetchHistoryInput{ThreadID: "T1", AfterSeq: &end})
	if len(out.Messages) != 0 || out.HasMore {
		t.Fatalf("past-the-end window should be empty")
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Append(ctx, "T1", mustText(t, "x", time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestInMemoryStore_AppendMessage_ReportsDuplicate(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	ctx := context.Background()

	m := mustText(t, "hi", time.Now().UTC())
	m.ClientMsgID = "c-1"

	first, err := st.AppendMessage(ctx, AppendInput{ThreadID: "T1", Message: m})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Duplicated || first.Stored.Seq != 1 || first.Stored.ThreadID != "T1" {
		t.Fatalf("first result unexpected: %+v", first)
	}

	m.Text = "different body, same client id"
	second, err := st.AppendMessage(ctx, AppendInput{ThreadID: "T1", Message: m})
	if err != nil {
		t.Fatalf("append dup: %v", err)
	}
	if !second.Duplicated || second.Stored.ID != first.Stored.ID || second.Stored.Text != "hi" {
		t.Fatalf("duplicate result unexpected: %+v", second)
	}
}
