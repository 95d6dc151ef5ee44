package realtime

import (
	"io"
	"log/slog"
	"testing"

	v1 "campus/shared/contracts/realtime/v1"
)

func TestHub_JoinBroadcastLeave(t *testing.T) {
	t.Parallel()

	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	a := NewClient("u1", "s1", 4)
	b := NewClient("u2", "s2", 1)

	ra := h.Join("T1", "direct", a)
	rb := h.Join("T1", "direct", b)
	if ra != rb || h.Len() != 1 {
		t.Fatalf("expected one shared room")
	}

	ra.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew})
	ra.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew})

	if len(a.Send) != 2 {
		t.Fatalf("a queued=%d want 2", len(a.Send))
	}
	// b's queue holds one; the second broadcast is dropped rather than blocking.
	if len(b.Send) != 1 {
		t.Fatalf("b queued=%d want 1", len(b.Send))
	}

	b.Close()
	<-a.Send
	<-a.Send
	ra.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew})
	if len(a.Send) != 1 {
		t.Fatalf("a should still receive after b closed")
	}

	h.Leave(ra, "s1")
	if h.Len() != 1 {
		t.Fatalf("room dropped while b still joined")
	}
	h.Leave(ra, "s2")
	if h.Len() != 0 {
		t.Fatalf("empty room not released")
	}
}
