package directory

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_OpenMode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewMemory(true)

	th, err := d.Thread(ctx, "T-any")
	if err != nil || th.Kind != KindDirect {
		t.Fatalf("open thread: %+v err=%v", th, err)
	}
	if ok, _ := d.IsMember(ctx, "u1", "T-any"); !ok {
		t.Fatalf("open mode should admit everyone")
	}
	if ok, _ := d.IsMember(ctx, "", "T-any"); ok {
		t.Fatalf("blank user must not be a member")
	}

	d.Join("T-any", Participant{UserID: "u1", DisplayName: "One"})
	d.Join("T-any", Participant{UserID: "u1", DisplayName: "One again"})
	d.Join("T-any", Participant{UserID: "u2", DisplayName: "Two"})
	ps, err := d.Participants(ctx, "T-any")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(ps) != 2 || ps[0].UserID != "u1" || ps[1].UserID != "u2" {
		t.Fatalf("participants=%+v", ps)
	}
}

func TestMemory_ClosedMode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewMemory(false)
	d.Put(Thread{ID: "G1", Kind: KindGroup, Title: "Study group"},
		Participant{UserID: "u1", DisplayName: "One"},
		Participant{UserID: "u2", DisplayName: "Two"},
	)

	if _, err := d.Thread(ctx, "nope"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("unknown thread: err=%v", err)
	}
	if _, err := d.Participants(ctx, "nope"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("unknown participants: err=%v", err)
	}

	th, err := d.Thread(ctx, "G1")
	if err != nil || th.Title != "Study group" {
		t.Fatalf("thread: %+v err=%v", th, err)
	}

	if err := EnsureMember(ctx, d, "u2", "G1"); err != nil {
		t.Fatalf("u2 should be a member: %v", err)
	}
	if err := EnsureMember(ctx, d, "u3", "G1"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("u3: err=%v want ErrNotMember", err)
	}

	ps, _ := d.Participants(ctx, "G1")
	ps[0].DisplayName = "mutated"
	again, _ := d.Participants(ctx, "G1")
	if again[0].DisplayName != "One" {
		t.Fatalf("participants snapshot aliased internal state")
	}
}
