// Package directory resolves thread identity and participant display identity.
//
// It is a read-only collaborator: the messaging core asks it who is in a thread and what
// to call them, but never writes to it.
package directory

import (
	"context"
	"errors"
)

var (
	ErrThreadNotFound = errors.New("directory: thread not found")
	ErrNotMember      = errors.New("directory: not a member")
)

// Thread kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
	KindRoom   = "room"
)

type Thread struct {
	ID    string
	Kind  string
	Title string
}

type Participant struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Directory is the thread/participant lookup boundary.
type Directory interface {
	Thread(ctx context.Context, threadID string) (Thread, error)
	Participants(ctx context.Context, threadID string) ([]Participant, error)
	IsMember(ctx context.Context, userID, threadID string) (bool, error)
}

// EnsureMember returns ErrNotMember unless userID belongs to threadID.
func EnsureMember(ctx context.Context, d Directory, userID, threadID string) error {
	ok, err := d.IsMember(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}
