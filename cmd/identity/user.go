package identity

import (
	"context"
	"strings"
)

// User is the principal a Composer writes as.
type User struct {
	ID          string
	DisplayName string
}

// Valid reports whether u carries a usable id.
func (u User) Valid() bool { return strings.TrimSpace(u.ID) != "" }

// Provider resolves the current user for a request or connection.
type Provider interface {
	CurrentUser(ctx context.Context) (User, error)
}

// Static always returns the same user. Used for single-user contexts and tests.
type Static User

func (s Static) CurrentUser(ctx context.Context) (User, error) {
	u := User(s)
	if !u.Valid() {
		return User{}, OpError{Op: "identity.Static", Kind: ErrUnauthenticated}
	}
	return u, nil
}

type ctxKey struct{}

// WithUser returns a child context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user attached by WithUser.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok && u.Valid()
}

// ContextProvider resolves the user attached to the context (see WithUser).
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return User{}, OpError{Op: "identity.CurrentUser", Kind: ErrUnauthenticated}
	}
	return u, nil
}
