package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newPair(t *testing.T, issuer string, ttl, skew time.Duration) (*TokenIssuer, *TokenVerifier) {
	t.Helper()
	iss, err := NewTokenIssuer("", TokenConfig{Issuer: issuer, TTL: ttl})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	v, err := NewTokenVerifier(iss.PublicKeyHex(), TokenConfig{Issuer: issuer, ClockSkew: skew})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	return iss, v
}

func TestToken_IssueVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	iss, v := newPair(t, "campus", 10*time.Minute, 30*time.Second)
	now := time.Now().UTC()

	tok, exp, err := iss.Issue(User{ID: "u-1", DisplayName: "  Ada   Lovelace "}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("exp=%s not after now", exp)
	}

	c, err := v.Verify(tok, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.User.ID != "u-1" || c.User.DisplayName != "Ada Lovelace" || c.Issuer != "campus" {
		t.Fatalf("claims=%+v", c)
	}
}

func TestToken_NameFallsBackToID(t *testing.T) {
	t.Parallel()

	iss, v := newPair(t, "campus", time.Minute, 0)
	tok, _, err := iss.Issue(User{ID: "u-2"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := v.Verify(tok, time.Now().UTC())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.User.DisplayName != "u-2" {
		t.Fatalf("display name=%q want u-2", c.User.DisplayName)
	}
}

func TestToken_Rejections(t *testing.T) {
	t.Parallel()

	iss, v := newPair(t, "campus", time.Minute, 0)
	other, _ := newPair(t, "someone-else", time.Minute, 0)
	now := time.Now().UTC()

	good, _, _ := iss.Issue(User{ID: "u"}, now)
	foreign, _, _ := other.Issue(User{ID: "u"}, now)
	expired, _, _ := iss.Issue(User{ID: "u"}, now.Add(-time.Hour))

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrUnauthenticated},
		{name: "garbage", token: "v4.public.nope", want: ErrInvalidToken},
		{name: "wrong key and issuer", token: foreign, want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrInvalidToken},
		{name: "tampered", token: good[:len(good)-4] + "AAAA", want: ErrInvalidToken},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(tc.token, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if !IsUnauthenticated(err) {
				t.Fatalf("IsUnauthenticated(%v)=false", err)
			}
		})
	}
}

func TestToken_ConfigErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenVerifier("zz", TokenConfig{Issuer: "x"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad key: err=%v", err)
	}
	iss, _ := NewTokenIssuer("", TokenConfig{Issuer: "x"})
	if _, err := NewTokenVerifier(iss.PublicKeyHex(), TokenConfig{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing issuer: err=%v", err)
	}
	if _, _, err := iss.Issue(User{}, time.Now()); !IsInvalidInput(err) {
		t.Fatalf("issue without id: err=%v", err)
	}
}

func TestProviders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := (ContextProvider{}).CurrentUser(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty ctx: err=%v", err)
	}
	u := User{ID: "u-9", DisplayName: "Nine"}
	got, err := (ContextProvider{}).CurrentUser(WithUser(ctx, u))
	if err != nil || got != u {
		t.Fatalf("got %+v err=%v", got, err)
	}

	if got, err := Static(u).CurrentUser(ctx); err != nil || got != u {
		t.Fatalf("static: %+v err=%v", got, err)
	}
	if _, err := (Static{}).CurrentUser(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty static: err=%v", err)
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	t.Parallel()

	if got := NormalizeDisplayName("  a \t b\n c "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("é", MaxDisplayNameRunes+10)
	if got := []rune(NormalizeDisplayName(long)); len(got) != MaxDisplayNameRunes {
		t.Fatalf("len=%d want %d", len(got), MaxDisplayNameRunes)
	}
}
