package thread

import (
	"errors"
	"testing"
	"time"
)

func TestNewText(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "plain", raw: "Hello", want: "Hello"},
		{name: "trimmed", raw: "  hi there \n", want: "hi there"},
		{name: "blank", raw: "   ", wantErr: ErrEmptyText},
		{name: "empty", raw: "", wantErr: ErrEmptyText},
		{name: "tabs and newlines", raw: "\t\n", wantErr: ErrEmptyText},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := NewText(alice, tc.raw, now)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if m.Text != tc.want || m.Kind != KindText {
				t.Fatalf("got %+v want text %q", m, tc.want)
			}
			if m.SenderID != alice.ID || !m.CreatedAt.Equal(now) {
				t.Fatalf("sender/created mismatch: %+v", m)
			}
		})
	}
}

func TestNewAudio(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	m, err := NewAudio(alice, Audio{SourceRef: "blob:1", DurationSeconds: 0}, now)
	if err != nil {
		t.Fatalf("zero duration should be accepted: %v", err)
	}
	if !m.IsAudio() || m.Audio.DurationSeconds != 0 {
		t.Fatalf("unexpected: %+v", m)
	}

	if _, err := NewAudio(alice, Audio{SourceRef: "", DurationSeconds: 2}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing ref: err=%v", err)
	}
	if _, err := NewAudio(alice, Audio{SourceRef: "blob:1", DurationSeconds: -1}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative duration: err=%v", err)
	}
	if _, err := NewAudio(Sender{}, Audio{SourceRef: "blob:1"}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing sender: err=%v", err)
	}
}

func TestMessageValidate_RejectsMixedVariants(t *testing.T) {
	t.Parallel()

	m := Message{SenderID: "u", Kind: KindText, Text: "x", Audio: &Audio{SourceRef: "r"}}
	if err := m.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("text+audio: err=%v", err)
	}

	m = Message{SenderID: "u", Kind: "video"}
	if err := m.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown kind: err=%v", err)
	}
}
