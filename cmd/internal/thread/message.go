// Package thread holds the per-thread append-only message log.
package thread

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the message variant.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Audio is the payload of an audio message. DurationSeconds is fixed at creation.
type Audio struct {
	SourceRef       string
	DurationSeconds int
}

// Message is one immutable entry of a thread log: either Text or Audio.
//
// ID, ThreadID and Seq are assigned by the Store on append.
type Message struct {
	ID          string
	ThreadID    string
	Seq         int64
	ClientMsgID string

	SenderID   string
	SenderName string

	Kind  Kind
	Text  string
	Audio *Audio

	CreatedAt time.Time
}

// Sender identifies the author of a new message.
type Sender struct {
	ID   string
	Name string
}

// NewText builds a Text message from raw input. Surrounding whitespace is trimmed;
// an input that trims to nothing returns ErrEmptyText.
func NewText(from Sender, raw string, now time.Time) (Message, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return Message{}, ErrEmptyText
	}
	m := Message{
		SenderID:   from.ID,
		SenderName: from.Name,
		Kind:       KindText,
		Text:       content,
		CreatedAt:  now,
	}
	return m, m.Validate()
}

// NewAudio builds an Audio message for a finished recording.
func NewAudio(from Sender, a Audio, now time.Time) (Message, error) {
	m := Message{
		SenderID:   from.ID,
		SenderName: from.Name,
		Kind:       KindAudio,
		Audio:      &Audio{SourceRef: a.SourceRef, DurationSeconds: a.DurationSeconds},
		CreatedAt:  now,
	}
	return m, m.Validate()
}

// Validate checks that the variant is well-formed.
func (m Message) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidInput)
	}
	switch m.Kind {
	case KindText:
		if m.Audio != nil {
			return fmt.Errorf("%w: text message carries audio", ErrInvalidInput)
		}
		if m.Text == "" || m.Text != strings.TrimSpace(m.Text) {
			return fmt.Errorf("%w: text must be non-empty and trimmed", ErrInvalidInput)
		}
	case KindAudio:
		if m.Audio == nil {
			return fmt.Errorf("%w: audio message without audio", ErrInvalidInput)
		}
		if m.Text != "" {
			return fmt.Errorf("%w: audio message carries text", ErrInvalidInput)
		}
		if strings.TrimSpace(m.Audio.SourceRef) == "" {
			return fmt.Errorf("%w: missing source ref", ErrInvalidInput)
		}
		if m.Audio.DurationSeconds < 0 {
			return fmt.Errorf("%w: negative duration", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, m.Kind)
	}
	return nil
}

// IsAudio reports whether m is the Audio variant.
func (m Message) IsAudio() bool { return m.Kind == KindAudio && m.Audio != nil }

// clone returns a copy that shares no mutable state with m.
func (m Message) clone() Message {
	if m.Audio != nil {
		a := *m.Audio
		m.Audio = &a
	}
	return m
}
