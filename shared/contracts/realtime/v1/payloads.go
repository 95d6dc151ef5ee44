package v1

import "time"

// HelloPayload carries the access token that establishes the current user.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload must carry SessionID (used by ws-smoke and server logic).
type HelloAckPayload struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type ParticipantPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// ThreadJoinPayload requests a thread and, echoed back, describes it.
type ThreadJoinPayload struct {
	ThreadID     string               `json:"thread_id"`
	Kind         string               `json:"kind,omitempty"`
	Title        string               `json:"title,omitempty"`
	Participants []ParticipantPayload `json:"participants,omitempty"`
}

type MessageSendPayload struct {
	ThreadID    string `json:"thread_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload acknowledges a send. Dropped is true when the text was blank and
// nothing was appended.
type MessageAckPayload struct {
	ThreadID    string `json:"thread_id"`
	ClientMsgID string `json:"client_msg_id"`
	MessageID   string `json:"message_id,omitempty"`
	Seq         int64  `json:"seq,omitempty"`
	Dropped     bool   `json:"dropped,omitempty"`
}

type AudioPayload struct {
	SourceRef       string `json:"source_ref"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
	DurationLabel   string `json:"duration_label"`
}

// MessagePayload is one thread entry as rendered by clients.
type MessagePayload struct {
	ThreadID    string        `json:"thread_id"`
	MessageID   string        `json:"message_id"`
	ClientMsgID string        `json:"client_msg_id,omitempty"`
	Seq         int64         `json:"seq"`
	Kind        string        `json:"kind"`
	SenderID    string        `json:"sender_id"`
	SenderName  string        `json:"sender_name"`
	Text        string        `json:"text,omitempty"`
	Audio       *AudioPayload `json:"audio,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type ThreadHistoryFetchPayload struct {
	ThreadID string `json:"thread_id"`
	AfterSeq *int64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ThreadHistoryChunkPayload struct {
	ThreadID string           `json:"thread_id"`
	Messages []MessagePayload `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// CaptureMicPayload reports the client's microphone permission outcome.
// Reason is "denied" or "unavailable" when Granted is false.
type CaptureMicPayload struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// CaptureStatePayload is the recording readout.
type CaptureStatePayload struct {
	CaptureID      string `json:"capture_id"`
	State          string `json:"state"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ElapsedLabel   string `json:"elapsed_label"`
	Error          string `json:"error,omitempty"`
}

// PlaybackRefPayload addresses a playback session by the audio message it plays.
type PlaybackRefPayload struct {
	MessageID string `json:"message_id"`
}

type PlaybackStatePayload struct {
	MessageID       string  `json:"message_id"`
	State           string  `json:"state"`
	Speed           float64 `json:"speed"`
	SpeedLabel      string  `json:"speed_label"`
	PositionSeconds float64 `json:"position_seconds"`
	Progress        float64 `json:"progress"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
