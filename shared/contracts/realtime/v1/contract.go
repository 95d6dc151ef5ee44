// Package v1 defines the campus realtime protocol v1 contract.
//
// It is shared between the server and clients so the wire format has one source of truth.
// Text frames carry JSON Envelopes; binary frames carry raw audio chunks for the capture
// that is currently recording on the connection.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must request.
const Subprotocol = "campus.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake with the resolved user (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeThreadJoin binds the connection to a thread (client -> server) and is echoed back.
	TypeThreadJoin = "thread_join"

	// TypeMessageSend submits composer text (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew announces an appended message, text or audio (server -> thread members).
	TypeMessageNew = "message_new"

	TypeThreadHistoryFetch = "thread_history_fetch"
	TypeThreadHistoryChunk = "thread_history_chunk"

	// Capture controls (client -> server) and readout (server -> client).
	TypeCaptureStart  = "capture_start"
	TypeCaptureMic    = "capture_mic"
	TypeCaptureStop   = "capture_stop"
	TypeCaptureCancel = "capture_cancel"
	TypeCaptureState  = "capture_state"

	// Playback controls (client -> server) and readout (server -> client).
	TypePlaybackOpen   = "playback_open"
	TypePlaybackToggle = "playback_toggle"
	TypePlaybackSpeed  = "playback_speed"
	TypePlaybackClose  = "playback_close"
	TypePlaybackState  = "playback_state"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var knownTypes = map[string]struct{}{
	TypeHello:              {},
	TypeHelloAck:           {},
	TypeThreadJoin:         {},
	TypeMessageSend:        {},
	TypeMessageAck:         {},
	TypeMessageNew:         {},
	TypeThreadHistoryFetch: {},
	TypeThreadHistoryChunk: {},
	TypeCaptureStart:       {},
	TypeCaptureMic:         {},
	TypeCaptureStop:        {},
	TypeCaptureCancel:      {},
	TypeCaptureState:       {},
	TypePlaybackOpen:       {},
	TypePlaybackToggle:     {},
	TypePlaybackSpeed:      {},
	TypePlaybackClose:      {},
	TypePlaybackState:      {},
	TypeError:              {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// Decode unmarshals the payload into dst. An absent payload decodes as "{}".
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
