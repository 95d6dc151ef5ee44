// Package main is a CI-friendly WebSocket smoke test for the campus realtime gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - thread join echo
//   - send -> ack
//   - fanout message_new to another client
//   - history fetch
//   - idempotent dedupe by client_msg_id
//   - voice capture: mic grant, binary audio frames, stop -> audio message_new on both
//     clients with the recorded duration, media fetch by byte range
//   - playback open/toggle/speed over the recorded message
//
// The audio steps run for -record (0 skips them); the server's capture_min_seconds must
// not exceed it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "campus/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		threadID = flag.String("thread", "dev-thread-1", "Thread ID to join")
		token    = flag.String("token", "", "Optional bearer token presented on the handshake")
		text     = flag.String("text", "hello campus", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		record   = flag.Duration("record", 2*time.Second, "How long to record the voice message (0 skips audio steps)")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *token, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *token, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s(%s) B=%s(%s) origin=%q\n", a.sessionID, a.userID, b.sessionID, b.userID, *origin)
	}

	mustJoin(root, a, *threadID, *timeout)
	mustJoin(root, b, *threadID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	messageID, seq := mustSendAndAssertAck(root, a, *threadID, clientMsgID, *text, *timeout)

	mustAssertNew(root, b, *threadID, clientMsgID, messageID, seq, a.userID, *text, *timeout)

	_ = drainOptionalNew(root, a, 750*time.Millisecond)

	mustHistoryFetchContains(root, b, *threadID, nil, 50, clientMsgID, messageID, seq, a.userID, *text, *timeout)

	after := seq
	mustHistoryFetchEmpty(root, b, *threadID, &after, 50, *timeout)

	_, seq2 := mustSendAndAssertAck(root, a, *threadID, clientMsgID, *text, *timeout)
	if seq2 != seq {
		fatalf("dedupe: seq mismatch: first=%d second=%d", seq, seq2)
	}

	mustAssertNoType(root, b, v1.TypeMessageNew, 1200*time.Millisecond)
	mustAssertNoType(root, a, v1.TypeMessageNew, 1200*time.Millisecond)

	if *record > 0 {
		audio := mustRecordAudio(root, a, *threadID, *record, *timeout)
		mustAssertAudioNew(root, b, audio, *timeout)
		mustFetchMediaRange(root, *wsURL, audio.Audio.URL, *timeout)
		mustPlaybackControls(root, a, audio.MessageID, *timeout)
		if *verbose {
			fmt.Printf("audio: message_id=%s duration=%ds url=%s\n", audio.MessageID, audio.Audio.DurationSeconds, audio.Audio.URL)
		}
	}

	fmt.Printf("OK: A=%s B=%s thread_id=%s seq=%d message_id=%s\n", a.sessionID, b.sessionID, *threadID, seq, messageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(token) != "" {
		h.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello_ack missing session_id/user_id (%s)", name)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, threadID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeThreadJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ThreadJoinPayload{ThreadID: threadID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeThreadJoin, stepTimeout, nil)

	var p v1.ThreadJoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.ThreadID != threadID {
		fatalf("join echo thread_id mismatch (%s): got=%q want=%q", c.name, p.ThreadID, threadID)
	}
	if strings.TrimSpace(p.Kind) == "" {
		fatalf("join echo missing kind (%s)", c.name)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, threadID, clientMsgID, text string, stepTimeout time.Duration) (messageID string, seq int64) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{
			ThreadID:    threadID,
			ClientMsgID: clientMsgID,
			Text:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeMessageNew: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.ThreadID != threadID {
		fatalf("ack thread_id mismatch (%s): got=%q want=%q", c.name, p.ThreadID, threadID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if p.Dropped {
		fatalf("ack reports dropped message (%s)", c.name)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		fatalf("ack missing message_id (%s)", c.name)
	}
	if p.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, p.Seq)
	}
	return p.MessageID, p.Seq
}

func mustAssertNew(parent context.Context, c *smokeClient, threadID, clientMsgID, messageID string, seq int64, senderID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}
	assertMessage(c.name, "new", p, threadID, clientMsgID, messageID, seq, senderID, text)
}

func assertMessage(name, where string, p v1.MessagePayload, threadID, clientMsgID, messageID string, seq int64, senderID, text string) {
	switch {
	case p.ThreadID != threadID:
		fatalf("%s thread_id mismatch (%s): got=%q want=%q", where, name, p.ThreadID, threadID)
	case p.ClientMsgID != clientMsgID:
		fatalf("%s client_msg_id mismatch (%s): got=%q want=%q", where, name, p.ClientMsgID, clientMsgID)
	case p.MessageID != messageID:
		fatalf("%s message_id mismatch (%s): got=%q want=%q", where, name, p.MessageID, messageID)
	case p.Seq != seq:
		fatalf("%s seq mismatch (%s): got=%d want=%d", where, name, p.Seq, seq)
	case p.SenderID != senderID:
		fatalf("%s sender mismatch (%s): got=%q want=%q", where, name, p.SenderID, senderID)
	case p.Kind != "text" || p.Text != text:
		fatalf("%s body mismatch (%s): kind=%q text=%q", where, name, p.Kind, p.Text)
	case p.CreatedAt.IsZero():
		fatalf("%s created_at missing/zero (%s)", where, name)
	}
}

func fetchHistory(parent context.Context, c *smokeClient, threadID string, afterSeq *int64, limit int, stepTimeout time.Duration) v1.ThreadHistoryChunkPayload {
	req := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeThreadHistoryFetch,
		ID:   fmt.Sprintf("%s-history-fetch-%d", c.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ThreadHistoryFetchPayload{
			ThreadID: threadID,
			AfterSeq: afterSeq,
			Limit:    limit,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	chunk := c.mustReadUntilType(parent, v1.TypeThreadHistoryChunk, stepTimeout, nil)

	var p v1.ThreadHistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history chunk payload (%s): %v", c.name, err)
	}
	if p.ThreadID != threadID {
		fatalf("history chunk thread_id mismatch (%s): got=%q want=%q", c.name, p.ThreadID, threadID)
	}
	return p
}

func mustHistoryFetchContains(
	parent context.Context,
	c *smokeClient,
	threadID string,
	afterSeq *int64,
	limit int,
	clientMsgID, messageID string,
	seq int64,
	senderID, text string,
	stepTimeout time.Duration,
) {
	p := fetchHistory(parent, c, threadID, afterSeq, limit, stepTimeout)
	for _, m := range p.Messages {
		if m.MessageID == messageID {
			assertMessage(c.name, "history", m, threadID, clientMsgID, messageID, seq, senderID, text)
			return
		}
	}
	fatalf("history chunk missing expected message (%s)", c.name)
}

func mustHistoryFetchEmpty(parent context.Context, c *smokeClient, threadID string, afterSeq *int64, limit int, stepTimeout time.Duration) {
	p := fetchHistory(parent, c, threadID, afterSeq, limit, stepTimeout)
	if len(p.Messages) != 0 {
		fatalf("expected empty history chunk (%s), got=%d", c.name, len(p.Messages))
	}
}

func drainOptionalNew(parent context.Context, c *smokeClient, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errCh:
			if err != nil {
				return err
			}
			return errors.New("connection closed while draining")
		case env, ok := <-c.inbox:
			if !ok {
				return errors.New("connection closed while draining")
			}
			if env.Type == v1.TypeMessageNew {
				return nil
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func newEnvelope(c *smokeClient, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

// mustCaptureState reads capture_state envelopes until one reports want. Any other
// terminal state fails the run.
func (c *smokeClient) mustCaptureState(parent context.Context, want string, stepTimeout time.Duration) v1.CaptureStatePayload {
	deadline := time.Now().Add(stepTimeout)
	for {
		env := c.mustReadUntilType(parent, v1.TypeCaptureState, time.Until(deadline), nil)
		var p v1.CaptureStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal capture_state payload (%s): %v", c.name, err)
		}
		if p.State == want {
			return p
		}
		switch p.State {
		case "completed", "failed", "cancelled":
			fatalf("capture ended in %q, want %q (%s): %s", p.State, want, c.name, p.Error)
		}
	}
}

func mustRecordAudio(parent context.Context, c *smokeClient, threadID string, record, stepTimeout time.Duration) v1.MessagePayload {
	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypeCaptureStart, struct{}{}), stepTimeout)
	c.mustCaptureState(parent, "requesting", stepTimeout)

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypeCaptureMic, v1.CaptureMicPayload{Granted: true}), stepTimeout)
	c.mustCaptureState(parent, "recording", stepTimeout)

	// Stream a few frames across the recording window. The elapsed ticks arrive
	// meanwhile and are read after stop.
	const frames = 4
	frame := make([]byte, 1024)
	for i := range frame {
		frame[i] = byte(i)
	}
	for i := 0; i < frames; i++ {
		mustWriteBinary(parent, c.conn, frame, stepTimeout)
		time.Sleep(record / frames)
	}
	// Let the last whole-second tick land before stopping.
	time.Sleep(250 * time.Millisecond)

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypeCaptureStop, struct{}{}), stepTimeout)

	skip := map[string]struct{}{v1.TypeCaptureState: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, skip)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal audio message_new payload (%s): %v", c.name, err)
	}
	wantSeconds := int(record / time.Second)
	switch {
	case p.ThreadID != threadID:
		fatalf("audio thread_id mismatch (%s): got=%q want=%q", c.name, p.ThreadID, threadID)
	case p.Kind != "audio" || p.Audio == nil:
		fatalf("expected audio message (%s): kind=%q", c.name, p.Kind)
	case p.SenderID != c.userID:
		fatalf("audio sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, c.userID)
	case p.Audio.DurationSeconds < wantSeconds:
		fatalf("audio duration too short (%s): got=%ds want>=%ds", c.name, p.Audio.DurationSeconds, wantSeconds)
	case strings.TrimSpace(p.Audio.URL) == "":
		fatalf("audio message missing url (%s)", c.name)
	}
	return p
}

func mustAssertAudioNew(parent context.Context, c *smokeClient, want v1.MessagePayload, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal audio message_new payload (%s): %v", c.name, err)
	}
	if p.MessageID != want.MessageID || p.Audio == nil {
		fatalf("audio fanout mismatch (%s): got=%q want=%q", c.name, p.MessageID, want.MessageID)
	}
	if p.Audio.DurationSeconds != want.Audio.DurationSeconds || p.Audio.URL != want.Audio.URL {
		fatalf("audio fanout body mismatch (%s): got=%+v want=%+v", c.name, *p.Audio, *want.Audio)
	}
}

// mustFetchMediaRange fetches the first byte of the artifact over plain HTTP on the
// gateway's host.
func mustFetchMediaRange(parent context.Context, wsURL, mediaURL string, stepTimeout time.Duration) {
	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse ws url: %v", err)
	}
	u.Scheme = map[string]string{"ws": "http", "wss": "https"}[u.Scheme]
	ref, err := url.Parse(mediaURL)
	if err != nil {
		fatalf("parse media url: %v", err)
	}
	target := u.ResolveReference(ref)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		fatalf("media request: %v", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("media fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		fatalf("media range fetch: status=%d want %d", resp.StatusCode, http.StatusPartialContent)
	}
}

func mustPlaybackState(parent context.Context, c *smokeClient, messageID, desc string, match func(v1.PlaybackStatePayload) bool, stepTimeout time.Duration) v1.PlaybackStatePayload {
	deadline := time.Now().Add(stepTimeout)
	skip := map[string]struct{}{v1.TypeCaptureState: {}}
	for {
		env := c.mustReadUntilType(parent, v1.TypePlaybackState, time.Until(deadline), skip)
		var p v1.PlaybackStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal playback_state payload (%s): %v", c.name, err)
		}
		if p.MessageID != messageID {
			continue
		}
		if match(p) {
			return p
		}
		if time.Now().After(deadline) {
			fatalf("playback never reached %s (%s): last=%+v", desc, c.name, p)
		}
	}
}

func mustPlaybackControls(parent context.Context, c *smokeClient, messageID string, stepTimeout time.Duration) {
	ref := v1.PlaybackRefPayload{MessageID: messageID}

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypePlaybackOpen, ref), stepTimeout)
	open := mustPlaybackState(parent, c, messageID, "open", func(v1.PlaybackStatePayload) bool { return true }, stepTimeout)
	if open.State != "stopped" || open.SpeedLabel != "1x" || open.Progress != 0 {
		fatalf("playback open readout (%s): %+v", c.name, open)
	}

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypePlaybackToggle, ref), stepTimeout)
	mustPlaybackState(parent, c, messageID, "playing", func(p v1.PlaybackStatePayload) bool { return p.State == "playing" }, stepTimeout)

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypePlaybackSpeed, ref), stepTimeout)
	sp := mustPlaybackState(parent, c, messageID, "1.5x", func(p v1.PlaybackStatePayload) bool { return p.SpeedLabel == "1.5x" }, stepTimeout)
	if sp.Speed != 1.5 {
		fatalf("playback speed (%s): got=%v want 1.5", c.name, sp.Speed)
	}

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c, v1.TypePlaybackClose, ref), stepTimeout)
}

func mustWriteBinary(parent context.Context, conn *websocket.Conn, b []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		fatalf("binary write failed: %v", err)
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
