package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"campus/cmd/identity"
	"campus/cmd/internal/capture"
	"campus/cmd/internal/composer"
	"campus/cmd/internal/directory"
	"campus/cmd/internal/playback"
	"campus/cmd/internal/thread"
	v1 "campus/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// codedError is a recoverable request error reported to the client as an error envelope.
type codedError struct {
	code string
	msg  string
}

func (e codedError) Error() string { return e.msg }

// fatalError is reported like codedError, then the connection is closed.
type fatalError struct {
	codedError
}

func badRequest(msg string) error { return codedError{code: "bad_request", msg: msg} }

// joiner is implemented by directories that record who has shown up in a thread.
type joiner interface {
	Join(threadID string, p directory.Participant)
}

// wsConn is the per-connection session state. room, thread, comp and players are only
// touched from the read loop.
type wsConn struct {
	ctx context.Context
	g   *WSGateway
	log *slog.Logger

	client *Client
	user   identity.User
	authed bool
	hello  bool

	mic   *remoteMic
	coord *playback.Coordinator

	room    *Room
	thread  directory.Thread
	comp    *composer.Composer
	players map[string]*playback.Session

	bg        sync.WaitGroup
	closeOnce sync.Once
}

func newWSConn(ctx context.Context, g *WSGateway, sessionID string, user identity.User, authed bool) *wsConn {
	c := &wsConn{
		ctx:     ctx,
		g:       g,
		log:     g.log.With("session_id", sessionID),
		client:  NewClient(user.ID, sessionID, g.cfg.SendQueueSize),
		user:    user,
		authed:  authed,
		mic:     newRemoteMic(),
		players: make(map[string]*playback.Session),
	}
	if g.cfg.PlaybackExclusive {
		c.coord = playback.NewCoordinator()
	}
	return c
}

func (c *wsConn) dispatch(env v1.Envelope) error {
	if !c.hello && env.Type != v1.TypeHello {
		return fatalError{codedError{code: "hello_required", msg: "hello must be the first envelope"}}
	}

	switch env.Type {
	case v1.TypeHello:
		return c.onHello(env)
	case v1.TypeThreadJoin:
		return c.onThreadJoin(env)
	case v1.TypeMessageSend:
		return c.onMessageSend(env)
	case v1.TypeThreadHistoryFetch:
		return c.onHistoryFetch(env)
	case v1.TypeCaptureStart:
		return c.onCaptureStart()
	case v1.TypeCaptureMic:
		return c.onCaptureMic(env)
	case v1.TypeCaptureStop:
		return c.onCaptureStop()
	case v1.TypeCaptureCancel:
		return c.onCaptureCancel()
	case v1.TypePlaybackOpen:
		return c.onPlaybackOpen(env)
	case v1.TypePlaybackToggle, v1.TypePlaybackSpeed, v1.TypePlaybackClose:
		return c.onPlaybackControl(env)
	default:
		return codedError{code: "unsupported_type", msg: "type not accepted from clients: " + env.Type}
	}
}

// ---- session ----

func (c *wsConn) onHello(env v1.Envelope) error {
	if c.hello {
		return codedError{code: "already_greeted", msg: "hello already acknowledged"}
	}
	var p v1.HelloPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}

	if tok := strings.TrimSpace(p.Token); tok != "" {
		u, err := c.g.verify(tok)
		if err != nil {
			c.log.Info("ws.hello.auth_fail", "err", err)
			return fatalError{codedError{code: "unauthorized", msg: "invalid token"}}
		}
		if c.authed && u.ID != c.user.ID {
			return fatalError{codedError{code: "unauthorized", msg: "token does not match session"}}
		}
		c.user = u
		c.authed = true
		c.client.UserID = u.ID
	}

	c.hello = true
	c.log = c.log.With("user_id", c.user.ID)
	c.log.Info("ws.hello", "authenticated", c.authed)

	c.send(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID:   c.client.SessionID,
		UserID:      c.user.ID,
		DisplayName: c.user.DisplayName,
	})
	return nil
}

// ---- threads ----

func (c *wsConn) onThreadJoin(env v1.Envelope) error {
	var p v1.ThreadJoinPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	threadID := strings.TrimSpace(p.ThreadID)
	if threadID == "" {
		return badRequest("missing thread_id")
	}

	t, err := c.g.dir.Thread(c.ctx, threadID)
	if errors.Is(err, directory.ErrThreadNotFound) {
		return codedError{code: "thread_not_found", msg: "thread not found"}
	}
	if err != nil {
		return err
	}
	if err := directory.EnsureMember(c.ctx, c.g.dir, c.user.ID, threadID); err != nil {
		if errors.Is(err, directory.ErrNotMember) {
			c.log.Info("ws.join.forbidden", "thread_id", threadID)
			return codedError{code: "forbidden", msg: "not a member of this thread"}
		}
		return err
	}
	if j, ok := c.g.dir.(joiner); ok {
		j.Join(threadID, directory.Participant{UserID: c.user.ID, DisplayName: c.user.DisplayName})
	}

	participants, err := c.g.dir.Participants(c.ctx, threadID)
	if err != nil {
		return err
	}

	comp, err := composer.New(composer.Config{
		ThreadID:   threadID,
		Store:      c.g.store,
		Identity:   identity.Static(c.user),
		Capture:    composer.CaptureWith(c.mic, c.g.media),
		Clock:      c.g.clock,
		Logger:     c.log,
		MinSeconds: c.g.cfg.CaptureMinSeconds,
		MaxSeconds: c.g.cfg.CaptureMaxSeconds,
		MaxBytes:   c.g.cfg.CaptureMaxBytes,
		OnAppend:   c.onAppend,
		OnCapture:  c.onCaptureChange,
	})
	if err != nil {
		return err
	}

	c.leaveThread()
	c.thread = t
	c.comp = comp
	c.room = c.g.hub.Join(t.ID, t.Kind, c.client)

	out := v1.ThreadJoinPayload{ThreadID: t.ID, Kind: t.Kind, Title: t.Title}
	for _, pp := range participants {
		out.Participants = append(out.Participants, v1.ParticipantPayload{
			UserID:      pp.UserID,
			DisplayName: pp.DisplayName,
			AvatarRef:   pp.AvatarRef,
		})
	}
	c.send(v1.TypeThreadJoin, out)
	return nil
}

// leaveThread drops the current thread binding: the composer (and any live capture),
// open players, and room membership.
func (c *wsConn) leaveThread() {
	if c.comp != nil {
		c.comp.Close()
		c.comp = nil
	}
	c.mic.abort()
	c.closePlayers()
	if c.room != nil {
		c.g.hub.Leave(c.room, c.client.SessionID)
		c.room = nil
	}
	c.thread = directory.Thread{}
}

func (c *wsConn) requireThread(threadID string) error {
	if c.comp == nil {
		return codedError{code: "not_joined", msg: "join a thread first"}
	}
	if id := strings.TrimSpace(threadID); id != "" && id != c.thread.ID {
		return codedError{code: "not_joined", msg: "not joined to thread " + id}
	}
	return nil
}

func (c *wsConn) onMessageSend(env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	if err := c.requireThread(p.ThreadID); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.Text) > maxMessageChars {
		return codedError{code: "too_long", msg: "message text too long"}
	}

	msg, ok, err := c.comp.SubmitText(c.ctx, p.Text, composer.WithClientMsgID(p.ClientMsgID))
	if err != nil {
		return err
	}

	ack := v1.MessageAckPayload{ThreadID: c.thread.ID, ClientMsgID: p.ClientMsgID, Dropped: !ok}
	if ok {
		ack.MessageID = msg.ID
		ack.Seq = msg.Seq
	}
	c.send(v1.TypeMessageAck, ack)
	return nil
}

func (c *wsConn) onHistoryFetch(env v1.Envelope) error {
	var p v1.ThreadHistoryFetchPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	if err := c.requireThread(p.ThreadID); err != nil {
		return err
	}

	res, err := c.g.store.FetchHistory(c.ctx, thread.FetchHistoryInput{
		ThreadID: c.thread.ID,
		AfterSeq: p.AfterSeq,
		Limit:    p.Limit,
	})
	if err != nil {
		return err
	}

	out := v1.ThreadHistoryChunkPayload{
		ThreadID: c.thread.ID,
		Messages: make([]v1.MessagePayload, 0, len(res.Messages)),
		HasMore:  res.HasMore,
	}
	for _, m := range res.Messages {
		out.Messages = append(out.Messages, c.g.messagePayload(m))
	}
	c.send(v1.TypeThreadHistoryChunk, out)
	return nil
}

// onAppend fans a freshly stored message out to the room, the sender included.
func (c *wsConn) onAppend(m thread.Message) {
	c.g.metrics.MessageAppended(string(m.Kind))

	env, err := newEnvelope(v1.TypeMessageNew, c.g.messagePayload(m), c.g.clock.Now())
	if err != nil {
		c.log.Error("ws.message_new.encode_fail", "err", err)
		return
	}
	if r := c.g.hub.Room(m.ThreadID); r != nil {
		r.Broadcast(env)
		return
	}
	c.client.Offer(env)
}

func (g *WSGateway) messagePayload(m thread.Message) v1.MessagePayload {
	out := v1.MessagePayload{
		ThreadID:    m.ThreadID,
		MessageID:   m.ID,
		ClientMsgID: m.ClientMsgID,
		Seq:         m.Seq,
		Kind:        string(m.Kind),
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
	}
	if m.IsAudio() {
		out.Audio = &v1.AudioPayload{
			SourceRef:       m.Audio.SourceRef,
			URL:             g.cfg.MediaPath + m.Audio.SourceRef,
			DurationSeconds: m.Audio.DurationSeconds,
			DurationLabel:   capture.FormatDuration(m.Audio.DurationSeconds),
		}
	}
	return out
}

// ---- capture ----

func (c *wsConn) onCaptureStart() error {
	if err := c.requireThread(""); err != nil {
		return err
	}
	comp := c.comp

	// Acquisition waits for the client's capture_mic answer, which arrives through this
	// read loop, so it cannot block here. The slot is armed first: the answer may be read
	// before the goroutine reaches the device.
	slot := c.mic.arm()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := comp.StartRecording(c.ctx); err != nil {
			c.mic.disarm(slot)
			c.log.Info("ws.capture.start_fail", "err", err)
			c.sendError(captureErrorCode(err), err.Error())
		}
	}()
	return nil
}

func (c *wsConn) onCaptureMic(env v1.Envelope) error {
	var p v1.CaptureMicPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	if !c.mic.answer(micAnswer{granted: p.Granted, reason: p.Reason}) {
		return codedError{code: "no_mic_request", msg: "no microphone request pending"}
	}
	return nil
}

func (c *wsConn) onCaptureStop() error {
	if err := c.requireThread(""); err != nil {
		return err
	}
	if _, err := c.comp.StopRecording(c.ctx); err != nil {
		return codedError{code: captureErrorCode(err), msg: err.Error()}
	}
	return nil
}

func (c *wsConn) onCaptureCancel() error {
	if err := c.requireThread(""); err != nil {
		return err
	}
	if !c.comp.CancelRecording() {
		return codedError{code: "invalid_transition", msg: "nothing to cancel"}
	}
	return nil
}

func (c *wsConn) onAudioFrame(chunk []byte) {
	if !c.mic.push(chunk) {
		c.log.Debug("ws.audio.drop", "bytes", len(chunk))
	}
}

func (c *wsConn) onCaptureChange(s capture.Snapshot) {
	p := v1.CaptureStatePayload{
		CaptureID:      s.ID,
		State:          s.State.String(),
		ElapsedSeconds: s.ElapsedSeconds,
		ElapsedLabel:   capture.FormatDuration(s.ElapsedSeconds),
	}
	if s.Err != nil {
		p.Error = s.Err.Error()
	}
	c.send(v1.TypeCaptureState, p)

	if s.State.Terminal() {
		c.g.metrics.CaptureFinished(s.State.String(), s.ElapsedSeconds)
	}
}

func captureErrorCode(err error) string {
	switch {
	case errors.Is(err, composer.ErrCaptureActive):
		return "capture_active"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, errMicBusy):
		return "device_unavailable"
	case errors.Is(err, capture.ErrEncodeFailure):
		return "encode_failure"
	case errors.Is(err, capture.ErrTooShort):
		return "too_short"
	case errors.Is(err, capture.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// ---- playback ----

func (c *wsConn) onPlaybackOpen(env v1.Envelope) error {
	var p v1.PlaybackRefPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	if err := c.requireThread(""); err != nil {
		return err
	}
	id := strings.TrimSpace(p.MessageID)
	if s, ok := c.players[id]; ok {
		c.sendPlayback(s.Snapshot())
		return nil
	}
	if len(c.players) >= maxPlaybackSessions {
		return codedError{code: "too_many_players", msg: "too many open players"}
	}

	m, ok, err := c.g.store.Get(c.ctx, c.thread.ID, id)
	if err != nil {
		return err
	}
	if !ok {
		return codedError{code: "message_not_found", msg: "message not found"}
	}
	if !m.IsAudio() {
		return badRequest("message has no audio")
	}

	s, err := playback.NewSession(playback.Source{
		MessageID:       m.ID,
		SourceRef:       m.Audio.SourceRef,
		DurationSeconds: m.Audio.DurationSeconds,
	}, playback.Options{
		Clock:          c.g.clock,
		Logger:         c.log,
		SampleInterval: c.g.cfg.PlaybackSampleInterval,
		Coordinator:    c.coord,
		OnChange:       c.sendPlayback,
	})
	if err != nil {
		return err
	}
	c.players[id] = s
	c.g.metrics.PlaybackOpened()
	c.sendPlayback(s.Snapshot())
	return nil
}

func (c *wsConn) onPlaybackControl(env v1.Envelope) error {
	var p v1.PlaybackRefPayload
	if err := env.Decode(&p); err != nil {
		return badRequest(err.Error())
	}
	id := strings.TrimSpace(p.MessageID)
	s, ok := c.players[id]
	if !ok {
		return codedError{code: "player_not_open", msg: "no open player for message"}
	}

	switch env.Type {
	case v1.TypePlaybackToggle:
		s.TogglePlay()
	case v1.TypePlaybackSpeed:
		s.CycleSpeed()
	case v1.TypePlaybackClose:
		s.Close()
		delete(c.players, id)
		c.g.metrics.PlaybackClosed()
	}
	return nil
}

func (c *wsConn) sendPlayback(s playback.Snapshot) {
	c.send(v1.TypePlaybackState, v1.PlaybackStatePayload{
		MessageID:       s.MessageID,
		State:           s.State.String(),
		Speed:           float64(s.Speed),
		SpeedLabel:      s.Speed.String(),
		PositionSeconds: s.Position.Seconds(),
		Progress:        s.Progress,
	})
}

func (c *wsConn) closePlayers() {
	for id, s := range c.players {
		s.Close()
		delete(c.players, id)
		c.g.metrics.PlaybackClosed()
	}
}

// ---- output ----

func (c *wsConn) send(typ string, payload any) {
	env, err := newEnvelope(typ, payload, c.g.clock.Now())
	if err != nil {
		c.log.Error("ws.send.encode_fail", "type", typ, "err", err)
		return
	}
	if !c.client.Offer(env) {
		c.log.Debug("ws.send.drop", "type", typ)
	}
}

func (c *wsConn) sendError(code, msg string) {
	c.send(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// sendErrorNow writes an error envelope directly, bypassing the queue, so it reaches the
// peer before a policy close.
func (c *wsConn) sendErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, c.g.clock.Now())
	if err != nil {
		return
	}
	if err := writeEnvelope(ctx, conn, env, c.g.cfg.WriteTimeout); err != nil {
		c.log.Debug("ws.error.write_fail", "code", code, "err", err)
	}
}

// teardown releases everything the connection holds. It runs once, after the read loop.
func (c *wsConn) teardown() {
	c.leaveThread()
	c.mic.close()

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wsCloseGrace):
		c.log.Warn("ws.teardown.capture_pending")
	}
}
