// Package composer turns user intent (typed text, record/stop/cancel) into appends on a
// thread's message log.
//
// A Composer is bound to one thread and one identity provider. It owns at most one
// non-terminal capture attempt at a time, and appends an audio message exactly once for
// every attempt that completes.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"campus/cmd/identity"
	"campus/cmd/internal/capture"
	"campus/cmd/internal/clock"
	"campus/cmd/internal/thread"
)

// ErrCaptureActive is returned by StartRecording while a previous attempt is still live.
var ErrCaptureActive = errors.New("composer: capture already active")

// CaptureFactory builds a fresh capture controller for one attempt.
type CaptureFactory func(opts capture.Options) (*capture.Controller, error)

// CaptureWith returns a CaptureFactory over a device and an encoder.
func CaptureWith(device capture.Device, encoder capture.Encoder) CaptureFactory {
	return func(opts capture.Options) (*capture.Controller, error) {
		return capture.NewController(device, encoder, opts)
	}
}

type Config struct {
	ThreadID string
	Store    thread.Store
	Identity identity.Provider
	Capture  CaptureFactory

	Clock  clock.Clock
	Logger *slog.Logger

	// Duration policy handed to each capture attempt.
	MinSeconds int
	MaxSeconds int
	// MaxBytes bounds the buffered audio of each capture attempt (0 = unbounded).
	MaxBytes int64

	// OnAppend observes every message this Composer appends (text and audio).
	OnAppend func(thread.Message)
	// OnCapture observes capture transitions and elapsed-time ticks.
	OnCapture func(capture.Snapshot)
}

type Composer struct {
	threadID   string
	store      thread.Store
	ident      identity.Provider
	newCapture CaptureFactory
	clock      clock.Clock
	log        *slog.Logger
	minSeconds int
	maxSeconds int
	maxBytes   int64
	onAppend   func(thread.Message)
	onCapture  func(capture.Snapshot)

	mu     sync.Mutex
	draft  string
	active *attempt
}

// attempt is one capture run. result receives the append outcome of a Completed run.
type attempt struct {
	ctrl   *capture.Controller
	sender thread.Sender
	result chan appendOutcome
}

type appendOutcome struct {
	msg thread.Message
	err error
}

func New(cfg Config) (*Composer, error) {
	if strings.TrimSpace(cfg.ThreadID) == "" {
		return nil, fmt.Errorf("composer: %w: missing thread id", thread.ErrInvalidInput)
	}
	if cfg.Store == nil {
		return nil, errors.New("composer: nil store")
	}
	if cfg.Identity == nil {
		return nil, errors.New("composer: nil identity provider")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Composer{
		threadID:   strings.TrimSpace(cfg.ThreadID),
		store:      cfg.Store,
		ident:      cfg.Identity,
		newCapture: cfg.Capture,
		clock:      cfg.Clock,
		log:        cfg.Logger.With("thread_id", strings.TrimSpace(cfg.ThreadID)),
		minSeconds: cfg.MinSeconds,
		maxSeconds: cfg.MaxSeconds,
		maxBytes:   cfg.MaxBytes,
		onAppend:   cfg.OnAppend,
		onCapture:  cfg.OnCapture,
	}, nil
}

// ThreadID returns the thread this Composer writes to.
func (c *Composer) ThreadID() string { return c.threadID }

// SetDraft replaces the pending input buffer.
func (c *Composer) SetDraft(s string) {
	c.mu.Lock()
	c.draft = s
	c.mu.Unlock()
}

// Draft returns the pending input buffer.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

type submitOptions struct {
	clientMsgID string
}

// SubmitOption customizes a single SubmitText call.
type SubmitOption func(*submitOptions)

// WithClientMsgID makes the submission idempotent on id within the thread.
func WithClientMsgID(id string) SubmitOption {
	return func(o *submitOptions) { o.clientMsgID = strings.TrimSpace(id) }
}

// SubmitText appends one Text message built from raw.
//
// Input that is empty after trimming is a silent no-op: nothing is appended, the draft is
// kept, and (zero, false, nil) is returned. On a successful append the draft is cleared.
func (c *Composer) SubmitText(ctx context.Context, raw string, opts ...SubmitOption) (thread.Message, bool, error) {
	var o submitOptions
	for _, fn := range opts {
		fn(&o)
	}

	u, err := c.ident.CurrentUser(ctx)
	if err != nil {
		return thread.Message{}, false, err
	}

	msg, err := thread.NewText(senderOf(u), raw, c.clock.Now())
	if errors.Is(err, thread.ErrEmptyText) {
		c.log.Debug("composer.submit.empty")
		return thread.Message{}, false, nil
	}
	if err != nil {
		return thread.Message{}, false, err
	}
	msg.ClientMsgID = o.clientMsgID

	stored, err := c.append(ctx, msg)
	if err != nil {
		return thread.Message{}, false, err
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()
	return stored, true, nil
}

// SubmitDraft submits the pending input buffer.
func (c *Composer) SubmitDraft(ctx context.Context, opts ...SubmitOption) (thread.Message, bool, error) {
	return c.SubmitText(ctx, c.Draft(), opts...)
}

// StartRecording begins a new capture attempt. It blocks until the microphone answers.
//
// While a previous attempt is non-terminal it returns ErrCaptureActive without touching
// the device.
func (c *Composer) StartRecording(ctx context.Context) (capture.Snapshot, error) {
	if c.newCapture == nil {
		return capture.Snapshot{}, capture.OpError{Op: "composer.StartRecording", Kind: capture.ErrDeviceUnavailable, Err: errors.New("no capture device configured")}
	}
	u, err := c.ident.CurrentUser(ctx)
	if err != nil {
		return capture.Snapshot{}, err
	}

	c.mu.Lock()
	if c.active != nil && !c.active.ctrl.State().Terminal() {
		c.mu.Unlock()
		return capture.Snapshot{}, ErrCaptureActive
	}

	a := &attempt{sender: senderOf(u), result: make(chan appendOutcome, 1)}
	ctrl, err := c.newCapture(capture.Options{
		Clock:      c.clock,
		Logger:     c.log,
		MinSeconds: c.minSeconds,
		MaxSeconds: c.maxSeconds,
		MaxBytes:   c.maxBytes,
		OnChange:   c.onCapture,
		OnTerminal: func(s capture.Snapshot) { c.finishAttempt(a, s) },
	})
	if err != nil {
		c.mu.Unlock()
		return capture.Snapshot{}, fmt.Errorf("composer: new capture: %w", err)
	}
	a.ctrl = ctrl
	c.active = a
	c.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		return ctrl.Snapshot(), err
	}
	return ctrl.Snapshot(), nil
}

// StopRecording finalizes the active attempt and returns the appended audio message.
func (c *Composer) StopRecording(ctx context.Context) (thread.Message, error) {
	a := c.current()
	if a == nil {
		return thread.Message{}, capture.OpError{Op: "composer.StopRecording", Kind: capture.ErrInvalidTransition, Err: errors.New("no recording")}
	}
	if _, err := a.ctrl.Stop(ctx); err != nil {
		return thread.Message{}, err
	}

	// OnTerminal runs before Stop returns, so the outcome is already buffered.
	select {
	case out := <-a.result:
		return out.msg, out.err
	default:
		return thread.Message{}, errors.New("composer: completed capture produced no append")
	}
}

// CancelRecording abandons the active attempt. It reports whether anything was cancelled.
func (c *Composer) CancelRecording() bool {
	a := c.current()
	if a == nil {
		return false
	}
	return a.ctrl.Cancel()
}

// Recording returns the readout of the most recent attempt, if any.
func (c *Composer) Recording() (capture.Snapshot, bool) {
	a := c.current()
	if a == nil {
		return capture.Snapshot{}, false
	}
	return a.ctrl.Snapshot(), true
}

// Close cancels any live attempt so the device is released.
func (c *Composer) Close() {
	c.CancelRecording()
}

func (c *Composer) current() *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// finishAttempt runs once per attempt, after the device is released.
func (c *Composer) finishAttempt(a *attempt, s capture.Snapshot) {
	if s.State != capture.StateCompleted {
		c.log.Info("composer.capture.discarded", "capture_id", s.ID, "state", s.State.String())
		return
	}

	msg, err := thread.NewAudio(a.sender, thread.Audio{
		SourceRef:       s.Artifact.SourceRef,
		DurationSeconds: s.Artifact.DurationSeconds,
	}, c.clock.Now())
	if err == nil {
		// Capture id doubles as the idempotency key for the audio append.
		msg.ClientMsgID = "capture:" + s.ID
		msg, err = c.append(context.Background(), msg)
	}
	if err != nil {
		c.log.Error("composer.capture.append_failed", "capture_id", s.ID, "err", err)
	}
	a.result <- appendOutcome{msg: msg, err: err}
}

func (c *Composer) append(ctx context.Context, msg thread.Message) (thread.Message, error) {
	res, err := c.store.AppendMessage(ctx, thread.AppendInput{ThreadID: c.threadID, Message: msg})
	if err != nil {
		return thread.Message{}, fmt.Errorf("composer: append: %w", err)
	}
	if res.Duplicated {
		c.log.Debug("composer.append.duplicate", "message_id", res.Stored.ID)
		return res.Stored, nil
	}

	c.log.Info("composer.append", "message_id", res.Stored.ID, "seq", res.Stored.Seq, "kind", string(res.Stored.Kind))
	if c.onAppend != nil {
		c.onAppend(res.Stored)
	}
	return res.Stored, nil
}

func senderOf(u identity.User) thread.Sender {
	return thread.Sender{ID: u.ID, Name: u.DisplayName}
}
