// Package capture implements the microphone capture state machine: one Controller per
// recording attempt, turning a live audio stream into a finished, playable artifact.
//
// Lifecycle:
//
//	Idle -> Requesting -> Recording -> Stopping -> Completed
//	             |             |           |
//	             +-> Failed    +-> Cancelled  +-> Failed (encode)
//	             +-> Cancelled
//
// The microphone stream is owned while Requesting, Recording or Stopping and is released
// exactly once on every path out of those states.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"campus/cmd/identity/ids"
	"campus/cmd/internal/clock"
)

const tickInterval = time.Second

// Snapshot is the observable readout of a capture attempt.
type Snapshot struct {
	ID             string
	State          State
	ElapsedSeconds int

	// Artifact is set once State is Completed.
	Artifact Artifact

	// Err is set when State is Failed, or Cancelled by the duration floor.
	Err error
}

// Options configures a Controller. Zero values give the baseline behavior:
// zero-length recordings are kept and there is no duration cap.
type Options struct {
	ID     string
	Clock  clock.Clock
	Logger *slog.Logger

	// MinSeconds discards recordings stopped below this many seconds (0 = keep all).
	MinSeconds int
	// MaxSeconds stops the recording automatically when reached (0 = unbounded).
	MaxSeconds int
	// MaxBytes fails the recording once buffered audio would exceed it (0 = unbounded).
	MaxBytes int64

	// OnChange observes every transition and every elapsed-time tick.
	OnChange func(Snapshot)
	// OnTerminal is invoked exactly once, after the device has been released.
	OnTerminal func(Snapshot)
}

// Controller is the capture state machine for a single recording attempt.
// It is not reusable: after a terminal state, create a new Controller.
type Controller struct {
	id      string
	log     *slog.Logger
	clock   clock.Clock
	device  Device
	encoder Encoder

	minSeconds int
	maxSeconds int
	maxBytes   int64

	onChange   func(Snapshot)
	onTerminal func(Snapshot)

	notifyMu     sync.Mutex
	terminalSent bool

	mu            sync.Mutex
	state         State
	elapsed       int
	chunks        [][]byte
	buffered      int64
	stream        Stream
	ticker        clock.Ticker
	cancelAcquire context.CancelFunc
	artifact      Artifact
	err           error
	done          chan struct{}
}

// NewController constructs an Idle controller.
func NewController(device Device, encoder Encoder, opts Options) (*Controller, error) {
	if device == nil {
		return nil, errors.New("capture: nil device")
	}
	if encoder == nil {
		return nil, errors.New("capture: nil encoder")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MinSeconds < 0 || opts.MaxSeconds < 0 {
		return nil, errors.New("capture: negative duration policy")
	}
	if opts.MaxBytes < 0 {
		return nil, errors.New("capture: negative byte budget")
	}
	if opts.MaxSeconds > 0 && opts.MinSeconds > opts.MaxSeconds {
		return nil, errors.New("capture: min seconds exceeds max seconds")
	}
	if opts.ID == "" {
		id, err := ids.NewULID(opts.Clock.Now())
		if err != nil {
			return nil, fmt.Errorf("capture: id: %w", err)
		}
		opts.ID = id
	}

	return &Controller{
		id:         opts.ID,
		log:        opts.Logger,
		clock:      opts.Clock,
		device:     device,
		encoder:    encoder,
		minSeconds: opts.MinSeconds,
		maxSeconds: opts.MaxSeconds,
		maxBytes:   opts.MaxBytes,
		onChange:   opts.OnChange,
		onTerminal: opts.OnTerminal,
		state:      StateIdle,
		done:       make(chan struct{}),
	}, nil
}

// ID returns the capture attempt id.
func (c *Controller) ID() string { return c.id }

// Start requests the microphone and begins recording once access is granted.
//
// It blocks the caller until the device answers (or ctx ends); other goroutines may
// Cancel in the meantime. A grant that arrives after Cancel is released immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return OpError{Op: "capture.Start", Kind: ErrInvalidTransition, Err: fmt.Errorf("state=%s", st)}
	}
	acqCtx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel
	c.state = StateRequesting
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	stream, err := c.device.RequestMicrophoneAccess(acqCtx)

	c.mu.Lock()
	if c.state != StateRequesting {
		// Cancelled while waiting for the grant.
		c.mu.Unlock()
		cancel()
		if stream != nil {
			c.device.ReleaseStream(stream)
		}
		c.log.Info("capture.grant.after_cancel", "capture_id", c.id, "granted", stream != nil)
		return nil
	}
	c.cancelAcquire = nil
	cancel()

	if err == nil && stream == nil {
		err = ErrDeviceUnavailable
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			rel, s := c.finishLocked(StateCancelled, nil, Artifact{})
			c.mu.Unlock()
			c.complete(rel, s)
			return ctx.Err()
		}
		opErr := classifyAcquire(err)
		rel, s := c.finishLocked(StateFailed, opErr, Artifact{})
		c.mu.Unlock()
		c.complete(rel, s)
		return opErr
	}

	c.stream = stream
	c.state = StateRecording
	c.elapsed = 0
	c.chunks = make([][]byte, 0, 64)
	c.buffered = 0
	c.ticker = c.clock.Every(tickInterval, c.tick)
	// Pipe only registers the sink; delivery happens on the stream's own schedule.
	stream.Pipe(c.onChunk)
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// Stop finalizes the buffered audio into an artifact and releases the device.
// Duration is the elapsed seconds at the moment Stop was called.
func (c *Controller) Stop(ctx context.Context) (Artifact, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		st := c.state
		c.mu.Unlock()
		return Artifact{}, OpError{Op: "capture.Stop", Kind: ErrInvalidTransition, Err: fmt.Errorf("state=%s", st)}
	}
	c.stopTickerLocked()
	c.state = StateStopping
	elapsed := c.elapsed
	chunks := c.chunks
	c.chunks = nil
	c.buffered = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	if c.minSeconds > 0 && elapsed < c.minSeconds {
		tooShort := OpError{Op: "capture.Stop", Kind: ErrTooShort, Err: fmt.Errorf("elapsed=%ds min=%ds", elapsed, c.minSeconds)}
		c.mu.Lock()
		rel, s := c.finishLocked(StateCancelled, tooShort, Artifact{})
		c.mu.Unlock()
		c.complete(rel, s)
		return Artifact{}, tooShort
	}

	art, err := c.encoder.Encode(ctx, EncodeInput{
		CaptureID:       c.id,
		Chunks:          chunks,
		DurationSeconds: elapsed,
	})
	if err == nil && art.SourceRef == "" {
		err = errors.New("encoder returned empty source ref")
	}

	c.mu.Lock()
	if err != nil {
		encErr := OpError{Op: "capture.Stop", Kind: ErrEncodeFailure, Err: err}
		rel, s := c.finishLocked(StateFailed, encErr, Artifact{})
		c.mu.Unlock()
		c.complete(rel, s)
		return Artifact{}, encErr
	}
	art.DurationSeconds = elapsed
	rel, s := c.finishLocked(StateCompleted, nil, art)
	c.mu.Unlock()
	c.complete(rel, s)
	return art, nil
}

// Cancel abandons the attempt: buffered audio is discarded and the device is released
// before Cancel returns. It reports whether anything was cancelled; calling it in any
// other state (including after a terminal state) is a no-op.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.state != StateRequesting && c.state != StateRecording {
		c.mu.Unlock()
		return false
	}
	rel, s := c.finishLocked(StateCancelled, nil, Artifact{})
	c.mu.Unlock()
	c.complete(rel, s)
	return true
}

// Snapshot returns the current readout.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the attempt reaches a terminal state and the device is released.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the artifact and error of a terminal attempt.
func (c *Controller) Result() (Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact, c.err
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	capped := c.maxSeconds > 0 && c.elapsed >= c.maxSeconds
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)

	if capped {
		c.log.Info("capture.cap.reached", "capture_id", c.id, "max_seconds", c.maxSeconds)
		if _, err := c.Stop(context.Background()); err != nil && !errors.Is(err, ErrInvalidTransition) {
			c.log.Warn("capture.cap.stop_failed", "capture_id", c.id, "err", err)
		}
	}
}

func (c *Controller) onChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	if c.maxBytes > 0 && c.buffered+int64(len(chunk)) > c.maxBytes {
		overErr := OpError{Op: "capture.record", Kind: ErrEncodeFailure, Err: fmt.Errorf("audio exceeds %d bytes", c.maxBytes)}
		rel, s := c.finishLocked(StateFailed, overErr, Artifact{})
		c.mu.Unlock()
		c.log.Warn("capture.budget.exceeded", "capture_id", c.id, "max_bytes", c.maxBytes)
		c.complete(rel, s)
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	c.chunks = append(c.chunks, buf)
	c.buffered += int64(len(buf))
	c.mu.Unlock()
}

// finishLocked moves to a terminal state and detaches the stream for release.
// The caller must pass the returned values to complete after unlocking.
func (c *Controller) finishLocked(st State, err error, art Artifact) (Stream, Snapshot) {
	c.stopTickerLocked()
	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	c.state = st
	c.err = err
	c.artifact = art
	c.chunks = nil
	c.buffered = 0

	rel := c.stream
	c.stream = nil
	return rel, c.snapshotLocked()
}

func (c *Controller) complete(rel Stream, snap Snapshot) {
	if rel != nil {
		c.device.ReleaseStream(rel)
	}
	close(c.done)
	c.emit(snap)
	if c.onTerminal != nil {
		c.notifyMu.Lock()
		c.onTerminal(snap)
		c.notifyMu.Unlock()
	}
}

func (c *Controller) stopTickerLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		ID:             c.id,
		State:          c.state,
		ElapsedSeconds: c.elapsed,
		Artifact:       c.artifact,
		Err:            c.err,
	}
}

// emit delivers s to OnChange in order. A snapshot taken before the terminal transition
// but delivered after it (a tick racing Cancel) is dropped.
func (c *Controller) emit(s Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.terminalSent && !s.State.Terminal() {
		return
	}
	if s.State.Terminal() {
		c.terminalSent = true
	}

	if s.State == StateRecording && s.ElapsedSeconds > 0 {
		c.log.Debug("capture.tick", "capture_id", s.ID, "elapsed_seconds", s.ElapsedSeconds)
	} else {
		attrs := []any{"capture_id", s.ID, "state", s.State.String(), "elapsed_seconds", s.ElapsedSeconds}
		if s.Err != nil {
			attrs = append(attrs, "err", s.Err)
		}
		c.log.Info("capture.state", attrs...)
	}

	if c.onChange != nil {
		c.onChange(s)
	}
}
