// Package playback holds per-message audio playback state: play/pause, speed, and progress.
//
// Sessions are presentation state only. They never touch the message log; one Session
// exists per opened audio message and is discarded when the view goes away.
package playback

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"campus/cmd/internal/clock"
)

// DefaultSampleInterval is how often a playing session refreshes its position.
const DefaultSampleInterval = 250 * time.Millisecond

// Speed is a playback rate multiplier.
type Speed float64

const (
	Speed1x  Speed = 1.0
	Speed15x Speed = 1.5
	Speed2x  Speed = 2.0
)

// Next returns the following speed in the fixed cycle 1x -> 1.5x -> 2x -> 1x.
func (s Speed) Next() Speed {
	switch s {
	case Speed1x:
		return Speed15x
	case Speed15x:
		return Speed2x
	default:
		return Speed1x
	}
}

// String renders the speed label shown on the control ("1x", "1.5x", "2x").
func (s Speed) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64) + "x"
}

type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Source is the audio message a session plays.
type Source struct {
	MessageID       string
	SourceRef       string
	DurationSeconds int
}

type Snapshot struct {
	MessageID string
	State     State
	Speed     Speed
	Position  time.Duration
	// Progress is Position/duration clamped to [0,1]; 0 for a zero-length source.
	Progress float64
}

type Options struct {
	Clock          clock.Clock
	Logger         *slog.Logger
	SampleInterval time.Duration

	// Coordinator, when set, makes this session share a single now-playing slot.
	Coordinator *Coordinator

	OnChange func(Snapshot)
}

// Session is the playback state machine for one audio message.
type Session struct {
	src      Source
	duration time.Duration
	clock    clock.Clock
	log      *slog.Logger
	interval time.Duration
	coord    *Coordinator
	onChange func(Snapshot)

	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	speed    Speed
	position time.Duration
	lastAt   time.Time
	ticker   clock.Ticker
	closed   bool
}

func NewSession(src Source, opts Options) (*Session, error) {
	if src.SourceRef == "" {
		return nil, errors.New("playback: missing source ref")
	}
	if src.DurationSeconds < 0 {
		return nil, errors.New("playback: negative duration")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	return &Session{
		src:      src,
		duration: time.Duration(src.DurationSeconds) * time.Second,
		clock:    opts.Clock,
		log:      opts.Logger,
		interval: opts.SampleInterval,
		coord:    opts.Coordinator,
		onChange: opts.OnChange,
		state:    StateStopped,
		speed:    Speed1x,
	}, nil
}

// Source returns the audio this session plays.
func (s *Session) Source() Source { return s.src }

// TogglePlay flips between Playing and Paused; from Stopped it plays from the start.
func (s *Session) TogglePlay() Snapshot {
	s.mu.Lock()
	if s.closed {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}

	var claim, release bool
	now := s.clock.Now()
	switch s.state {
	case StatePlaying:
		s.advanceLocked(now)
		if s.state == StatePlaying {
			s.state = StatePaused
			s.stopTickerLocked()
		}
		release = true
	default:
		if s.duration == 0 {
			// Nothing to play: the end is reached in the same step.
			s.resetLocked()
			s.log.Debug("playback.end", "message_id", s.src.MessageID)
			break
		}
		s.state = StatePlaying
		s.lastAt = now
		s.ticker = s.clock.Every(s.interval, s.sample)
		claim = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)

	if s.coord != nil {
		if claim {
			if prev := s.coord.claim(s); prev != nil {
				prev.Pause()
			}
		} else if release {
			s.coord.release(s)
		}
	}
	return snap
}

// Pause pauses a playing session; any other state is left as is.
func (s *Session) Pause() Snapshot {
	s.mu.Lock()
	if s.closed || s.state != StatePlaying {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.advanceLocked(s.clock.Now())
	if s.state == StatePlaying {
		s.state = StatePaused
		s.stopTickerLocked()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	if s.coord != nil {
		s.coord.release(s)
	}
	return snap
}

// CycleSpeed advances 1x -> 1.5x -> 2x -> 1x. Progress played so far is credited at the
// old rate before the change.
func (s *Session) CycleSpeed() Speed {
	s.mu.Lock()
	if s.closed {
		sp := s.speed
		s.mu.Unlock()
		return sp
	}
	ended := false
	if s.state == StatePlaying {
		ended = s.advanceLocked(s.clock.Now())
	}
	s.speed = s.speed.Next()
	sp := s.speed
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	if ended && s.coord != nil {
		s.coord.release(s)
	}
	return sp
}

// Snapshot returns the current readout, crediting time played since the last sample.
// A read that lands at or past the end finishes playback the same way a sample would.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	if s.state != StatePlaying {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	now := s.clock.Now()
	pos := s.position + scaled(now.Sub(s.lastAt), s.speed)
	if pos < s.duration || s.closed {
		if pos > s.duration {
			pos = s.duration
		}
		snap := s.snapshotLocked()
		snap.Position = pos
		snap.Progress = progress(pos, s.duration)
		s.mu.Unlock()
		return snap
	}
	s.advanceLocked(now)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	if s.coord != nil {
		s.coord.release(s)
	}
	return snap
}

// Close tears the session down: sampling stops and the now-playing slot is released.
// Close is idempotent; a closed session ignores further controls.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTickerLocked()
	s.mu.Unlock()

	if s.coord != nil {
		s.coord.release(s)
	}
}

func (s *Session) sample() {
	s.mu.Lock()
	if s.closed || s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	ended := s.advanceLocked(s.clock.Now())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	if ended && s.coord != nil {
		s.coord.release(s)
	}
}

// advanceLocked credits time played since lastAt. On reaching the end the session is
// reset to Stopped at position zero and advanceLocked reports true.
func (s *Session) advanceLocked(now time.Time) bool {
	if d := now.Sub(s.lastAt); d > 0 {
		s.position += scaled(d, s.speed)
	}
	s.lastAt = now
	if s.position < s.duration {
		return false
	}
	s.resetLocked()
	s.log.Debug("playback.end", "message_id", s.src.MessageID)
	return true
}

func (s *Session) resetLocked() {
	s.stopTickerLocked()
	s.state = StateStopped
	s.position = 0
}

func (s *Session) stopTickerLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		MessageID: s.src.MessageID,
		State:     s.state,
		Speed:     s.speed,
		Position:  s.position,
		Progress:  progress(s.position, s.duration),
	}
}

func (s *Session) emit(snap Snapshot) {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onChange(snap)
}

func scaled(d time.Duration, sp Speed) time.Duration {
	return time.Duration(float64(d) * float64(sp))
}

func progress(pos, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(pos) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
