package realtime

import (
	"context"
	"errors"
	"sync"

	"campus/cmd/internal/capture"
)

// remoteMic is the capture.Device for one connection. The microphone lives in the
// client: acquisition waits for the client's capture_mic answer, and audio arrives as
// binary frames that are forwarded to the active stream's sink.
type remoteMic struct {
	mu      sync.Mutex
	pending *micSlot
	active  *remoteStream
	sink    func([]byte)
	closed  bool
}

// micSlot carries one permission answer. It is armed by the read loop before the
// acquisition goroutine starts, so an answer read ahead of the request is kept.
type micSlot struct {
	ch       chan micAnswer // buffered 1
	claimed  bool           // a request is waiting on ch
	answered bool
}

type micAnswer struct {
	granted bool
	reason  string
}

type remoteStream struct{ mic *remoteMic }

var errMicBusy = errors.New("microphone request already pending")

func newRemoteMic() *remoteMic { return &remoteMic{} }

// arm opens an answer slot for the next request. It returns nil when the mic is closed,
// busy, or already armed by an earlier capture_start.
func (m *remoteMic) arm() *micSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.active != nil || m.pending != nil {
		return nil
	}
	m.pending = &micSlot{ch: make(chan micAnswer, 1)}
	return m.pending
}

// disarm drops slot if no request ever claimed it.
func (m *remoteMic) disarm(slot *micSlot) {
	if slot == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == slot && !slot.claimed {
		m.pending = nil
	}
}

func (m *remoteMic) RequestMicrophoneAccess(ctx context.Context) (capture.Stream, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, capture.ErrDeviceUnavailable
	}
	if m.active != nil || (m.pending != nil && m.pending.claimed) {
		m.mu.Unlock()
		return nil, errMicBusy
	}
	slot := m.pending
	if slot == nil {
		slot = &micSlot{ch: make(chan micAnswer, 1)}
		m.pending = slot
	}
	slot.claimed = true
	m.mu.Unlock()

	select {
	case a := <-slot.ch:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.pending == slot {
			m.pending = nil
		}
		if !a.granted {
			if a.reason == "unavailable" {
				return nil, capture.ErrDeviceUnavailable
			}
			return nil, capture.ErrPermissionDenied
		}
		if m.closed {
			return nil, capture.ErrDeviceUnavailable
		}
		s := &remoteStream{mic: m}
		m.active = s
		return s, nil
	case <-ctx.Done():
		m.mu.Lock()
		if m.pending == slot {
			m.pending = nil
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (m *remoteMic) ReleaseStream(s capture.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := s.(*remoteStream); ok && m.active == rs {
		m.active = nil
		m.sink = nil
	}
}

func (s *remoteStream) Pipe(sink func([]byte)) {
	s.mic.mu.Lock()
	defer s.mic.mu.Unlock()
	if s.mic.active == s {
		s.mic.sink = sink
	}
}

// answer delivers the client's permission outcome. It reports false when no request
// is waiting or armed, or the slot was already answered.
func (m *remoteMic) answer(a micAnswer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.pending
	if slot == nil || slot.answered {
		return false
	}
	slot.answered = true
	if slot.claimed {
		m.pending = nil
	}
	slot.ch <- a
	return true
}

// push forwards one binary audio frame. It reports false when nothing is recording.
func (m *remoteMic) push(chunk []byte) bool {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()

	if sink == nil {
		return false
	}
	sink(chunk)
	return true
}

// abort fails a waiting request, if any, and drops an unclaimed slot. The mic stays
// usable.
func (m *remoteMic) abort() {
	m.mu.Lock()
	if slot := m.pending; slot != nil && !slot.claimed {
		m.pending = nil
	}
	m.mu.Unlock()

	m.answer(micAnswer{granted: false, reason: "unavailable"})
}

// close fails any waiting request and refuses new ones.
func (m *remoteMic) close() {
	m.mu.Lock()
	m.closed = true
	m.sink = nil
	m.mu.Unlock()

	m.abort()
}
