// Package clocktest provides a manually advanced clock for deterministic tests.
package clocktest

import (
	"sync"
	"time"

	"campus/cmd/internal/clock"
)

// Manual is a clock.Clock whose time only moves when Advance is called.
//
// Callbacks fire synchronously inside Advance, in due-time order (creation order on ties),
// with the clock set to the callback's due time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	tickers []*manualTicker
}

type manualTicker struct {
	m       *Manual
	id      int
	period  time.Duration
	next    time.Time
	fn      func()
	stopped bool
}

var _ clock.Clock = (*Manual)(nil)

// NewManual returns a Manual clock starting at start (UTC). A zero start uses a fixed epoch.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every registers fn to run every d of manual time.
func (m *Manual) Every(d time.Duration, fn func()) clock.Ticker {
	if d <= 0 {
		d = time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTicker{m: m, id: m.seq, period: d, next: m.now.Add(d), fn: fn}
	m.tickers = append(m.tickers, t)
	return t
}

// Stop removes the ticker. Idempotent.
func (t *manualTicker) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for i, other := range t.m.tickers {
		if other == t {
			t.m.tickers = append(t.m.tickers[:i], t.m.tickers[i+1:]...)
			break
		}
	}
}

// Advance moves time forward by d, firing every callback that comes due on the way.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		t := m.nextDueLocked(target)
		if t == nil {
			break
		}
		m.now = t.next
		t.next = t.next.Add(t.period)
		fn := t.fn

		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// Active reports how many tickers are still registered.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTicker {
	var best *manualTicker
	for _, t := range m.tickers {
		if t.stopped || t.next.After(target) {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.id < best.id) {
			best = t
		}
	}
	return best
}
