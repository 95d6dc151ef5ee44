// Package clock provides the time and scheduling capability injected into stateful components.
//
// Capture ticks and playback sampling never read the wall clock or start timers directly;
// they go through a Clock so tests can fast-forward deterministically (see clocktest).
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and periodic callbacks.
type Clock interface {
	Now() time.Time

	// Every invokes fn once per period d until the returned Ticker is stopped.
	Every(d time.Duration, fn func()) Ticker
}

// Ticker is a handle to a periodic callback. Stop is idempotent.
type Ticker interface {
	Stop()
}

// System returns a Clock backed by the runtime clock and time.Ticker.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) Every(d time.Duration, fn func()) Ticker {
	if d <= 0 {
		d = time.Second
	}
	t := &systemTicker{
		t:    time.NewTicker(d),
		done: make(chan struct{}),
	}
	go t.loop(fn)
	return t
}

type systemTicker struct {
	t        *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func (t *systemTicker) loop(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.t.C:
			// A tick racing with Stop must not fire after Stop returned.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

// Stop halts the ticker. Safe to call from inside the callback.
func (t *systemTicker) Stop() {
	t.stopOnce.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}
