package playback

import "sync"

// Coordinator is a single "now playing" slot. A session that starts playing takes the slot
// and the previous holder is paused. Sessions without a Coordinator play independently.
type Coordinator struct {
	mu      sync.Mutex
	current *Session
}

func NewCoordinator() *Coordinator { return &Coordinator{} }

// Current returns the session holding the slot, or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// claim gives the slot to s and returns the displaced session, if any.
// The caller pauses the displaced session after claim returns, with no locks held.
func (c *Coordinator) claim(s *Session) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = s
	if prev == s {
		return nil
	}
	return prev
}

func (c *Coordinator) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}
