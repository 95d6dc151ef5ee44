package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Binary audio chunks are the
	// largest frames a client sends.
	maxFrameBytes = 256 << 10 // 256 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max playback sessions a single connection may hold open.
	maxPlaybackSessions = 32
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits for text envelopes (events per window).
	// Binary audio frames are not rate limited; each recording's buffered audio is
	// capped by Config.CaptureMaxBytes and the attempt fails once it is exceeded.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
