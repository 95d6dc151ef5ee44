package realtime

import (
	"time"

	"campus/cmd/identity/ids"
)

var envelopeIDs = ids.NewGenerator()

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id. Server envelope ids sort in send order.
func NewEnvelopeID(now time.Time) string {
	return envelopeIDs.MustNew(now)
}
