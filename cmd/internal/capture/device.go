package capture

import "context"

// Device is the device-capability provider: the only system boundary the controller touches.
//
// RequestMicrophoneAccess may block until the platform grants or denies access; it must
// honor ctx cancellation. Errors should wrap ErrPermissionDenied or ErrDeviceUnavailable.
type Device interface {
	RequestMicrophoneAccess(ctx context.Context) (Stream, error)
	ReleaseStream(s Stream)
}

// Stream is a live microphone stream.
//
// Pipe registers the sink that receives raw audio chunks until the stream is released.
// Chunks may arrive on any goroutine.
type Stream interface {
	Pipe(sink func(chunk []byte))
}

// Encoder finalizes buffered chunks into one playable artifact.
type Encoder interface {
	Encode(ctx context.Context, in EncodeInput) (Artifact, error)
}

// EncodeInput is the material handed to an Encoder when a recording stops.
type EncodeInput struct {
	CaptureID       string
	Chunks          [][]byte
	DurationSeconds int
}

// Artifact is a finished recording: an opaque source reference plus fixed duration.
type Artifact struct {
	SourceRef       string
	DurationSeconds int
	Bytes           int
	MIMEType        string
}
