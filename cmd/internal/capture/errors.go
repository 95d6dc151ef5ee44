package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the user refuses microphone access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable is returned when no microphone can be acquired.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrEncodeFailure is returned when buffered audio cannot be finalized.
	ErrEncodeFailure = errors.New("capture: encode failure")

	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("capture: invalid transition")

	// ErrTooShort is returned when a recording below the configured floor is discarded.
	ErrTooShort = errors.New("capture: recording too short")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classifyAcquire maps a device error onto the capture taxonomy.
func classifyAcquire(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return OpError{Op: "capture.Start", Kind: ErrPermissionDenied, Err: unwrapKind(err, ErrPermissionDenied)}
	case errors.Is(err, ErrDeviceUnavailable):
		return OpError{Op: "capture.Start", Kind: ErrDeviceUnavailable, Err: unwrapKind(err, ErrDeviceUnavailable)}
	default:
		return OpError{Op: "capture.Start", Kind: ErrDeviceUnavailable, Err: err}
	}
}

// unwrapKind drops err when it is the bare sentinel, so messages do not repeat it.
func unwrapKind(err, kind error) error {
	if err == kind {
		return nil
	}
	return err
}
