package capture

import "fmt"

// State is the lifecycle state of one capture attempt.
type State uint8

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateStopping
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// HoldsDevice reports whether the microphone is owned in this state.
func (s State) HoldsDevice() bool {
	return s == StateRequesting || s == StateRecording || s == StateStopping
}

// FormatDuration renders whole seconds as m:ss, the way the recorder readout shows it.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
