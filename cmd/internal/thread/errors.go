package thread

import "errors"

var (
	// ErrInvalidInput is returned for structurally invalid calls (missing thread id,
	// malformed message variant). Content is never judged here.
	ErrInvalidInput = errors.New("thread: invalid input")

	// ErrEmptyText signals a text submission that trims to nothing.
	// Callers treat it as "nothing to send", not as a failure.
	ErrEmptyText = errors.New("thread: empty text")
)
