package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to wire error codes).
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid_token")
	ErrConfig          = errors.New("identity_config")
)
