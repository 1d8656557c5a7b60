package tracking

import "errors"

var (
	ErrNotFound      = errors.New("tracking session not found")
	ErrSessionClosed = errors.New("tracking session closed")
	ErrConflict      = errors.New("vehicle already has an active session")
	ErrInvalidInput  = errors.New("invalid input")
)
