package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrActorUnavailable is returned when the actor ended before answering.
	ErrActorUnavailable = errors.New("controller: actor unavailable")

	// ErrDigestActive is returned by StartDigestStream while a digest stream
	// is already running.
	ErrDigestActive = errors.New("controller: digest stream already active")
)

// StreamError ends a digest stream. It is logged and recorded, never
// returned to a mailbox caller.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("digest stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsStreamError reports whether err is or wraps a StreamError.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
