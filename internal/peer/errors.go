package peer

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("orchestrator closed")
	ErrUnexpectedSignal  = errors.New("unexpected signal type")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMalformedPayload  = errors.New("malformed signaling payload")
)

// Error ties a failure to the operation and remote participant it hit.
type Error struct {
	Op     string
	Remote string
	Err    error
}

func (e *Error) Error() string {
	if e.Remote != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Remote, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, remote string, err error) *Error {
	return &Error{Op: op, Remote: remote, Err: err}
}
