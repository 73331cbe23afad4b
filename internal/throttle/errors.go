package throttle

import (
	"errors"
	"fmt"
)

// ErrAborted matches every *AbortedError via errors.Is.
var ErrAborted = errors.New("throttled function aborted")

// AbortedError is returned to a queued call cancelled by Abort.
type AbortedError struct {
	CallID  uint64
	Limiter string
}

func (e *AbortedError) Error() string {
	if e == nil || e.Limiter == "" {
		return ErrAborted.Error()
	}
	return fmt.Sprintf("%s: %s (call %d)", e.Limiter, ErrAborted.Error(), e.CallID)
}

func (e *AbortedError) Unwrap() error {
	return ErrAborted
}
