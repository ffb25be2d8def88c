package console

import (
	"fmt"
	"time"
)

// LaunchError reports that the transport process could not be started.
// No channel exists when it is returned.
type LaunchError struct {
	Transport string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Transport, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a pattern was not seen in time. Buffered holds
// every unconsumed byte received so far; the channel keeps them too.
type TimeoutError struct {
	Pattern  string
	After    time.Duration
	Buffered string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %q (%d bytes buffered)", e.After, e.Pattern, len(e.Buffered))
}

// ClosedError reports that the transport stopped delivering output while a
// pattern was pending.
type ClosedError struct {
	Pattern  string
	Buffered string
	Err      error
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("console closed waiting for %q: %v", e.Pattern, e.Err)
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}
