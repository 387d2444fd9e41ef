package refreshclient

import (
	"errors"
	"fmt"
)

// ErrTransient marks failures worth retrying: network errors, request
// timeouts, and 5xx responses.
var ErrTransient = errors.New("transient refresh failure")

// ErrTerminal marks failures that end the session: the refresh token
// was rejected (invalid, rotated away, or blacklisted) or the server
// returned an unusable credential pair. Retrying cannot help.
var ErrTerminal = errors.New("terminal refresh failure")

// TransientError wraps a retryable refresh failure.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e == nil {
		return "transient refresh failure"
	}
	if e.Err != nil {
		return fmt.Sprintf("transient refresh failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient refresh failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error {
	return ErrTransient
}

// TerminalError wraps a non-retryable refresh failure.
type TerminalError struct {
	Reason     string
	StatusCode int
}

func (e *TerminalError) Error() string {
	if e == nil {
		return "terminal refresh failure"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("terminal refresh failure: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("terminal refresh failure: %s", e.Reason)
}

func (e *TerminalError) Unwrap() error {
	return ErrTerminal
}
