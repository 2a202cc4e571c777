package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRunning is returned when an operation needs a live process
var ErrNotRunning = errors.New("process not running")

// StartError reports a process that could not be brought to a ready state
type StartError struct {
	Binary string
	Reason string
	Err    error
	// Stderr holds the trailing stderr lines captured before the failure
	Stderr []string
}

func (e *StartError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to start %s: %s", e.Binary, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Stderr) > 0 {
		fmt.Fprintf(&b, "\nstderr (last %d lines):\n%s", len(e.Stderr), strings.Join(e.Stderr, "\n"))
	}
	return b.String()
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// StopError reports a process that did not shut down cleanly
type StopError struct {
	Binary string
	PID    int
	Reason string
	Err    error
}

func (e *StopError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to stop %s (pid %d): %s: %v", e.Binary, e.PID, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to stop %s (pid %d): %s", e.Binary, e.PID, e.Reason)
}

func (e *StopError) Unwrap() error {
	return e.Err
}
