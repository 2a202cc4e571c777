package bsconfig

import "fmt"

// ControlRequestError reports a storage controller request that kept failing
// until its retry budget ran out
type ControlRequestError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *ControlRequestError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Command, e.Attempts, e.Err)
}

func (e *ControlRequestError) Unwrap() error {
	return e.Err
}
