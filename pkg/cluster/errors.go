package cluster

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ReadinessTimeoutError is returned when the storage controller did not come
// up within the control plane timeout
type ReadinessTimeoutError struct {
	Timeout time.Duration
	Checks  int
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("storage controller did not start within %s (%d checks)", e.Timeout, e.Checks)
}

// TeardownError collects every failure met while stopping a cluster. The
// rest of the teardown still ran.
type TeardownError struct {
	Errors *multierror.Error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("cluster teardown failed: %s", e.Errors.Error())
}

// Unwrap exposes the collected failures to errors.Is and errors.As
func (e *TeardownError) Unwrap() error {
	return e.Errors.ErrorOrNil()
}

// Len returns the number of collected failures
func (e *TeardownError) Len() int {
	return e.Errors.Len()
}
