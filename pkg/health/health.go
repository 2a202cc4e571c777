package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP         CheckType = "http"
	CheckTypeTCP          CheckType = "tcp"
	CheckTypeGRPC         CheckType = "grpc"
	CheckTypeBSController CheckType = "bs_controller"
)

// DefaultTimeout bounds a single check
const DefaultTimeout = 5 * time.Second

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

func finish(start time.Time, healthy bool, message string) Result {
	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Predicate turns a checker into a readiness predicate
func Predicate(c Checker) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return c.Check(ctx).Healthy
	}
}

// Any reports whether at least one checker passes
func Any(ctx context.Context, checkers ...Checker) bool {
	for _, c := range checkers {
		if c.Check(ctx).Healthy {
			return true
		}
	}
	return false
}
