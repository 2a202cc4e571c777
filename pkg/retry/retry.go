package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type options struct {
	sleep       SleepFunc
	logger      zerolog.Logger
	description string
}

// Option customises Do and Poll
type Option func(*options)

// WithSleep replaces the sleep function (tests use a fake one)
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithLogger sets the logger used to report failed attempts
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDescription names the operation in log lines
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		sleep:       Sleep,
		logger:      log.WithComponent("retry"),
		description: "operation",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attempts returns how many tries fit in timeout when each failure waits step.
// It is never less than one.
func Attempts(timeout, step time.Duration) int {
	if step <= 0 {
		return 1
	}
	n := int(timeout / step)
	if n < 1 {
		return 1
	}
	return n
}

// Do runs op up to attempts times, waiting delay after every failure but the
// last. It returns nil on the first success and the last error otherwise.
func Do(ctx context.Context, attempts int, delay time.Duration, op func(attempt int) error, opts ...Option) error {
	o := newOptions(opts)
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(attempt)
		if err == nil {
			return nil
		}

		o.logger.Error().
			Err(err).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msgf("Failed to execute %s", o.description)

		if attempt == attempts {
			break
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}

	return err
}

// PollConfig bounds a backoff poll
type PollConfig struct {
	// Timeout is the total time budget for the poll
	Timeout time.Duration
	// Step is the first pause between checks
	Step time.Duration
	// Multiply grows the pause after every check
	Multiply float64
	// MaxStep caps the pause (0 means 5s)
	MaxStep time.Duration
}

const defaultMaxStep = 5 * time.Second

// PollResult describes how a poll ended
type PollResult struct {
	OK      bool
	Checks  int
	Elapsed time.Duration
}

// Poll checks predicate immediately and then after growing pauses until it
// holds or the timeout is spent. The budget counts both wall-clock time and
// the time handed to the sleep function, whichever is larger.
func Poll(ctx context.Context, cfg PollConfig, predicate func() bool, opts ...Option) (PollResult, error) {
	o := newOptions(opts)

	maxStep := cfg.MaxStep
	if maxStep <= 0 {
		maxStep = defaultMaxStep
	}
	multiply := cfg.Multiply
	if multiply < 1 {
		multiply = 1
	}

	start := time.Now()
	var slept time.Duration
	step := cfg.Step
	result := PollResult{}

	for {
		result.Checks++
		if predicate() {
			result.OK = true
			result.Elapsed = elapsed(start, slept)
			return result, nil
		}

		spent := elapsed(start, slept)
		if spent >= cfg.Timeout {
			result.Elapsed = spent
			return result, nil
		}

		if err := ctx.Err(); err != nil {
			result.Elapsed = spent
			return result, err
		}

		pause := step
		if remaining := cfg.Timeout - spent; pause > remaining {
			pause = remaining
		}
		if err := o.sleep(ctx, pause); err != nil {
			result.Elapsed = elapsed(start, slept)
			return result, err
		}
		slept += pause

		step = time.Duration(float64(step) * multiply)
		if step > maxStep {
			step = maxStep
		}
	}
}

func elapsed(start time.Time, slept time.Duration) time.Duration {
	wall := time.Since(start)
	if slept > wall {
		return slept
	}
	return wall
}
