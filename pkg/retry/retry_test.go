package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleep records requested pauses without blocking
type fakeSleep struct {
	pauses []time.Duration
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.pauses = append(f.pauses, d)
	return nil
}

func TestAttempts(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		step     time.Duration
		expected int
	}{
		{name: "plain mode", timeout: 120 * time.Second, step: 5 * time.Second, expected: 24},
		{name: "slow mode", timeout: 240 * time.Second, step: 5 * time.Second, expected: 48},
		{name: "timeout below step", timeout: time.Second, step: 5 * time.Second, expected: 1},
		{name: "zero step", timeout: time.Minute, step: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Attempts(tt.timeout, tt.step))
		})
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	fs := &fakeSleep{}
	calls := 0

	err := Do(context.Background(), 5, time.Second, func(int) error {
		calls++
		return nil
	}, WithSleep(fs.sleep))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, fs.pauses)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	fs := &fakeSleep{}
	calls := 0

	err := Do(context.Background(), 5, 5*time.Second, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("controller not ready")
		}
		return nil
	}, WithSleep(fs.sleep))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, fs.pauses)
}

func TestDo_ReturnsLastError(t *testing.T) {
	fs := &fakeSleep{}
	calls := 0

	err := Do(context.Background(), 4, time.Second, func(attempt int) error {
		calls++
		return errors.New("failure " + string(rune('0'+attempt)))
	}, WithSleep(fs.sleep))

	require.Error(t, err)
	assert.Equal(t, "failure 4", err.Error())
	assert.Equal(t, 4, calls)
	// No pause after the final failure
	assert.Len(t, fs.pauses, 3)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, 10, time.Second, func(int) error {
		calls++
		cancel()
		return errors.New("boom")
	}, WithSleep(Sleep))

	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, 1, calls)
}

func TestPoll_FalseFiveTimesThenTrue(t *testing.T) {
	fs := &fakeSleep{}
	checks := 0

	result, err := Poll(context.Background(), PollConfig{
		Timeout:  120 * time.Second,
		Step:     time.Second,
		Multiply: 1.3,
	}, func() bool {
		checks++
		return checks > 5
	}, WithSleep(fs.sleep))

	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 6, result.Checks)
	require.Len(t, fs.pauses, 5)
	assert.Equal(t, time.Second, fs.pauses[0])
	assert.Equal(t, 1300*time.Millisecond, fs.pauses[1])
	for i := 1; i < len(fs.pauses); i++ {
		assert.GreaterOrEqual(t, fs.pauses[i], fs.pauses[i-1])
	}
}

func TestPoll_TimesOut(t *testing.T) {
	fs := &fakeSleep{}

	result, err := Poll(context.Background(), PollConfig{
		Timeout:  10 * time.Second,
		Step:     time.Second,
		Multiply: 2,
	}, func() bool {
		return false
	}, WithSleep(fs.sleep))

	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.GreaterOrEqual(t, result.Elapsed, 10*time.Second)

	var total time.Duration
	for _, p := range fs.pauses {
		total += p
	}
	assert.Equal(t, 10*time.Second, total)
}

func TestPoll_StepIsCapped(t *testing.T) {
	fs := &fakeSleep{}

	_, err := Poll(context.Background(), PollConfig{
		Timeout:  60 * time.Second,
		Step:     4 * time.Second,
		Multiply: 3,
		MaxStep:  5 * time.Second,
	}, func() bool { return false }, WithSleep(fs.sleep))

	require.NoError(t, err)
	for _, p := range fs.pauses {
		assert.LessOrEqual(t, p, 5*time.Second)
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs := &fakeSleep{}
	result, err := Poll(ctx, PollConfig{Timeout: time.Minute, Step: time.Second, Multiply: 1.3},
		func() bool { return false }, WithSleep(fs.sleep))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.OK)
	assert.Equal(t, 1, result.Checks)
}
