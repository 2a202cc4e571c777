package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	time.Sleep(50 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	if first < 50*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 50ms", first)
	}
	if second <= first {
		t.Errorf("Duration should increase: first=%v, second=%v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_bring_up_seconds",
		Help: "Test duration histogram",
	})

	NewTimer().ObserveDuration(histogram)

	if got := testutil.CollectAndCount(histogram); got != 1 {
		t.Errorf("expected 1 collected metric, got %d", got)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "test_step_seconds",
			Help: "Test duration histogram vec",
		},
		[]string{"step"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(histogramVec, "add_box")
	timer.ObserveDurationVec(histogramVec, "bind_pools")

	if got := testutil.CollectAndCount(histogramVec); got != 2 {
		t.Errorf("expected 2 label sets, got %d", got)
	}
}
