package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestTimer_DurationIncreasesMonotonically(t *testing.T) {
	timer := NewTimer()

	time.Sleep(10 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	require.GreaterOrEqual(t, first, 10*time.Millisecond)
	require.Greater(t, second, first)
}

func TestTimer_ObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_tick_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(hist)

	require.Greater(t, timer.Duration(), time.Duration(0))
}

func TestTimer_ObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_tick_duration_vec_seconds",
		Help:    "test histogram vec",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "matching")

	require.GreaterOrEqual(t, timer.Duration(), time.Duration(0))
}

func TestTimers_Independent(t *testing.T) {
	older := NewTimer()
	time.Sleep(10 * time.Millisecond)
	newer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	require.Greater(t, older.Duration(), newer.Duration())
}
