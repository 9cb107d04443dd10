package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *clock.Fake) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	s := New(store, health.NewProber(0), fc, broker, DefaultConfig())
	return s, fc
}

func TestSupervisor_StartingTransitionsToRunningAfterGrace(t *testing.T) {
	s, fc := newTestSupervisor(t)
	require.NoError(t, s.Declare(&types.ManagedService{
		ID:      "sleeper",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Enabled: true,
	}))

	require.NoError(t, s.StartService("sleeper"))
	s.evaluateOne(context.Background(), "sleeper")

	svc, _ := s.Status("sleeper")
	require.Equal(t, types.ServiceStarting, svc.Lifecycle, "must not flip to running before the grace period elapses")

	fc.Advance(startGrace + time.Second)
	s.evaluateOne(context.Background(), "sleeper")

	svc, _ = s.Status("sleeper")
	require.Equal(t, types.ServiceRunning, svc.Lifecycle)

	_ = s.StopService(context.Background(), "sleeper")
}

func TestSupervisor_QuickExitEntersBackoffThenFatal(t *testing.T) {
	s, fc := newTestSupervisor(t)
	require.NoError(t, s.Declare(&types.ManagedService{
		ID:      "crasher",
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 1"},
		Enabled: true,
		RestartPolicy: types.RestartPolicy{
			RestartOnExit:     true,
			MaxRetries:        2,
			RetryDelay:        time.Second,
			BackoffMultiplier: 2,
			MaxBackoff:        10 * time.Second,
		},
	}))

	ctx := context.Background()

	// Attempt 1: exits immediately, goes to backoff.
	require.NoError(t, s.StartService("crasher"))
	time.Sleep(150 * time.Millisecond)
	s.evaluateOne(ctx, "crasher")
	svc, _ := s.Status("crasher")
	require.Equal(t, types.ServiceBackoff, svc.Lifecycle)
	require.Equal(t, 1, svc.RestartAttempts)

	// Attempt 2.
	fc.Advance(time.Second)
	s.evaluateOne(ctx, "crasher")
	time.Sleep(150 * time.Millisecond)
	s.evaluateOne(ctx, "crasher")
	svc, _ = s.Status("crasher")
	require.Equal(t, types.ServiceBackoff, svc.Lifecycle)
	require.Equal(t, 2, svc.RestartAttempts)

	// Attempt 3 exceeds max_retries=2: fatal, no further restart scheduled.
	fc.Advance(2 * time.Second)
	s.evaluateOne(ctx, "crasher")
	time.Sleep(150 * time.Millisecond)
	s.evaluateOne(ctx, "crasher")
	svc, _ = s.Status("crasher")
	require.Equal(t, types.ServiceFatal, svc.Lifecycle)
	require.Equal(t, 2, svc.RestartAttempts)
}

func TestSupervisor_ResourceLimitsAreAdvisoryOnly(t *testing.T) {
	s, _ := newTestSupervisor(t)
	require.NoError(t, s.Declare(&types.ManagedService{
		ID:      "idle",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 5"},
		Enabled: true,
		Limits:  types.ResourceLimits{MaxCPUPercent: 0.0001, MaxMemoryMB: 1},
	}))
	require.NoError(t, s.StartService("idle"))
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	s.services["idle"].svc.Lifecycle = types.ServiceRunning
	s.mu.Unlock()
	s.evaluateRunning(context.Background(), "idle")

	svc, _ := s.Status("idle")
	require.NotEqual(t, types.ServiceFatal, svc.Lifecycle, "exceeding an advisory limit must never itself restart the service")

	_ = s.StopService(context.Background(), "idle")
}
