package supervisor

import (
	"context"
	"math"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/types"
)

// StartService transitions a stopped (or fatal) service to starting
// and spawns its child process.
func (s *Supervisor) StartService(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[id]; !ok {
		return apierr.New(apierr.NotFound, "service "+id)
	}
	s.startLocked(id)
	return nil
}

func (s *Supervisor) startLocked(id string) {
	rs := s.services[id]
	proc, err := spawnProcess(rs.svc.Command, rs.svc.Args, rs.svc.WorkingDirectory, rs.svc.Environment)
	if err != nil {
		rs.svc.Lifecycle = types.ServiceFailed
		rs.svc.LastError = err.Error()
		rs.svc.TotalFailures++
		s.persist(rs)
		s.notify(events.SeverityWarning, id, "failed to start: "+err.Error())
		return
	}
	rs.proc = proc
	rs.svc.Lifecycle = types.ServiceStarting
	rs.svc.PID = proc.pid()
	rs.svc.StartedAt = s.clock.Now()
	rs.svc.LastError = ""
	s.persist(rs)
}

// StopService sends the configured stop signal, waits up to the
// configured grace period, then force-kills.
func (s *Supervisor) StopService(ctx context.Context, id string) error {
	s.mu.Lock()
	rs, ok := s.services[id]
	if !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "service "+id)
	}
	proc := rs.proc
	if proc == nil || !proc.alive() {
		rs.svc.Lifecycle = types.ServiceStopped
		s.persist(rs)
		s.mu.Unlock()
		return nil
	}
	rs.svc.Lifecycle = types.ServiceStopping
	s.persist(rs)
	sig := parseSignal(rs.svc.Shutdown.Signal)
	grace := rs.svc.Shutdown.Timeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	s.mu.Unlock()

	_ = proc.signal(sig)
	select {
	case <-proc.waitedCh:
	case <-s.clock.After(grace):
		_ = proc.kill()
		select {
		case <-proc.waitedCh:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}

	s.mu.Lock()
	rs.svc.Lifecycle = types.ServiceStopped
	rs.svc.PID = 0
	s.persist(rs)
	s.mu.Unlock()
	return nil
}

// RestartService resets a fatal or failed service's attempt counters
// and starts it fresh.
func (s *Supervisor) RestartService(ctx context.Context, id string) error {
	s.mu.Lock()
	rs, ok := s.services[id]
	if !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "service "+id)
	}
	s.mu.Unlock()

	_ = s.StopService(ctx, id)

	s.mu.Lock()
	rs.svc.RestartAttempts = 0
	rs.svc.ConsecutiveFailures = 0
	s.mu.Unlock()

	return s.StartService(id)
}

// cycle runs one pass of the periodic supervision cycle over
// every declared service, in priority order.
func (s *Supervisor) cycle(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SupervisionCycleDuration)

	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, id := range ids {
		s.evaluateOne(ctx, id)
	}
}

func (s *Supervisor) evaluateOne(ctx context.Context, id string) {
	s.mu.Lock()
	rs, ok := s.services[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	switch rs.svc.Lifecycle {
	case types.ServiceBackoff:
		if !s.clock.Now().Before(rs.svc.NextRestartAt) {
			s.startLocked(id)
		}
		s.mu.Unlock()

	case types.ServiceStarting:
		alive := rs.proc != nil && rs.proc.alive()
		survivedGrace := s.clock.Now().Sub(rs.svc.StartedAt) >= startGrace
		if alive && survivedGrace {
			rs.svc.Lifecycle = types.ServiceRunning
			rs.svc.RestartAttempts = 0
			s.persist(rs)
			s.mu.Unlock()
		} else if !alive {
			s.mu.Unlock()
			s.markFailed(id, "child exited during startup")
		} else {
			s.mu.Unlock()
		}

	case types.ServiceRunning:
		alive := rs.proc != nil && rs.proc.alive()
		s.mu.Unlock()
		if !alive {
			s.markFailed(id, "child exited")
			return
		}
		s.evaluateRunning(ctx, id)

	default:
		s.mu.Unlock()
	}
}

func (s *Supervisor) evaluateRunning(ctx context.Context, id string) {
	s.mu.Lock()
	rs, ok := s.services[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	proc := rs.proc
	limits := rs.svc.Limits
	checkSpec := rs.svc.HealthCheck
	s.mu.Unlock()

	cpuPercent, rssMB, sampled := proc.sample()
	if sampled {
		s.mu.Lock()
		rs.svc.LastMetrics = &types.ServiceMetrics{
			ServiceID:  id,
			CPUPercent: cpuPercent,
			RSSMb:      rssMB,
			Uptime:     s.clock.Now().Sub(rs.svc.StartedAt),
			RecordedAt: s.clock.Now(),
		}
		s.mu.Unlock()

		if limits.MaxCPUPercent > 0 && cpuPercent > limits.MaxCPUPercent {
			s.notify(events.SeverityWarning, id, "CPU usage exceeds configured limit")
		}
		if limits.MaxMemoryMB > 0 && rssMB > limits.MaxMemoryMB {
			s.notify(events.SeverityWarning, id, "memory usage exceeds configured limit")
		}
	}

	if checkSpec == nil {
		return
	}
	spec := toHealthSpec(*checkSpec)
	if checkSpec.PID == 0 {
		spec.PID = rs.svc.PID
	}
	if rs.svc.FallbackCheck != nil {
		fb := toHealthSpec(*rs.svc.FallbackCheck)
		spec.Fallback = &fb
	}
	result := s.prober.Check(ctx, id, spec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Status == health.StatusUnhealthy {
		rs.failures++
	} else {
		rs.failures = 0
	}
	maxFailures := checkSpec.Retries
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if rs.failures >= maxFailures {
		rs.svc.Lifecycle = types.ServiceFailed
		rs.svc.LastError = "exceeded max consecutive health-check failures"
		rs.svc.TotalFailures++
		s.persist(rs)
		s.scheduleRestartLocked(rs)
	}
}

// markFailed transitions a service to failed and schedules its next
// state (backoff or fatal).
func (s *Supervisor) markFailed(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.services[id]
	if !ok {
		return
	}
	rs.svc.Lifecycle = types.ServiceFailed
	rs.svc.LastError = reason
	rs.svc.TotalFailures++
	s.persist(rs)
	s.scheduleRestartLocked(rs)
}

// scheduleRestartLocked moves a failed service to backoff or fatal,
// per the restart policy. Caller holds s.mu.
func (s *Supervisor) scheduleRestartLocked(rs *runtimeService) {
	pol := rs.svc.RestartPolicy
	if !pol.RestartOnExit || rs.svc.RestartAttempts >= pol.MaxRetries {
		rs.svc.Lifecycle = types.ServiceFatal
		s.persist(rs)
		s.notify(events.SeverityCritical, rs.svc.ID, "restart attempts exhausted, service is fatal")
		return
	}

	delay := backoffDelay(pol.RetryDelay, pol.BackoffMultiplier, rs.svc.RestartAttempts, pol.MaxBackoff)
	rs.svc.RestartAttempts++
	metrics.ServiceRestartsTotal.WithLabelValues(rs.svc.ID).Inc()
	rs.svc.Lifecycle = types.ServiceBackoff
	rs.svc.NextRestartAt = s.clock.Now().Add(delay)
	s.persist(rs)
}

// backoffDelay is `min(initial_delay * multiplier^attempts, cap)`.
func backoffDelay(initial time.Duration, multiplier float64, attempts int, cap time.Duration) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	scaled := float64(initial) * math.Pow(multiplier, float64(attempts))
	d := time.Duration(scaled)
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

func (s *Supervisor) emitMetrics(ctx context.Context) {
	s.mu.RLock()
	snapshot := make([]*types.ManagedService, 0, len(s.services))
	for _, rs := range s.services {
		cp := *rs.svc
		snapshot = append(snapshot, &cp)
	}
	s.mu.RUnlock()

	counts := map[types.ServiceLifecycle]int{}
	for _, svc := range snapshot {
		counts[svc.Lifecycle]++
		if svc.LastMetrics == nil {
			continue
		}
		metrics.ServiceCPUPercent.WithLabelValues(svc.ID).Set(svc.LastMetrics.CPUPercent)
		metrics.ServiceRSSBytes.WithLabelValues(svc.ID).Set(float64(svc.LastMetrics.RSSMb) * 1024 * 1024)
		_ = s.store.AppendServiceMetrics(svc.LastMetrics)
	}
	for lifecycle, n := range counts {
		metrics.ServicesTotal.WithLabelValues(string(lifecycle)).Set(float64(n))
	}
}
