// Package supervisor implements the process supervisor: keeps a
// declared set of child processes alive within resource limits, with
// observable lifecycle state and exponential-backoff restarts.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// startGrace is how long a freshly-started child must survive before
// the starting→running transition fires.
const startGrace = 2 * time.Second

// Config holds the supervisor's tunables, sourced from the Global
// Supervisor section of the declarative configuration.
type Config struct {
	CheckInterval   time.Duration
	MetricsInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   30 * time.Second,
		MetricsInterval: 60 * time.Second,
	}
}

// runtimeService pairs a declared ManagedService with its live OS
// process handle; the process handle itself is never persisted.
type runtimeService struct {
	svc      *types.ManagedService
	proc     *process
	failures int // consecutive health-check failures
}

// Supervisor owns the supervision and metrics-emission cycles for
// every declared service.
type Supervisor struct {
	store  storage.Store
	prober *health.Prober
	clock  clock.Clock
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	services map[string]*runtimeService
	order    []string // priority order, set at Declare time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Supervisor.
func New(store storage.Store, prober *health.Prober, clk clock.Clock, broker *events.Broker, cfg Config) *Supervisor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{
		store:    store,
		prober:   prober,
		clock:    clk,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("supervisor"),
		services: make(map[string]*runtimeService),
		stopCh:   make(chan struct{}),
	}
}

// Declare registers a service definition. Services are evaluated by
// the supervision cycle in ascending Priority order, ties broken by
// declaration order.
func (s *Supervisor) Declare(svc *types.ManagedService) error {
	if svc.Lifecycle == "" {
		svc.Lifecycle = types.ServiceStopped
	}
	if err := s.store.CreateService(svc); err != nil {
		return apierr.Wrap(apierr.Transport, "declare service", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = &runtimeService{svc: svc}
	s.reorderLocked()
	return nil
}

func (s *Supervisor) reorderLocked() {
	order := make([]string, 0, len(s.services))
	seen := make(map[string]bool, len(s.services))
	for _, id := range s.order {
		if _, ok := s.services[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for id := range s.services {
		if !seen[id] {
			order = append(order, id)
		}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && s.services[order[j-1]].svc.Priority > s.services[order[j]].svc.Priority; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	s.order = order
}

// Start launches the supervision and metrics-emission cycles, and
// starts every enabled service once.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, id := range ids {
		s.mu.RLock()
		rs := s.services[id]
		s.mu.RUnlock()
		if rs.svc.Enabled {
			s.startLocked(id)
		}
	}

	s.wg.Add(2)
	go s.runTicker(ctx, s.cfg.CheckInterval, s.cycle, "supervision")
	go s.runTicker(ctx, s.cfg.MetricsInterval, s.emitMetrics, "metrics")
}

// Stop gracefully stops every running service, then halts the
// supervision/metrics loops. Supervisor shutdown always stops every
// service before exiting.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.StopService(ctx, id)
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context), name string) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Status returns a snapshot of a declared service's runtime state.
func (s *Supervisor) Status(id string) (*types.ManagedService, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.services[id]
	if !ok {
		return nil, false
	}
	cp := *rs.svc
	return &cp, true
}

// ListStatus returns every declared service in priority order.
func (s *Supervisor) ListStatus() []*types.ManagedService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ManagedService, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.services[id].svc
		out = append(out, &cp)
	}
	return out
}

func (s *Supervisor) persist(rs *runtimeService) {
	if err := s.store.UpdateService(rs.svc); err != nil {
		s.logger.Error().Err(err).Str("service", rs.svc.ID).Msg("failed to persist service state")
	}
}

func (s *Supervisor) notify(severity events.Severity, serviceID, msg string) {
	now := s.clock.Now()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:      events.EventServiceFailed,
			Severity:  severity,
			ServiceID: serviceID,
			Message:   msg,
			Timestamp: now,
		})
	}
	_ = s.store.AppendServiceEvent(&types.SupervisorEvent{
		Level:     string(severity),
		ServiceID: serviceID,
		Message:   msg,
		CreatedAt: now,
	})
}
