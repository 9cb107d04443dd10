package cluster

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *clock.Fake) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(store, health.NewProber(0), fc, broker, cfg), fc
}

func TestHeartbeat_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "primary-1"
	cfg.Role = types.RolePrimary
	primary, _ := newTestCoordinator(t, cfg)
	require.NoError(t, primary.RegisterNode(&types.Node{ID: "worker-1", Role: types.RoleWorker}))

	srv := httptest.NewServer(primary.HeartbeatHandler())
	defer srv.Close()

	workerCfg := DefaultConfig()
	workerCfg.NodeID = "worker-1"
	workerCfg.Role = types.RoleWorker
	workerCfg.PrimaryAddress = srv.Listener.Addr().String()
	worker, _ := newTestCoordinator(t, workerCfg)

	worker.sendHeartbeat(context.Background())

	node, ok := primary.getNode("worker-1")
	require.True(t, ok)
	require.True(t, node.Reachable)
	require.True(t, node.Healthy)
}

func TestHeartbeat_UnknownNodeReturns404(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "primary-1"
	primary, _ := newTestCoordinator(t, cfg)

	srv := httptest.NewServer(primary.HeartbeatHandler())
	defer srv.Close()

	workerCfg := DefaultConfig()
	workerCfg.NodeID = "ghost"
	workerCfg.PrimaryAddress = srv.Listener.Addr().String()
	worker, _ := newTestCoordinator(t, workerCfg)

	// Should not panic; recorded as a missed beat, no promotion attempted
	// (workers never initiate failover).
	worker.sendHeartbeat(context.Background())
	require.Equal(t, 1, worker.missedBeats)
}

// TestFailover_PromotesAfterThreshold: primary
// goes unreachable at t=0, failover threshold is 30s, so promotion
// must not occur before t=30 and must occur once t>=30 is observed.
func TestFailover_PromotesAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "failover-1"
	cfg.Role = types.RoleFailover
	cfg.FailoverThreshold = 30 * time.Second
	c, fc := newTestCoordinator(t, cfg)

	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "primary-1", Role: types.RolePrimary, Address: "127.0.0.1:1", // unroutable
	}))
	require.NoError(t, c.RegisterNode(&types.Node{ID: "failover-1", Role: types.RoleFailover}))

	var promoted []string
	c.RegisterOnFailover(func(from, to, reason string) { promoted = append(promoted, to) })

	primary, _ := c.getNode("primary-1")
	primary.Reachable = false
	c.primaryLastOK = fc.Now()

	c.evaluatePrimaryReachability(primary)
	require.Equal(t, types.RoleFailover, c.Role(), "must not promote before the threshold elapses")

	fc.Advance(29 * time.Second)
	c.evaluatePrimaryReachability(primary)
	require.Equal(t, types.RoleFailover, c.Role())

	fc.Advance(2 * time.Second) // total 31s elapsed
	c.evaluatePrimaryReachability(primary)
	require.Equal(t, types.RolePrimary, c.Role())
	require.Equal(t, []string{"failover-1"}, promoted)
}

func TestFailover_PromoteIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "failover-1"
	cfg.Role = types.RolePrimary
	c, _ := newTestCoordinator(t, cfg)

	calls := 0
	c.RegisterOnFailover(func(from, to, reason string) { calls++ })

	c.promote("primary-1", "test")
	c.promote("primary-1", "test")
	require.Equal(t, 0, calls, "already-primary node must not re-promote")
}

func TestAllocate_PrefersHealthyPreferredNode(t *testing.T) {
	c, fc := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-a", Healthy: true, AdvertisedServices: []string{"gpu"},
		CPUPercent: 10, MemoryPercent: 10,
	}))
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-b", Healthy: true, AdvertisedServices: []string{"gpu"},
		CPUPercent: 90, MemoryPercent: 90,
	}))

	alloc, err := c.Allocate("gpu", "job-1", "node-b", 1)
	require.NoError(t, err)
	require.NotNil(t, alloc)
	require.Equal(t, "node-b", alloc.NodeID)
	require.Equal(t, fc.Now(), alloc.AllocatedAt)
}

func TestAllocate_FallsBackToLowestLoad(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-a", Healthy: true, AdvertisedServices: []string{"gpu"},
		CPUPercent: 10, MemoryPercent: 10,
	}))
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-b", Healthy: true, AdvertisedServices: []string{"gpu"},
		CPUPercent: 90, MemoryPercent: 90,
	}))
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-c", Healthy: false, AdvertisedServices: []string{"gpu"},
	}))

	alloc, err := c.Allocate("gpu", "job-1", "" /* no preference */, 1)
	require.NoError(t, err)
	require.Equal(t, "node-a", alloc.NodeID, "must pick the lowest combined load among healthy nodes")
}

func TestAllocate_NoCapableNodeReturnsNil(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.RegisterNode(&types.Node{ID: "node-a", Healthy: true}))

	alloc, err := c.Allocate("gpu", "job-1", "", 1)
	require.NoError(t, err)
	require.Nil(t, alloc)
}

func TestRelease_IsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-a", Healthy: true, AdvertisedServices: []string{"gpu"},
	}))

	alloc, err := c.Allocate("gpu", "job-1", "", 1)
	require.NoError(t, err)
	require.NotNil(t, alloc)

	released, err := c.Release(alloc.ID)
	require.NoError(t, err)
	require.True(t, released)

	releasedAgain, err := c.Release(alloc.ID)
	require.NoError(t, err)
	require.False(t, releasedAgain, "releasing an already-released allocation must be a no-op")
}

func TestAllocate_ConflictUnlessShareable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShareableResources = map[string]bool{"browser": true}
	c, _ := newTestCoordinator(t, cfg)
	require.NoError(t, c.RegisterNode(&types.Node{
		ID: "node-a", Healthy: true, AdvertisedServices: []string{"gpu", "browser"},
	}))

	first, err := c.Allocate("gpu", "job-1", "node-a", 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	// gpu is exclusive and node-a is the only capable node.
	_, err = c.Allocate("gpu", "job-2", "node-a", 1)
	require.Error(t, err)

	shared1, err := c.Allocate("browser", "job-3", "node-a", 1)
	require.NoError(t, err)
	require.NotNil(t, shared1)
	require.True(t, shared1.Shareable)

	shared2, err := c.Allocate("browser", "job-4", "node-a", 1)
	require.NoError(t, err)
	require.NotNil(t, shared2)
}
