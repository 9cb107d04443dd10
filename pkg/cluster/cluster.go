// Package cluster implements the cluster coordinator: per-process
// node-role management (primary/failover/worker), heartbeat exchange,
// failover promotion, and the shared resource-allocation registry.
package cluster

import (
	"context"
	"net/http"
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

// Config holds a coordinator's tunables, sourced from the Coordinator
// section of the declarative configuration.
type Config struct {
	NodeID              string
	Role                types.NodeRole
	Host                string
	Port                int
	PrimaryAddress      string
	HeartbeatInterval   time.Duration
	HealthCheckInterval time.Duration
	FailoverThreshold   time.Duration
	RecoveryThreshold   time.Duration
	MaxMissedHeartbeats int

	// ShareableResources names resource types that admit multiple
	// concurrent active allocations on one node.
	ShareableResources map[string]bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   10 * time.Second,
		HealthCheckInterval: 15 * time.Second,
		FailoverThreshold:   30 * time.Second,
		RecoveryThreshold:   30 * time.Second,
		MaxMissedHeartbeats: 3,
	}
}

// Coordinator is one process instance's cluster-awareness component.
type Coordinator struct {
	store  storage.Store
	prober *health.Prober
	clock  clock.Clock
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	httpClient *http.Client

	mu            sync.RWMutex
	role          types.NodeRole
	nodes         map[string]*types.Node
	missedBeats   int
	primaryLastOK time.Time
	onFailover    []func(fromNode, toNode, reason string)
	onRoleChange  []func(newRole types.NodeRole)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Coordinator for the given configuration.
func New(store storage.Store, prober *health.Prober, clk clock.Clock, broker *events.Broker, cfg Config) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		store:      store,
		prober:     prober,
		clock:      clk,
		broker:     broker,
		cfg:        cfg,
		logger:     log.WithComponent("cluster").With().Str("node_id", cfg.NodeID).Logger(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		role:       cfg.Role,
		nodes:      make(map[string]*types.Node),
		stopCh:     make(chan struct{}),
	}
}

// RegisterOnFailover registers a callback invoked after a promotion.
func (c *Coordinator) RegisterOnFailover(fn func(fromNode, toNode, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailover = append(c.onFailover, fn)
}

// RegisterOnRoleChange registers a callback invoked whenever this
// node's own role changes.
func (c *Coordinator) RegisterOnRoleChange(fn func(newRole types.NodeRole)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoleChange = append(c.onRoleChange, fn)
}

// NodeID returns this node's configured identifier.
func (c *Coordinator) NodeID() string {
	return c.cfg.NodeID
}

// Role returns this node's current role.
func (c *Coordinator) Role() types.NodeRole {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// RegisterNode seeds the local node registry, typically from static
// cluster configuration at startup.
func (c *Coordinator) RegisterNode(n *types.Node) error {
	if err := c.store.CreateNode(n); err != nil {
		return apierr.Wrap(apierr.Transport, "register node", err)
	}
	c.mu.Lock()
	c.nodes[n.ID] = n
	c.mu.Unlock()
	return nil
}

// ListNodes returns a snapshot of every known node.
func (c *Coordinator) ListNodes() []*types.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

func (c *Coordinator) getNode(id string) (*types.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	return n, ok
}

func (c *Coordinator) persistNode(n *types.Node) {
	if err := c.store.UpdateNode(n); err != nil {
		c.logger.Error().Err(err).Str("node_id", n.ID).Msg("failed to persist node")
	}
	c.mu.Lock()
	c.nodes[n.ID] = n
	c.mu.Unlock()
}

// Start launches the role-appropriate background loops. Workers and
// failover nodes send heartbeats; failover nodes additionally run the
// health-check/promotion loop; primaries accept heartbeats via the
// HTTP handlers returned by Handler (mounted by the composition root).
func (c *Coordinator) Start(ctx context.Context) {
	role := c.Role()
	if role == types.RoleWorker || role == types.RoleFailover {
		c.wg.Add(1)
		go c.runTicker(ctx, c.cfg.HeartbeatInterval, c.sendHeartbeat, "heartbeat")
	}
	if role == types.RoleFailover {
		c.wg.Add(1)
		go c.runTicker(ctx, c.cfg.HealthCheckInterval, c.healthCheckCycle, "health-check")
	}
}

// Stop halts every background loop.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context), name string) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
