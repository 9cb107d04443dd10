package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
)

// healthCheckCycle runs one pass of the failover role's probe
// loop: check every other known node's /health endpoint and, if the
// primary has been unreachable past the failover threshold, promote.
func (c *Coordinator) healthCheckCycle(ctx context.Context) {
	c.mu.RLock()
	nodes := make([]*types.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := *n
		nodes = append(nodes, &cp)
	}
	c.mu.RUnlock()

	var primary *types.Node
	for _, n := range nodes {
		if n.ID == c.cfg.NodeID {
			continue
		}
		c.probeNode(ctx, n)
		if n.Role == types.RolePrimary {
			cp := *n
			primary = &cp
		}
	}
	c.refreshNodeGauges()

	if primary == nil {
		return
	}
	c.evaluatePrimaryReachability(primary)
}

// refreshNodeGauges recomputes the (role, healthy) node-count gauges
// from the current registry snapshot.
func (c *Coordinator) refreshNodeGauges() {
	counts := map[[2]string]int{}
	for _, n := range c.ListNodes() {
		key := [2]string{string(n.Role), fmt.Sprintf("%v", n.Healthy)}
		counts[key]++
	}
	for key, n := range counts {
		metrics.NodesTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Coordinator) probeNode(ctx context.Context, n *types.Node) {
	spec := health.CheckSpec{
		Kind:           health.KindHTTP,
		URL:            fmt.Sprintf("http://%s/health", n.Address),
		ExpectedStatus: 200,
		Timeout:        3 * time.Second,
	}
	result := c.prober.Check(ctx, n.ID, spec)

	n.Reachable = result.Status != health.StatusUnknown
	n.Healthy = result.Status == health.StatusHealthy
	if n.Reachable {
		n.LastHeartbeat = c.clock.Now()
	}
	c.persistNode(n)
}

// evaluatePrimaryReachability promotes this node if the primary has
// gone unreachable for at least FailoverThreshold.
func (c *Coordinator) evaluatePrimaryReachability(primary *types.Node) {
	if primary.Reachable {
		c.mu.Lock()
		c.primaryLastOK = c.clock.Now()
		c.mu.Unlock()
		return
	}

	c.mu.RLock()
	lastOK := c.primaryLastOK
	c.mu.RUnlock()
	if lastOK.IsZero() {
		return
	}

	if c.clock.Now().Sub(lastOK) >= c.cfg.FailoverThreshold {
		c.promote(primary.ID, "primary unreachable past failover_threshold")
	}
}

// promote mutates the local role, persists the
// failover-log entry, and invoke registered callbacks.
func (c *Coordinator) promote(fromNode, reason string) {
	c.mu.Lock()
	if c.role == types.RolePrimary {
		c.mu.Unlock()
		return // already promoted; idempotent
	}
	c.role = types.RolePrimary
	callbacksFailover := append([]func(string, string, string){}, c.onFailover...)
	callbacksRole := append([]func(types.NodeRole){}, c.onRoleChange...)
	c.mu.Unlock()

	entry := &types.FailoverEntry{
		ID:        uuid.NewString(),
		FromNode:  fromNode,
		ToNode:    c.cfg.NodeID,
		Reason:    reason,
		Timestamp: c.clock.Now(),
	}
	_ = c.store.AppendFailover(entry)
	metrics.FailoversTotal.Inc()

	self, ok := c.getNode(c.cfg.NodeID)
	if ok {
		self.Role = types.RolePrimary
		c.persistNode(self)
	}

	for _, fn := range callbacksFailover {
		fn(fromNode, c.cfg.NodeID, reason)
	}
	for _, fn := range callbacksRole {
		fn(types.RolePrimary)
	}

	c.logger.Warn().Str("from_node", fromNode).Str("reason", reason).Msg("promoted to primary")
}
