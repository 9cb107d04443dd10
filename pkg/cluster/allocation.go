package cluster

import (
	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
)

const allocationRetries = 3

// Allocate picks a node advertising resourceType,
// preferring preferredNode if healthy, else the healthy node with the
// lowest combined CPU+memory load. Returns nil if no node qualifies.
//
// Conflicting concurrent allocations are resolved with optimistic
// retry: re-list active allocations for the (resourceType, node) pair
// immediately before committing, up to allocationRetries times.
func (c *Coordinator) Allocate(resourceType, requester, preferredNode string, priority int) (*types.ResourceAllocation, error) {
	for attempt := 0; attempt < allocationRetries; attempt++ {
		node := c.pickNode(resourceType, preferredNode)
		if node == nil {
			return nil, nil
		}

		shareable := c.cfg.ShareableResources[resourceType]
		if !shareable {
			if conflict, err := c.hasActiveAllocation(resourceType, node.ID); err != nil {
				return nil, err
			} else if conflict {
				continue // another allocation landed on this node since pickNode; retry
			}
		}

		alloc := &types.ResourceAllocation{
			ID:           uuid.NewString(),
			ResourceType: resourceType,
			Requester:    requester,
			NodeID:       node.ID,
			Priority:     priority,
			Shareable:    shareable,
			AllocatedAt:  c.clock.Now(),
		}
		if err := c.store.CreateAllocation(alloc); err != nil {
			return nil, apierr.Wrap(apierr.Transport, "create allocation", err)
		}
		metrics.AllocationsActive.Inc()
		return alloc, nil
	}
	return nil, apierr.New(apierr.ResourceExhausted, "allocation contended past retry budget")
}

// Release stamps released_at. Idempotent: releasing an
// already-released allocation returns false.
func (c *Coordinator) Release(allocationID string) (bool, error) {
	alloc, err := c.store.GetAllocation(allocationID)
	if err != nil {
		return false, apierr.Wrap(apierr.NotFound, "allocation "+allocationID, err)
	}
	if !alloc.Active() {
		return false, nil
	}
	alloc.ReleasedAt = c.clock.Now()
	if err := c.store.UpdateAllocation(alloc); err != nil {
		return false, apierr.Wrap(apierr.Transport, "release allocation", err)
	}
	metrics.AllocationsActive.Dec()
	return true, nil
}

func (c *Coordinator) hasActiveAllocation(resourceType, nodeID string) (bool, error) {
	allocs, err := c.store.ListAllocations()
	if err != nil {
		return false, apierr.Wrap(apierr.Transport, "list allocations", err)
	}
	for _, a := range allocs {
		if a.ResourceType == resourceType && a.NodeID == nodeID && a.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) pickNode(resourceType, preferredNode string) *types.Node {
	candidates := c.capableNodes(resourceType)
	if preferredNode != "" {
		for _, n := range candidates {
			if n.ID == preferredNode && n.Healthy {
				return n
			}
		}
	}

	var best *types.Node
	bestLoad := -1.0
	for _, n := range candidates {
		if !n.Healthy {
			continue
		}
		load := n.CPUPercent + n.MemoryPercent
		if best == nil || load < bestLoad {
			best, bestLoad = n, load
		}
	}
	return best
}

func (c *Coordinator) capableNodes(resourceType string) []*types.Node {
	all := c.ListNodes()
	out := make([]*types.Node, 0, len(all))
	for _, n := range all {
		for _, svc := range n.AdvertisedServices {
			if svc == resourceType {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
