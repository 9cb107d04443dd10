package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fleetctl/pkg/metrics"
)

// heartbeatPayload is the POST /cluster/heartbeat body.
type heartbeatPayload struct {
	NodeID      string    `json:"node_id"`
	Role        string    `json:"role"`
	Timestamp   time.Time `json:"timestamp"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	DiskUsage   float64   `json:"disk_usage"`
}

// localSample supplies the CPU, memory and disk percentages sent in
// heartbeats and reported by the /health handler. Nothing assigns a
// host-resource sampler to it, so all three values are always zero.
var localSample = func() (cpu, mem, disk float64) { return 0, 0, 0 }

// sendHeartbeat POSTs this node's status to the configured primary
// address. Workers never act on a failed send beyond logging; only a
// failover node's independent health-check loop may initiate failover.
func (c *Coordinator) sendHeartbeat(ctx context.Context) {
	cpu, mem, disk := localSample()
	body := heartbeatPayload{
		NodeID:      c.cfg.NodeID,
		Role:        string(c.Role()),
		Timestamp:   c.clock.Now(),
		CPUUsage:    cpu,
		MemoryUsage: mem,
		DiskUsage:   disk,
	}
	buf, _ := json.Marshal(body)

	url := fmt.Sprintf("http://%s/cluster/heartbeat", c.cfg.PrimaryAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		c.recordMissedBeat(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordMissedBeat(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordMissedBeat(fmt.Errorf("primary returned %d", resp.StatusCode))
		return
	}

	metrics.HeartbeatsSentTotal.Inc()
	c.mu.Lock()
	c.missedBeats = 0
	c.mu.Unlock()
}

func (c *Coordinator) recordMissedBeat(err error) {
	c.mu.Lock()
	c.missedBeats++
	missed := c.missedBeats
	c.mu.Unlock()

	if missed >= c.cfg.MaxMissedHeartbeats {
		c.logger.Warn().Err(err).Int("missed_beats", missed).Msg("heartbeat to primary failing; taking no action (not a failover node)")
	}
}

// HeartbeatHandler implements the primary-side POST
// /cluster/heartbeat endpoint.
func (c *Coordinator) HeartbeatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload heartbeatPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		node, ok := c.getNode(payload.NodeID)
		if !ok {
			http.Error(w, "unknown node", http.StatusNotFound)
			return
		}

		node.LastHeartbeat = c.clock.Now()
		node.CPUPercent = payload.CPUUsage
		node.MemoryPercent = payload.MemoryUsage
		node.DiskPercent = payload.DiskUsage
		node.Reachable = true
		node.Healthy = true
		c.persistNode(node)

		metrics.HeartbeatsReceivedTotal.Inc()
		w.WriteHeader(http.StatusOK)
	}
}

// HealthHandler implements the GET /health self-assessment
// endpoint.
func (c *Coordinator) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cpu, mem, _ := localSample()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "healthy",
			"cpu_usage":    cpu,
			"memory_usage": mem,
		})
	}
}
