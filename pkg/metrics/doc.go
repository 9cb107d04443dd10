// Package metrics defines the Prometheus metrics exposed by fleetctl:
// assigner throughput and tick latency, per-service supervisor
// resource snapshots, and cluster heartbeat/failover counters. Metrics
// are registered at init() and scraped via Handler().
package metrics
