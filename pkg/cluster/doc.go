// Package cluster implements the cluster coordinator.
//
// Each process runs exactly one Coordinator, configured with a role
// that determines which background loops it runs:
//
//	worker    : sendHeartbeat ticker only. Never initiates failover.
//	failover  : sendHeartbeat ticker + healthCheckCycle ticker, which
//	            probes every other node's /health endpoint and
//	            promotes itself to primary once the primary has been
//	            unreachable for FailoverThreshold.
//	primary   : runs no background ticker of its own; it answers the
//	            HeartbeatHandler/HealthHandler HTTP endpoints mounted
//	            by the composition root.
//
//	  worker/failover                         primary
//	  ----------------                        -------
//	  sendHeartbeat ---POST /cluster/heartbeat---> HeartbeatHandler
//	                                                   |
//	  (failover only)                                  v
//	  healthCheckCycle --GET /health--> other nodes  node table
//	       |
//	       v
//	  evaluatePrimaryReachability --(threshold elapsed)--> promote()
//
// promote() mutates the local role, appends a FailoverEntry, and
// invokes registered callbacks outside the coordinator's lock.
//
// Allocate/Release implement the shared resource-allocation registry
// registry: any node may call Allocate to reserve a named resource on
// whichever healthy node is best suited, with optimistic-concurrency
// retry against conflicting allocations.
package cluster
