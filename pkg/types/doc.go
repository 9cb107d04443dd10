/*
Package types defines the core data structures shared across fleetctl.

This package contains the domain model every other package operates on:
prompts and their scheduling state, worker sessions, supervised
services, cluster nodes, and resource allocations. All other packages
depend on types; types depends on nothing but the standard library.

# Core Types

Task dispatch:
  - Prompt: a unit of text work, the atomic unit of scheduling
  - PromptStatus: pending, assigned, in_progress, completed, failed, cancelled
  - Session: a named terminal pane fronting one worker process
  - SessionStatus: idle, busy, waiting_input, unknown
  - Provider: which worker implementation fronts a session
  - HistoryEntry: append-only assignment audit row

Process supervision:
  - ManagedService: a declared child process with static config and runtime state
  - ServiceLifecycle: the supervisor's per-service state machine states
  - RestartPolicy, ResourceLimits, GracefulShutdown: per-service policies
  - HealthCheckSpec: declarative http/tcp/process/script check configuration
  - ServiceMetrics: a point-in-time CPU/RSS/uptime snapshot

Cluster coordination:
  - Node: a cluster member with role, load, and liveness
  - NodeRole: primary, failover, worker
  - ResourceAllocation: a reservation of a named shared resource on a node
  - FailoverEntry: append-only record of a role promotion

All types are plain structs, serializable as JSON for the embedded
store and the wire protocol. Enumerations are typed string constants so
their persisted form is the literal enum value. Free-form extension
data lives in a single typed Metadata map, never in dynamic attributes.
*/
package types
