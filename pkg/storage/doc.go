/*
Package storage provides bbolt-backed persistence for fleetctl's state.

One embedded database file per process instance is the system of
record; in-memory caches in the assigner, supervisor, and coordinator
are warmed from it and mirrored back on every mutation. Data is
serialized as JSON into one bucket per entity family:

	prompts               zero-padded integer id -> Prompt
	sessions              session name           -> Session
	assignment_history    monotonic row id       -> HistoryEntry (append-only)
	cluster_nodes         node id                -> Node
	resource_allocations  allocation id          -> ResourceAllocation
	failover_log          failover id (uuid)     -> FailoverEntry (append-only)
	supervisor_services   service id             -> ManagedService
	supervisor_metrics    service id/row id      -> ServiceMetrics
	supervisor_events     service id/row id      -> SupervisorEvent

bbolt's single-writer, multi-reader transaction model makes every
state-changing operation one ACID transaction; reads run concurrently
via db.View. Integer ids come from the bucket sequence counter, so
they are monotonic and never reused.

History rows are insert-only (no update or delete methods exist).
References between Prompt and Session (current_task_id) and between
Prompt and HistoryEntry (prompt_id) are not checked: the store accepts
a session or history row that names a prompt id it does not hold.

The Store interface in store.go is what the rest of the codebase
depends on; BoltStore is the only production implementation, and tests
substitute lightweight in-memory fakes where transactional behavior is
not under test.
*/
package storage
