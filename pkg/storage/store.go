package storage

import (
	"github.com/cuemby/fleetctl/pkg/types"
)

// Store defines the interface for the core's persisted state. A single
// embedded transactional database backs every entity family; see
// boltdb.go for the bbolt-backed implementation.
type Store interface {
	// Prompts
	CreatePrompt(prompt *types.Prompt) error
	GetPrompt(id int64) (*types.Prompt, error)
	ListPrompts() ([]*types.Prompt, error)
	ListPromptsByStatus(status types.PromptStatus) ([]*types.Prompt, error)
	UpdatePrompt(prompt *types.Prompt) error
	DeletePrompt(id int64) error

	// Sessions
	CreateSession(session *types.Session) error
	GetSession(name string) (*types.Session, error)
	ListSessions() ([]*types.Session, error)
	UpdateSession(session *types.Session) error
	DeleteSession(name string) error

	// Assignment history (append-only)
	AppendHistory(entry *types.HistoryEntry) error
	ListHistoryByPrompt(promptID int64) ([]*types.HistoryEntry, error)

	// Cluster nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Resource allocations
	CreateAllocation(alloc *types.ResourceAllocation) error
	GetAllocation(id string) (*types.ResourceAllocation, error)
	ListAllocations() ([]*types.ResourceAllocation, error)
	UpdateAllocation(alloc *types.ResourceAllocation) error

	// Failover log (append-only)
	AppendFailover(entry *types.FailoverEntry) error
	ListFailovers() ([]*types.FailoverEntry, error)

	// Supervisor services
	CreateService(service *types.ManagedService) error
	GetService(id string) (*types.ManagedService, error)
	ListServices() ([]*types.ManagedService, error)
	UpdateService(service *types.ManagedService) error
	DeleteService(id string) error

	// Supervisor metrics snapshots
	AppendServiceMetrics(m *types.ServiceMetrics) error
	ListServiceMetrics(serviceID string) ([]*types.ServiceMetrics, error)

	// Supervisor events (persisted notifications)
	AppendServiceEvent(e *types.SupervisorEvent) error
	ListServiceEvents(serviceID string) ([]*types.SupervisorEvent, error)

	// Utility
	Close() error
}
