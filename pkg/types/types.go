package types

import "time"

// PromptStatus is the lifecycle status of a Prompt.
type PromptStatus string

const (
	PromptPending    PromptStatus = "pending"
	PromptAssigned   PromptStatus = "assigned"
	PromptInProgress PromptStatus = "in_progress"
	PromptCompleted  PromptStatus = "completed"
	PromptFailed     PromptStatus = "failed"
	PromptCancelled  PromptStatus = "cancelled"
)

// Provider identifies which worker implementation fronts a Session.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderOllama Provider = "ollama"
	ProviderComet  Provider = "comet"
)

// Prompt is a unit of text work submitted to the Assigner.
type Prompt struct {
	ID                int64
	Content           string
	Source            string
	Priority          int
	Status            PromptStatus
	AssignedSession   string
	TargetSession     string
	TargetProvider    Provider
	FallbackProviders []Provider
	RetryCount        int
	MaxRetries        int
	Timeout           time.Duration
	CreatedAt         time.Time
	AssignedAt        time.Time
	CompletedAt       time.Time
	Response          string
	Error             string
	Metadata          map[string]string
}

// SessionStatus is the idle/busy classification of a Session.
type SessionStatus string

const (
	SessionIdle         SessionStatus = "idle"
	SessionBusy         SessionStatus = "busy"
	SessionWaitingInput SessionStatus = "waiting_input"
	SessionUnknown      SessionStatus = "unknown"
)

// Session is a named, attached interactive terminal pane.
type Session struct {
	Name          string
	Status        SessionStatus
	Provider      Provider
	LastActivity  time.Time
	CurrentTaskID int64 // 0 means unset
	WorkingDir    string
	LastOutput    string
	Excluded      bool
	UpdatedAt     time.Time
}

// HasCurrentTask reports whether the session is pinned to a task.
func (s *Session) HasCurrentTask() bool {
	return s.CurrentTaskID != 0
}

// HistoryAction names an assignment-history event kind.
type HistoryAction string

const (
	HistoryAssigned   HistoryAction = "assigned"
	HistoryReassigned HistoryAction = "reassigned"
	HistoryRetried    HistoryAction = "retried"
	HistoryCompleted  HistoryAction = "completed"
	HistoryFailed     HistoryAction = "failed"
)

// HistoryEntry is an append-only assignment-history row.
type HistoryEntry struct {
	ID          int64
	PromptID    int64
	SessionName string
	Action      HistoryAction
	CreatedAt   time.Time
	Details     string
}

// ServiceLifecycle is the state of a managed service in the
// supervisor's state machine.
type ServiceLifecycle string

const (
	ServiceStopped  ServiceLifecycle = "stopped"
	ServiceStarting ServiceLifecycle = "starting"
	ServiceRunning  ServiceLifecycle = "running"
	ServiceStopping ServiceLifecycle = "stopping"
	ServiceFailed   ServiceLifecycle = "failed"
	ServiceBackoff  ServiceLifecycle = "backoff"
	ServiceFatal    ServiceLifecycle = "fatal"
)

// RestartPolicy controls a service's exponential-backoff restart schedule.
type RestartPolicy struct {
	RestartOnExit     bool
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// ResourceLimits are advisory soft limits for a managed service.
type ResourceLimits struct {
	MaxCPUPercent float64
	MaxMemoryMB   int64
}

// GracefulShutdown configures how a service is stopped.
type GracefulShutdown struct {
	Enabled bool
	Timeout time.Duration
	Signal  string // e.g. "SIGTERM"
}

// ServiceMetrics is a point-in-time resource snapshot for a service.
type ServiceMetrics struct {
	ServiceID  string
	CPUPercent float64
	RSSMb      int64
	Uptime     time.Duration
	RecordedAt time.Time
}

// ManagedService is a declared, supervised child process.
type ManagedService struct {
	// Static configuration
	ID               string
	Command          string
	Args             []string
	WorkingDirectory string
	Environment      map[string]string
	Priority         int
	Enabled          bool
	RestartPolicy    RestartPolicy
	Shutdown         GracefulShutdown
	Limits           ResourceLimits
	HealthCheck      *HealthCheckSpec
	FallbackCheck    *HealthCheckSpec

	// Runtime state
	Lifecycle           ServiceLifecycle
	PID                 int
	StartedAt           time.Time
	RestartAttempts     int
	TotalFailures       int
	NextRestartAt       time.Time
	LastError           string
	ConsecutiveFailures int
	LastMetrics         *ServiceMetrics
}

// HealthCheckKind is the tagged-union discriminant for a check spec.
type HealthCheckKind string

const (
	CheckHTTP    HealthCheckKind = "http"
	CheckTCP     HealthCheckKind = "tcp"
	CheckProcess HealthCheckKind = "process"
	CheckScript  HealthCheckKind = "script"
)

// HealthCheckSpec is a declarative health-check configuration, persisted
// as part of a ManagedService.
type HealthCheckSpec struct {
	Kind            HealthCheckKind
	URL             string
	Method          string
	ExpectedStatus  int
	ExpectedContent string
	Host            string
	Port            int
	PID             int
	Command         []string
	Interval        time.Duration
	Timeout         time.Duration
	Retries         int
}

// NodeRole is a cluster node's coordination role.
type NodeRole string

const (
	RolePrimary  NodeRole = "primary"
	RoleFailover NodeRole = "failover"
	RoleWorker   NodeRole = "worker"
)

// Node is a cluster member tracked by the Cluster Coordinator.
type Node struct {
	ID                 string
	Role               NodeRole
	Address            string
	LastHeartbeat      time.Time
	CPUPercent         float64
	MemoryPercent      float64
	DiskPercent        float64
	Reachable          bool
	Healthy            bool
	AdvertisedServices []string
}

// ResourceAllocation is a reservation of a named shared resource.
type ResourceAllocation struct {
	ID           string
	ResourceType string
	Requester    string
	NodeID       string
	Priority     int
	Shareable    bool
	AllocatedAt  time.Time
	ReleasedAt   time.Time
}

// Active reports whether the allocation has not been released.
func (a *ResourceAllocation) Active() bool {
	return a.ReleasedAt.IsZero()
}

// FailoverEntry is an append-only cluster failover-log row.
type FailoverEntry struct {
	ID        string
	FromNode  string
	ToNode    string
	Reason    string
	Timestamp time.Time
}

// SupervisorEvent is a persisted counterpart of a fire-and-forget
// notification, kept for `supervisor_status` operator visibility.
type SupervisorEvent struct {
	ID        int64
	Level     string
	ServiceID string
	Message   string
	CreatedAt time.Time
}
