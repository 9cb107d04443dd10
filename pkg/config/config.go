// Package config loads and validates fleetctl's declarative YAML
// configuration: global daemon options, supervised service
// declarations, coordinator settings, and assigner tunables including
// per-provider idle/busy markers. The file is re-read on the
// reload_config control operation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	DataDir string    `yaml:"data_dir"`
	Log     LogConfig `yaml:"log"`
	API     APIConfig `yaml:"api"`

	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Services    []ServiceConfig   `yaml:"services"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Assigner    AssignerConfig    `yaml:"assigner"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// APIConfig configures the embedded control-surface HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// SupervisorConfig holds the global supervisor options.
type SupervisorConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	LogDirectory    string        `yaml:"log_directory"`
	PidDirectory    string        `yaml:"pid_directory"`
}

// RestartPolicyConfig mirrors types.RestartPolicy in YAML form.
type RestartPolicyConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// GracefulShutdownConfig mirrors types.GracefulShutdown in YAML form.
type GracefulShutdownConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Signal  string        `yaml:"signal"`
}

// ResourceLimitsConfig mirrors types.ResourceLimits in YAML form.
type ResourceLimitsConfig struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxMemoryMB   int64   `yaml:"max_memory_mb"`
}

// HealthCheckConfig is the YAML form of a declarative check spec.
type HealthCheckConfig struct {
	Kind            string        `yaml:"kind"`
	URL             string        `yaml:"url"`
	Method          string        `yaml:"method"`
	ExpectedStatus  int           `yaml:"expected_status"`
	ExpectedContent string        `yaml:"expected_content"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Command         []string      `yaml:"command"`
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
}

// ServiceConfig declares one supervised service.
type ServiceConfig struct {
	ID               string                 `yaml:"id"`
	Command          string                 `yaml:"command"`
	Args             []string               `yaml:"args"`
	WorkingDirectory string                 `yaml:"working_directory"`
	Environment      map[string]string      `yaml:"environment"`
	Priority         int                    `yaml:"priority"`
	Enabled          bool                   `yaml:"enabled"`
	RestartOnExit    bool                   `yaml:"restart_on_exit"`
	RestartPolicy    RestartPolicyConfig    `yaml:"restart_policy"`
	GracefulShutdown GracefulShutdownConfig `yaml:"graceful_shutdown"`
	ResourceLimits   ResourceLimitsConfig   `yaml:"resource_limits"`
	HealthCheck      *HealthCheckConfig     `yaml:"health_check"`
	FallbackCheck    *HealthCheckConfig     `yaml:"fallback_check"`
}

// NodeConfig statically declares a known cluster member.
type NodeConfig struct {
	ID       string   `yaml:"id"`
	Role     string   `yaml:"role"`
	Address  string   `yaml:"address"`
	Services []string `yaml:"services"`
}

// CoordinatorConfig holds this node's cluster settings.
type CoordinatorConfig struct {
	NodeID              string        `yaml:"node_id"`
	Role                string        `yaml:"role"`
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	PrimaryAddress      string        `yaml:"primary_address"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	FailoverThreshold   time.Duration `yaml:"failover_threshold"`
	RecoveryThreshold   time.Duration `yaml:"recovery_threshold"`
	MaxMissedHeartbeats int           `yaml:"max_missed_heartbeats"`
	ShareableResources  []string      `yaml:"shareable_resources"`
	Nodes               []NodeConfig  `yaml:"nodes"`
}

// MarkerConfig lists a provider's idle/busy markers: plain substrings
// plus optional regular expressions.
type MarkerConfig struct {
	Idle      []string `yaml:"idle"`
	Busy      []string `yaml:"busy"`
	IdleRegex []string `yaml:"idle_regex"`
	BusyRegex []string `yaml:"busy_regex"`
}

// RemoteMuxConfig points the terminal adapter at a tmux server on
// another host, reached over SSH, instead of the local one.
type RemoteMuxConfig struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	Port    int    `yaml:"port"`
	KeyPath string `yaml:"key_path"`
}

// AssignerConfig holds the assigner tunables.
type AssignerConfig struct {
	TickInterval         time.Duration           `yaml:"tick_interval"`
	CompletionInterval   time.Duration           `yaml:"completion_interval"`
	MatchBatchSize       int                     `yaml:"match_batch_size"`
	ExcludedSessions     []string                `yaml:"excluded_sessions"`
	DefaultMaxRetries    int                     `yaml:"default_max_retries"`
	DefaultPromptTimeout time.Duration           `yaml:"default_prompt_timeout"`
	Providers            map[string]MarkerConfig `yaml:"providers"`
	RemoteMux            *RemoteMuxConfig        `yaml:"remote_mux"`
}

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Wrap(apierr.Config, "read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apierr.Wrap(apierr.Config, "parse config file", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/fleetctl"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8700"
	}

	if c.Supervisor.CheckInterval <= 0 {
		c.Supervisor.CheckInterval = 30 * time.Second
	}
	if c.Supervisor.MetricsInterval <= 0 {
		c.Supervisor.MetricsInterval = 60 * time.Second
	}
	if c.Supervisor.RestartDelay <= 0 {
		c.Supervisor.RestartDelay = time.Second
	}
	if c.Supervisor.PidDirectory == "" {
		c.Supervisor.PidDirectory = c.DataDir
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.RestartPolicy.MaxRetries == 0 {
			svc.RestartPolicy.MaxRetries = 5
		}
		if svc.RestartPolicy.RetryDelay <= 0 {
			svc.RestartPolicy.RetryDelay = c.Supervisor.RestartDelay
		}
		if svc.RestartPolicy.BackoffMultiplier <= 0 {
			svc.RestartPolicy.BackoffMultiplier = 2
		}
		if svc.RestartPolicy.MaxBackoff <= 0 {
			svc.RestartPolicy.MaxBackoff = 60 * time.Second
		}
		if svc.GracefulShutdown.Timeout <= 0 {
			svc.GracefulShutdown.Timeout = 10 * time.Second
		}
		if svc.GracefulShutdown.Signal == "" {
			svc.GracefulShutdown.Signal = "SIGTERM"
		}
	}

	if c.Coordinator.HeartbeatInterval <= 0 {
		c.Coordinator.HeartbeatInterval = 10 * time.Second
	}
	if c.Coordinator.HealthCheckInterval <= 0 {
		c.Coordinator.HealthCheckInterval = 15 * time.Second
	}
	if c.Coordinator.FailoverThreshold <= 0 {
		c.Coordinator.FailoverThreshold = 30 * time.Second
	}
	if c.Coordinator.RecoveryThreshold <= 0 {
		c.Coordinator.RecoveryThreshold = 30 * time.Second
	}
	if c.Coordinator.MaxMissedHeartbeats <= 0 {
		c.Coordinator.MaxMissedHeartbeats = 3
	}
	if c.Coordinator.Role == "" {
		c.Coordinator.Role = string(types.RoleWorker)
	}
	if c.Coordinator.Host == "" {
		c.Coordinator.Host = "0.0.0.0"
	}

	if c.Assigner.TickInterval <= 0 {
		c.Assigner.TickInterval = 3 * time.Second
	}
	if c.Assigner.CompletionInterval <= 0 {
		c.Assigner.CompletionInterval = 5 * time.Second
	}
	if c.Assigner.MatchBatchSize <= 0 {
		c.Assigner.MatchBatchSize = 50
	}
	if c.Assigner.DefaultMaxRetries <= 0 {
		c.Assigner.DefaultMaxRetries = 3
	}
	if c.Assigner.DefaultPromptTimeout <= 0 {
		c.Assigner.DefaultPromptTimeout = 30 * time.Minute
	}
}

func (c *Config) validate() error {
	switch types.NodeRole(c.Coordinator.Role) {
	case types.RolePrimary, types.RoleFailover, types.RoleWorker:
	default:
		return apierr.New(apierr.Config, fmt.Sprintf("coordinator role %q is not one of primary/failover/worker", c.Coordinator.Role))
	}
	if c.Coordinator.NodeID == "" {
		return apierr.New(apierr.Config, "coordinator node_id is required")
	}
	if c.Coordinator.Role != string(types.RolePrimary) && c.Coordinator.PrimaryAddress == "" {
		return apierr.New(apierr.Config, "coordinator primary_address is required for worker and failover roles")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.ID == "" {
			return apierr.New(apierr.Config, "every service needs an id")
		}
		if seen[svc.ID] {
			return apierr.New(apierr.Config, fmt.Sprintf("duplicate service id %q", svc.ID))
		}
		seen[svc.ID] = true
		if svc.Command == "" {
			return apierr.New(apierr.Config, fmt.Sprintf("service %q has no command", svc.ID))
		}
		if svc.HealthCheck != nil {
			if err := validateCheck(svc.ID, svc.HealthCheck); err != nil {
				return err
			}
		}
		if svc.FallbackCheck != nil {
			if err := validateCheck(svc.ID, svc.FallbackCheck); err != nil {
				return err
			}
		}
	}

	if rm := c.Assigner.RemoteMux; rm != nil {
		if rm.Host == "" || rm.User == "" || rm.KeyPath == "" {
			return apierr.New(apierr.Config, "assigner remote_mux needs host, user, and key_path")
		}
	}

	for provider, mc := range c.Assigner.Providers {
		switch types.Provider(provider) {
		case types.ProviderClaude, types.ProviderCodex, types.ProviderOllama, types.ProviderComet:
		default:
			return apierr.New(apierr.Config, fmt.Sprintf("unknown provider %q in assigner markers", provider))
		}
		for _, expr := range append(append([]string{}, mc.IdleRegex...), mc.BusyRegex...) {
			if _, err := regexp.Compile(expr); err != nil {
				return apierr.Wrap(apierr.Config, fmt.Sprintf("provider %q marker regex %q", provider, expr), err)
			}
		}
	}
	return nil
}

func validateCheck(serviceID string, hc *HealthCheckConfig) error {
	switch types.HealthCheckKind(hc.Kind) {
	case types.CheckHTTP:
		if hc.URL == "" {
			return apierr.New(apierr.Config, fmt.Sprintf("service %q http check has no url", serviceID))
		}
	case types.CheckTCP:
		if hc.Host == "" || hc.Port == 0 {
			return apierr.New(apierr.Config, fmt.Sprintf("service %q tcp check needs host and port", serviceID))
		}
	case types.CheckProcess:
	case types.CheckScript:
		if len(hc.Command) == 0 {
			return apierr.New(apierr.Config, fmt.Sprintf("service %q script check has no command", serviceID))
		}
	default:
		return apierr.New(apierr.Config, fmt.Sprintf("service %q check kind %q is not one of http/tcp/process/script", serviceID, hc.Kind))
	}
	return nil
}
