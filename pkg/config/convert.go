package config

import (
	"fmt"
	"regexp"

	"github.com/cuemby/fleetctl/pkg/assigner"
	"github.com/cuemby/fleetctl/pkg/cluster"
	"github.com/cuemby/fleetctl/pkg/supervisor"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/cuemby/fleetctl/pkg/types"
)

// AssignerConfig converts the assigner section into the assigner
// package's runtime configuration. Regex markers were validated at
// Load time, so compilation here cannot fail.
func (c *Config) AssignerConfig() assigner.Config {
	excluded := make(map[string]bool, len(c.Assigner.ExcludedSessions))
	for _, name := range c.Assigner.ExcludedSessions {
		excluded[name] = true
	}

	markers := make(map[types.Provider]terminal.MarkerSet, len(c.Assigner.Providers))
	for provider, mc := range c.Assigner.Providers {
		markers[types.Provider(provider)] = toMarkerSet(mc)
	}

	return assigner.Config{
		TickInterval:         c.Assigner.TickInterval,
		CompletionInterval:   c.Assigner.CompletionInterval,
		MatchBatchSize:       c.Assigner.MatchBatchSize,
		ExcludedSessions:     excluded,
		DefaultMaxRetries:    c.Assigner.DefaultMaxRetries,
		DefaultPromptTimeout: c.Assigner.DefaultPromptTimeout,
		Markers:              markers,
	}
}

func toMarkerSet(mc MarkerConfig) terminal.MarkerSet {
	var set terminal.MarkerSet
	for _, s := range mc.Idle {
		set.Idle = append(set.Idle, terminal.Marker{Literal: s})
	}
	for _, s := range mc.Busy {
		set.Busy = append(set.Busy, terminal.Marker{Literal: s})
	}
	for _, expr := range mc.IdleRegex {
		set.Idle = append(set.Idle, terminal.Marker{Regexp: regexp.MustCompile(expr)})
	}
	for _, expr := range mc.BusyRegex {
		set.Busy = append(set.Busy, terminal.Marker{Regexp: regexp.MustCompile(expr)})
	}
	return set
}

// SupervisorConfig converts the global supervisor section.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		CheckInterval:   c.Supervisor.CheckInterval,
		MetricsInterval: c.Supervisor.MetricsInterval,
	}
}

// ClusterConfig converts the coordinator section.
func (c *Config) ClusterConfig() cluster.Config {
	shareable := make(map[string]bool, len(c.Coordinator.ShareableResources))
	for _, r := range c.Coordinator.ShareableResources {
		shareable[r] = true
	}
	return cluster.Config{
		NodeID:              c.Coordinator.NodeID,
		Role:                types.NodeRole(c.Coordinator.Role),
		Host:                c.Coordinator.Host,
		Port:                c.Coordinator.Port,
		PrimaryAddress:      c.Coordinator.PrimaryAddress,
		HeartbeatInterval:   c.Coordinator.HeartbeatInterval,
		HealthCheckInterval: c.Coordinator.HealthCheckInterval,
		FailoverThreshold:   c.Coordinator.FailoverThreshold,
		RecoveryThreshold:   c.Coordinator.RecoveryThreshold,
		MaxMissedHeartbeats: c.Coordinator.MaxMissedHeartbeats,
		ShareableResources:  shareable,
	}
}

// ClusterNodes converts the statically-declared node list.
func (c *Config) ClusterNodes() []*types.Node {
	out := make([]*types.Node, 0, len(c.Coordinator.Nodes))
	for _, nc := range c.Coordinator.Nodes {
		out = append(out, &types.Node{
			ID:                 nc.ID,
			Role:               types.NodeRole(nc.Role),
			Address:            nc.Address,
			AdvertisedServices: nc.Services,
		})
	}
	return out
}

// ManagedServices converts the service declarations into supervisor
// inputs, in file order.
func (c *Config) ManagedServices() []*types.ManagedService {
	out := make([]*types.ManagedService, 0, len(c.Services))
	for _, sc := range c.Services {
		svc := &types.ManagedService{
			ID:               sc.ID,
			Command:          sc.Command,
			Args:             sc.Args,
			WorkingDirectory: sc.WorkingDirectory,
			Environment:      sc.Environment,
			Priority:         sc.Priority,
			Enabled:          sc.Enabled,
			RestartPolicy: types.RestartPolicy{
				RestartOnExit:     sc.RestartOnExit,
				MaxRetries:        sc.RestartPolicy.MaxRetries,
				RetryDelay:        sc.RestartPolicy.RetryDelay,
				BackoffMultiplier: sc.RestartPolicy.BackoffMultiplier,
				MaxBackoff:        sc.RestartPolicy.MaxBackoff,
			},
			Shutdown: types.GracefulShutdown{
				Enabled: sc.GracefulShutdown.Enabled,
				Timeout: sc.GracefulShutdown.Timeout,
				Signal:  sc.GracefulShutdown.Signal,
			},
			Limits: types.ResourceLimits{
				MaxCPUPercent: sc.ResourceLimits.MaxCPUPercent,
				MaxMemoryMB:   sc.ResourceLimits.MaxMemoryMB,
			},
		}
		if sc.HealthCheck != nil {
			svc.HealthCheck = toCheckSpec(sc.HealthCheck)
		}
		if sc.FallbackCheck != nil {
			svc.FallbackCheck = toCheckSpec(sc.FallbackCheck)
		}
		out = append(out, svc)
	}
	return out
}

func toCheckSpec(hc *HealthCheckConfig) *types.HealthCheckSpec {
	return &types.HealthCheckSpec{
		Kind:            types.HealthCheckKind(hc.Kind),
		URL:             hc.URL,
		Method:          hc.Method,
		ExpectedStatus:  hc.ExpectedStatus,
		ExpectedContent: hc.ExpectedContent,
		Host:            hc.Host,
		Port:            hc.Port,
		Command:         hc.Command,
		Interval:        hc.Interval,
		Timeout:         hc.Timeout,
		Retries:         hc.Retries,
	}
}

// ListenAddr is the coordinator's wire-protocol bind address.
func (c *Config) ListenAddr() string {
	if c.Coordinator.Port == 0 {
		return c.API.Listen
	}
	return fmt.Sprintf("%s:%d", c.Coordinator.Host, c.Coordinator.Port)
}
