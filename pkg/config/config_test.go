package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
coordinator:
  node_id: node-1
  role: primary
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Supervisor.CheckInterval)
	require.Equal(t, 60*time.Second, cfg.Supervisor.MetricsInterval)
	require.Equal(t, 3*time.Second, cfg.Assigner.TickInterval)
	require.Equal(t, 5*time.Second, cfg.Assigner.CompletionInterval)
	require.Equal(t, 3, cfg.Assigner.DefaultMaxRetries)
	require.Equal(t, 30*time.Minute, cfg.Assigner.DefaultPromptTimeout)
	require.Equal(t, 10*time.Second, cfg.Coordinator.HeartbeatInterval)
	require.Equal(t, 30*time.Second, cfg.Coordinator.FailoverThreshold)
	require.Equal(t, 3, cfg.Coordinator.MaxMissedHeartbeats)
	require.Equal(t, "127.0.0.1:8700", cfg.API.Listen)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_RejectsBadRole(t *testing.T) {
	_, err := Load(writeConfig(t, `
coordinator:
  node_id: node-1
  role: overlord
`))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_RequiresPrimaryAddressForWorkers(t *testing.T) {
	_, err := Load(writeConfig(t, `
coordinator:
  node_id: node-2
  role: worker
`))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_RejectsServiceWithoutCommand(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
services:
  - id: dashboard
`))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_RejectsDuplicateServiceIDs(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
services:
  - id: dashboard
    command: /usr/bin/dashboard
  - id: dashboard
    command: /usr/bin/dashboard
`))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_RejectsBadMarkerRegex(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
assigner:
  providers:
    claude:
      idle_regex: ["[unclosed"]
`))
	require.Error(t, err)
	require.Equal(t, apierr.Config, apierr.KindOf(err))
}

func TestLoad_ServiceDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
services:
  - id: dashboard
    command: /usr/bin/dashboard
    enabled: true
    restart_on_exit: true
`))
	require.NoError(t, err)

	svcs := cfg.ManagedServices()
	require.Len(t, svcs, 1)
	svc := svcs[0]
	require.Equal(t, 5, svc.RestartPolicy.MaxRetries)
	require.Equal(t, time.Second, svc.RestartPolicy.RetryDelay)
	require.Equal(t, 2.0, svc.RestartPolicy.BackoffMultiplier)
	require.Equal(t, 60*time.Second, svc.RestartPolicy.MaxBackoff)
	require.Equal(t, "SIGTERM", svc.Shutdown.Signal)
	require.True(t, svc.RestartPolicy.RestartOnExit)
}

func TestAssignerConfig_MarkersAndExclusions(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
assigner:
  excluded_sessions: [architect, arch_dev]
  providers:
    claude:
      idle: ["❯"]
      busy: ["esc to interrupt"]
      busy_regex: ['\(\d+s\)']
`))
	require.NoError(t, err)

	ac := cfg.AssignerConfig()
	require.True(t, ac.ExcludedSessions["architect"])
	require.True(t, ac.ExcludedSessions["arch_dev"])

	set, ok := ac.Markers[types.ProviderClaude]
	require.True(t, ok)
	require.Len(t, set.Idle, 1)
	require.Len(t, set.Busy, 2)
	require.True(t, set.Busy[1].Regexp.MatchString("thinking (12s)"))
}

func TestClusterNodes(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
coordinator:
  node_id: node-1
  role: primary
  nodes:
    - id: node-1
      role: primary
      address: 10.0.0.1:8700
      services: [gpu, browser]
    - id: node-2
      role: worker
      address: 10.0.0.2:8700
`))
	require.NoError(t, err)

	nodes := cfg.ClusterNodes()
	require.Len(t, nodes, 2)
	require.Equal(t, types.RolePrimary, nodes[0].Role)
	require.Equal(t, []string{"gpu", "browser"}, nodes[0].AdvertisedServices)
}
