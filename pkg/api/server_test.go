package api_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/api"
	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/assigner"
	"github.com/cuemby/fleetctl/pkg/client"
	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/cluster"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/supervisor"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

type nopMuxer struct{}

func (nopMuxer) SendKeys(ctx context.Context, pane string, keys ...string) error { return nil }
func (nopMuxer) CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error) {
	return nil, nil
}
func (nopMuxer) ListPanes(ctx context.Context) ([]string, error) { return nil, nil }

func newTestClient(t *testing.T) (*client.Client, *assigner.Assigner, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	prober := health.NewProber(0)
	asg := assigner.New(store, terminal.New(nopMuxer{}), fc, broker, assigner.DefaultConfig())
	sup := supervisor.New(store, prober, fc, broker, supervisor.DefaultConfig())

	clusterCfg := cluster.DefaultConfig()
	clusterCfg.NodeID = "node-1"
	clusterCfg.Role = types.RolePrimary
	coord := cluster.New(store, prober, fc, broker, clusterCfg)

	srv := api.NewServer(store, asg, sup, coord, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return client.New(strings.TrimPrefix(ts.URL, "http://")), asg, store
}

func TestSubmitAndGetPrompt_RoundTrip(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.SubmitPrompt(ctx, api.SubmitPromptRequest{
		Content:  "summarize the build failure",
		Source:   "cli",
		Priority: 7,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := c.GetPrompt(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "summarize the build failure", got.Content)
	require.Equal(t, 7, got.Priority)
	require.Equal(t, types.PromptPending, got.Status)
}

func TestGetPrompt_NotFound(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, err := c.GetPrompt(context.Background(), 404)
	require.Error(t, err)
	require.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestRetryPrompt_NotEligible(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.SubmitPrompt(ctx, api.SubmitPromptRequest{Content: "x", Priority: 1})
	require.NoError(t, err)

	retried, err := c.RetryPrompt(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, retried)
}

func TestReassignPrompt_SetsTarget(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.SubmitPrompt(ctx, api.SubmitPromptRequest{Content: "x", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, c.ReassignPrompt(ctx, created.ID, "dev"))
	got, err := c.GetPrompt(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "dev", got.TargetSession)
	require.Equal(t, types.PromptPending, got.Status)
}

func TestListSessions(t *testing.T) {
	c, asg, _ := newTestClient(t)

	require.NoError(t, asg.RegisterSession(&types.Session{
		Name:     "dev1",
		Status:   types.SessionIdle,
		Provider: types.ProviderClaude,
	}))

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "dev1", sessions[0].Name)
}

func TestServiceStart_UnknownService(t *testing.T) {
	c, _, _ := newTestClient(t)

	err := c.StartService(context.Background(), "ghost")
	require.Error(t, err)
	require.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestClusterStatus(t *testing.T) {
	c, _, _ := newTestClient(t)

	status, err := c.ClusterStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "node-1", status.NodeID)
	require.Equal(t, types.RolePrimary, status.Role)
}

func TestReloadConfig_Unavailable(t *testing.T) {
	c, _, _ := newTestClient(t)

	err := c.ReloadConfig(context.Background())
	require.Error(t, err)
	require.Equal(t, apierr.InvalidState, apierr.KindOf(err))
}
