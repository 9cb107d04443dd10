package assigner

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeMuxer struct {
	panes    map[string]string
	captures map[string][]byte
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{panes: map[string]string{}, captures: map[string][]byte{}}
}

func (f *fakeMuxer) SendKeys(ctx context.Context, pane string, keys ...string) error {
	if _, ok := f.panes[pane]; !ok {
		return terminal.ErrPaneNotFound
	}
	return nil
}

func (f *fakeMuxer) CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error) {
	if _, ok := f.panes[pane]; !ok {
		return nil, terminal.ErrPaneNotFound
	}
	return f.captures[pane], nil
}

func (f *fakeMuxer) ListPanes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.panes))
	for n := range f.panes {
		names = append(names, n)
	}
	return names, nil
}

func newTestAssigner(t *testing.T) (*Assigner, *memStore, *fakeMuxer, *clock.Fake) {
	t.Helper()
	store := newMemStore()
	mux := newFakeMuxer()
	term := terminal.New(mux)
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cfg := DefaultConfig()
	a := New(store, term, fc, broker, cfg)
	return a, store, mux, fc
}

func registerIdle(t *testing.T, a *Assigner, mux *fakeMuxer, name string, provider types.Provider, lastActivity time.Time) {
	t.Helper()
	mux.panes[name] = ""
	require.NoError(t, a.RegisterSession(&types.Session{
		Name:         name,
		Status:       types.SessionIdle,
		Provider:     provider,
		LastActivity: lastActivity,
	}))
}

func TestMatchTick_PriorityOrderingBeforeAge(t *testing.T) {
	a, store, mux, fc := newTestAssigner(t)
	registerIdle(t, a, mux, "dev1", types.ProviderClaude, fc.Now())

	low, err := a.SubmitPrompt("low", "test", 1, SubmitOptions{})
	require.NoError(t, err)
	high, err := a.SubmitPrompt("high", "test", 10, SubmitOptions{})
	require.NoError(t, err)

	a.matchTick(context.Background())

	gotHigh, err := store.GetPrompt(high.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptAssigned, gotHigh.Status)

	gotLow, err := store.GetPrompt(low.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptPending, gotLow.Status)
}

func TestMatchTick_HardTargetDoesNotRelax(t *testing.T) {
	a, store, mux, _ := newTestAssigner(t)
	registerIdle(t, a, mux, "other", types.ProviderClaude, time.Now())

	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{TargetSession: "dev-missing"})
	require.NoError(t, err)

	a.matchTick(context.Background())

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptPending, got.Status, "must wait rather than relax onto a different session")
}

func TestMatchTick_ProviderFallbackWalk(t *testing.T) {
	a, store, mux, _ := newTestAssigner(t)
	registerIdle(t, a, mux, "ollama1", types.ProviderOllama, time.Now())

	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{
		TargetProvider:    types.ProviderClaude,
		FallbackProviders: []types.Provider{types.ProviderCodex, types.ProviderOllama},
	})
	require.NoError(t, err)

	a.matchTick(context.Background())

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptAssigned, got.Status)
	require.Equal(t, "ollama1", got.AssignedSession)
}

func TestMatchTick_LoadTieBreakPrefersOldestActivity(t *testing.T) {
	a, store, mux, fc := newTestAssigner(t)
	registerIdle(t, a, mux, "busy-recent", types.ProviderClaude, fc.Now())
	registerIdle(t, a, mux, "idle-longest", types.ProviderClaude, fc.Now().Add(-time.Hour))

	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{})
	require.NoError(t, err)

	a.matchTick(context.Background())

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, "idle-longest", got.AssignedSession)
}

func TestCompletionTick_IdleMarkerCompletesPrompt(t *testing.T) {
	a, store, mux, _ := newTestAssigner(t)
	registerIdle(t, a, mux, "dev1", types.ProviderClaude, time.Now())
	mux.captures["dev1"] = []byte("")

	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{TargetSession: "dev1"})
	require.NoError(t, err)
	a.matchTick(context.Background())

	mux.captures["dev1"] = []byte("some output\n❯ ")
	a.term.RegisterMarkers("dev1", terminal.MarkerSet{Idle: []terminal.Marker{{Literal: "❯"}}})

	a.completionTick(context.Background())

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptCompleted, got.Status)
	require.Equal(t, "some output\n❯", got.Response)

	sess, err := store.GetSession("dev1")
	require.NoError(t, err)
	require.Equal(t, types.SessionIdle, sess.Status)
	require.Zero(t, sess.CurrentTaskID)
}

func TestCompletionTick_TimeoutFailsPromptAndFreesSession(t *testing.T) {
	a, store, mux, fc := newTestAssigner(t)
	registerIdle(t, a, mux, "dev1", types.ProviderClaude, fc.Now())

	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{
		TargetSession: "dev1",
		Timeout:       time.Minute,
	})
	require.NoError(t, err)
	a.matchTick(context.Background())
	a.term.RegisterMarkers("dev1", terminal.MarkerSet{Busy: []terminal.Marker{{Literal: "working"}}})
	mux.captures["dev1"] = []byte("working...")

	fc.Advance(2 * time.Minute)
	a.completionTick(context.Background())

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptFailed, got.Status)

	sess, err := store.GetSession("dev1")
	require.NoError(t, err)
	require.Equal(t, types.SessionIdle, sess.Status)
}

func TestRetryPrompt_BoundedByMaxRetries(t *testing.T) {
	a, store, _, _ := newTestAssigner(t)
	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{MaxRetries: 1})
	require.NoError(t, err)
	p.Status = types.PromptFailed
	p.RetryCount = 1
	require.NoError(t, store.UpdatePrompt(p))

	ok, err := a.RetryPrompt(p.ID)
	require.NoError(t, err)
	require.False(t, ok, "retry_count already at max_retries must not retry again")
}

func TestRetryPrompt_DoesNotClearTargetSession(t *testing.T) {
	a, store, _, _ := newTestAssigner(t)
	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{TargetSession: "dev1"})
	require.NoError(t, err)
	p.Status = types.PromptFailed
	require.NoError(t, store.UpdatePrompt(p))

	ok, err := a.RetryPrompt(p.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, "dev1", got.TargetSession)
	require.Equal(t, types.PromptPending, got.Status)
}

func TestReassignPrompt_ClearsAssignedAndFreesSession(t *testing.T) {
	a, store, mux, _ := newTestAssigner(t)
	registerIdle(t, a, mux, "dev1", types.ProviderClaude, time.Now())
	p, err := a.SubmitPrompt("hello", "test", 0, SubmitOptions{TargetSession: "dev1"})
	require.NoError(t, err)
	a.matchTick(context.Background())

	require.NoError(t, a.ReassignPrompt(p.ID, "dev2"))

	got, err := store.GetPrompt(p.ID)
	require.NoError(t, err)
	require.Equal(t, types.PromptPending, got.Status)
	require.Equal(t, "", got.AssignedSession)
	require.Equal(t, "dev2", got.TargetSession)

	sess, err := store.GetSession("dev1")
	require.NoError(t, err)
	require.Equal(t, types.SessionIdle, sess.Status)
}
