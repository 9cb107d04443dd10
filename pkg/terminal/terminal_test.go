package terminal

import (
	"context"
	"regexp"
	"testing"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMuxer struct {
	panes    map[string]string
	sendErr  error
	captures map[string][]byte
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{panes: map[string]string{}, captures: map[string][]byte{}}
}

func (f *fakeMuxer) SendKeys(ctx context.Context, pane string, keys ...string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if _, ok := f.panes[pane]; !ok {
		return ErrPaneNotFound
	}
	return nil
}

func (f *fakeMuxer) CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error) {
	if _, ok := f.panes[pane]; !ok {
		return nil, ErrPaneNotFound
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

func TestAdapter_SendText_SessionUnknown(t *testing.T) {
	mux := newFakeMuxer()
	adapter := New(mux)

	err := adapter.SendText(context.Background(), "ghost", "hello")
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestAdapter_Classify(t *testing.T) {
	mux := newFakeMuxer()
	mux.panes["dev"] = ""
	adapter := New(mux)
	adapter.RegisterMarkers("dev", MarkerSet{
		Idle: []Marker{{Literal: "❯ "}},
		Busy: []Marker{{Regexp: regexp.MustCompile(`esc to interrupt`)}},
	})

	assert.Equal(t, types.SessionBusy, adapter.Classify("dev", "working... (esc to interrupt)"))
	assert.Equal(t, types.SessionIdle, adapter.Classify("dev", "❯ "))
	assert.Equal(t, types.SessionUnknown, adapter.Classify("dev", "???"))
}

func TestAdapter_SerializesPerPane(t *testing.T) {
	mux := newFakeMuxer()
	mux.panes["dev"] = ""
	adapter := New(mux)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- adapter.SendText(context.Background(), "dev", "x")
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}
