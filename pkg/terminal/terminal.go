// Package terminal implements the terminal adapter: a thin
// capability over a named-pane multiplexer (tmux-shaped) that lets the
// Assigner inject keystrokes into, and scrape output from, an attached
// worker session, plus a small pattern engine that classifies a
// session's capture as idle/busy/waiting_input/unknown.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/types"
)

// ErrPaneNotFound is returned by a Muxer implementation when the named
// pane does not exist; Adapter translates it to apierr.NotFound.
var ErrPaneNotFound = errors.New("terminal: pane not found")

// Key is a named non-character keystroke.
type Key string

const (
	KeyEnter  Key = "enter"
	KeyEscape Key = "escape"
)

// Muxer is the external collaborator that actually owns panes (tmux or
// an equivalent multiplexer). Adapter depends only on this narrow
// capability, never on the multiplexer's full CLI surface.
type Muxer interface {
	// SendKeys injects literal keystrokes into the named pane.
	SendKeys(ctx context.Context, pane string, keys ...string) error
	// CapturePane returns the pane's scrollback and live screen as raw bytes.
	CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error)
	// ListPanes returns the names of every pane currently known to the multiplexer.
	ListPanes(ctx context.Context) ([]string, error)
}

// Marker matches against the tail of a capture; it is either a plain
// substring or a compiled regular expression.
type Marker struct {
	Literal string
	Regexp  *regexp.Regexp
}

func (m Marker) match(tail string) bool {
	if m.Regexp != nil {
		return m.Regexp.MatchString(tail)
	}
	return strings.Contains(tail, m.Literal)
}

// MarkerSet is the (idle, busy) marker pair registered per session,
// typically supplied once per provider from configuration.
type MarkerSet struct {
	Idle []Marker
	Busy []Marker
}

// controlSeq strips ANSI/terminal control sequences from a capture so
// that marker matching operates on plain text.
var controlSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\r`)

func strip(b []byte) string {
	return controlSeq.ReplaceAllString(string(b), "")
}

// Adapter fronts a Muxer and serializes multiplexer calls per pane
// name, so a single session never observes two concurrent injections.
type Adapter struct {
	mux Muxer

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	markers map[string]MarkerSet
}

// New builds an Adapter fronting the given Muxer.
func New(mux Muxer) *Adapter {
	return &Adapter{
		mux:     mux,
		locks:   make(map[string]*sync.Mutex),
		markers: make(map[string]MarkerSet),
	}
}

// RegisterMarkers associates an idle/busy marker pair with a session
// name, typically sourced from the per-provider configuration.
func (a *Adapter) RegisterMarkers(session string, set MarkerSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markers[session] = set
}

func (a *Adapter) paneLock(session string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[session]
	if !ok {
		l = &sync.Mutex{}
		a.locks[session] = l
	}
	return l
}

// SendText appends text to the pane's standard input.
func (a *Adapter) SendText(ctx context.Context, session, text string) error {
	lock := a.paneLock(session)
	lock.Lock()
	defer lock.Unlock()

	if err := a.mux.SendKeys(ctx, session, text); err != nil {
		return translateErr(session, err)
	}
	return nil
}

// SendKey sends a single named key to the pane.
func (a *Adapter) SendKey(ctx context.Context, session string, key Key) error {
	lock := a.paneLock(session)
	lock.Lock()
	defer lock.Unlock()

	if err := a.mux.SendKeys(ctx, session, string(key)); err != nil {
		return translateErr(session, err)
	}
	return nil
}

// Capture returns up to maxBytes of the pane's recent scrollback and
// live screen, with terminal control sequences stripped.
func (a *Adapter) Capture(ctx context.Context, session string, maxBytes int) (string, error) {
	lock := a.paneLock(session)
	lock.Lock()
	defer lock.Unlock()

	raw, err := a.mux.CapturePane(ctx, session, maxBytes)
	if err != nil {
		return "", translateErr(session, err)
	}
	return strip(raw), nil
}

// PaneInfo is one entry of List's result.
type PaneInfo struct {
	Name string
}

// List returns all known pane names.
func (a *Adapter) List(ctx context.Context) ([]PaneInfo, error) {
	names, err := a.mux.ListPanes(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "list panes", err)
	}
	out := make([]PaneInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PaneInfo{Name: n})
	}
	return out, nil
}

// Classify derives idle/busy/waiting_input/unknown from a capture
// using the session's registered MarkerSet: a busy marker on the tail
// wins, then an idle marker, else unknown. Classify never returns
// waiting_input; a session without registered markers is unknown.
func (a *Adapter) Classify(session, capture string) types.SessionStatus {
	a.mu.Lock()
	set, ok := a.markers[session]
	a.mu.Unlock()
	if !ok {
		return types.SessionUnknown
	}

	for _, m := range set.Busy {
		if m.match(capture) {
			return types.SessionBusy
		}
	}
	for _, m := range set.Idle {
		if m.match(capture) {
			return types.SessionIdle
		}
	}
	return types.SessionUnknown
}

func translateErr(session string, err error) error {
	if errors.Is(err, ErrPaneNotFound) {
		return apierr.New(apierr.NotFound, fmt.Sprintf("pane %q not found", session))
	}
	return apierr.Wrap(apierr.Transport, fmt.Sprintf("injection into pane %q failed", session), err)
}
