package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/terminal"
)

// TmuxMuxer drives a tmux server on another host through an Executor,
// satisfying the terminal adapter's Muxer capability so that sessions
// living on remote nodes receive injections the same way local ones
// do. Method signatures mirror the local tmux muxer exactly.
type TmuxMuxer struct {
	Exec    *Executor
	Target  Target
	Timeout time.Duration
}

func (t *TmuxMuxer) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 10 * time.Second
}

// quote wraps s in single quotes for the remote shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (t *TmuxMuxer) run(ctx context.Context, args ...string) (string, error) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, "tmux")
	for _, a := range args {
		quoted = append(quoted, quote(a))
	}
	res, err := t.Exec.Exec(ctx, t.Target, strings.Join(quoted, " "), t.timeout(), nil)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "can't find") || strings.Contains(res.Stderr, "session not found") {
			return "", terminal.ErrPaneNotFound
		}
		return "", fmt.Errorf("remote tmux exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// SendKeys injects literal text, translating named keys to tmux key
// names and bare digits to key taps.
func (t *TmuxMuxer) SendKeys(ctx context.Context, pane string, keys ...string) error {
	for _, k := range keys {
		args := []string{"send-keys", "-t", pane}
		switch k {
		case string(terminal.KeyEnter):
			args = append(args, "Enter")
		case string(terminal.KeyEscape):
			args = append(args, "Escape")
		default:
			if _, err := strconv.Atoi(k); err == nil {
				args = append(args, k)
			} else {
				args = append(args, "-l", k)
			}
		}
		if _, err := t.run(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// CapturePane returns the remote pane's scrollback plus live screen,
// trimmed to approximately maxBytes from the tail.
func (t *TmuxMuxer) CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error) {
	out, err := t.run(ctx, "capture-pane", "-t", pane, "-p", "-e", "-S", "-200")
	if err != nil {
		return nil, err
	}
	b := []byte(out)
	if maxBytes > 0 && len(b) > maxBytes {
		b = b[len(b)-maxBytes:]
	}
	return b, nil
}

// ListPanes lists every tmux session name known to the remote server.
func (t *TmuxMuxer) ListPanes(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if err == terminal.ErrPaneNotFound {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}
