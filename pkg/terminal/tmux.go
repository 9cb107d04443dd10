package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// TmuxMuxer implements Muxer against a local tmux server by shelling
// out to the tmux binary (`tmux send-keys` / `tmux capture-pane`).
type TmuxMuxer struct {
	// BinPath is the tmux executable; defaults to "tmux" on PATH.
	BinPath string
}

func (t *TmuxMuxer) bin() string {
	if t.BinPath != "" {
		return t.BinPath
	}
	return "tmux"
}

func (t *TmuxMuxer) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "can't find") || strings.Contains(stderr.String(), "session not found") {
			return nil, ErrPaneNotFound
		}
		return nil, fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// SendKeys injects literal text followed by, for named keys, the tmux
// key-name form (e.g. "Enter", "Escape") instead of -l literal mode.
func (t *TmuxMuxer) SendKeys(ctx context.Context, pane string, keys ...string) error {
	for _, k := range keys {
		args := []string{"send-keys", "-t", pane}
		switch k {
		case string(KeyEnter):
			args = append(args, "Enter")
		case string(KeyEscape):
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

// CapturePane returns the pane's scrollback plus live screen, trimmed
// to approximately maxBytes from the tail.
func (t *TmuxMuxer) CapturePane(ctx context.Context, pane string, maxBytes int) ([]byte, error) {
	out, err := t.run(ctx, "capture-pane", "-t", pane, "-p", "-e", "-S", "-200")
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out, nil
}

// ListPanes lists every tmux session name known to the server.
func (t *TmuxMuxer) ListPanes(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if err == ErrPaneNotFound {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}
