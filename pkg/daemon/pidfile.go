package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cuemby/fleetctl/pkg/apierr"
)

// writePidFile claims path exclusively for this process. A pidfile
// whose recorded pid no longer exists is stale and is reclaimed.
func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Wrap(apierr.Config, "create pid directory", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		pid, readErr := readPidFile(path)
		if readErr == nil && pidAlive(pid) {
			return apierr.New(apierr.InvalidState, fmt.Sprintf("another instance is running (pid %d)", pid))
		}
		// Stale: the recorded process is gone. Reclaim.
		if err := os.Remove(path); err != nil {
			return apierr.Wrap(apierr.Transport, "reclaim stale pidfile", err)
		}
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return apierr.Wrap(apierr.Transport, "create pidfile", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return apierr.Wrap(apierr.Transport, "write pidfile", err)
	}
	return nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// pidAlive reports whether a process with the given pid exists, via
// the null signal.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func removePidFile(path string) {
	_ = os.Remove(path)
}
