package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/stretchr/testify/require"
)

func TestWritePidFile_ClaimsAndRecordsOwnPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetctl.pid")

	require.NoError(t, writePidFile(path))
	defer removePidFile(path)

	pid, err := readPidFile(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestWritePidFile_RefusesLivePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetctl.pid")

	// Our own pid is certainly alive.
	require.NoError(t, writePidFile(path))
	defer removePidFile(path)

	err := writePidFile(path)
	require.Error(t, err)
	require.Equal(t, apierr.InvalidState, apierr.KindOf(err))
}

func TestWritePidFile_ReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetctl.pid")

	// A pid far above any plausible live process.
	require.NoError(t, os.WriteFile(path, []byte("4194304\n"), 0o644))

	require.NoError(t, writePidFile(path))
	defer removePidFile(path)

	pid, err := readPidFile(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}
