/*
Package remote implements the remote executor: running a command
or transferring a file on another host over SSH, with at most one
connection per (host, user, port, key) quadruple kept open in a pool.

	TmuxMuxer (terminal) ──Exec/Put/Get/Probe──▶ Executor
	                                               │ pool keyed by Target
	                                               ▼
	                                          ssh.Client (golang.org/x/crypto/ssh)

Authentication happens once at channel open; subsequent calls on a
pooled channel assume success. Probe runs a single `uname -s`
to select Linux- or macOS-specific fact-gathering commands. Idle
channels are closed by a background reaper once unused past the
configured idle timeout.
*/
package remote
