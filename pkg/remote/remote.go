// Package remote implements the remote executor: running shell
// commands and transferring files on another host over an SSH channel,
// keeping at most one channel per (host, user, port, key) quadruple
// open in a pool, and a cheap liveness Probe that tolerates both Linux
// and macOS remotes.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"golang.org/x/crypto/ssh"
)

// Target identifies a remote host and the credentials used to reach it.
// The (Host, User, Port, KeyPath) quadruple is the pool's sharing key.
type Target struct {
	Host    string
	User    string
	Port    int
	KeyPath string
}

func (t Target) key() string {
	return fmt.Sprintf("%s@%s:%d#%s", t.User, t.Host, t.Port, t.KeyPath)
}

func (t Target) addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// ExecResult is the outcome of Exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// pooledChannel is one open SSH connection plus its last-used stamp,
// used to expire idle channels.
type pooledChannel struct {
	client   *ssh.Client
	lastUsed time.Time
}

// Executor runs commands and transfers files against remote Targets,
// reusing one SSH connection per Target quadruple.
type Executor struct {
	mu          sync.Mutex
	pool        map[string]*pooledChannel
	idleTimeout time.Duration
	dialer      func(ctx context.Context, t Target) (*ssh.Client, error)

	closeCh chan struct{}
	closeWg sync.WaitGroup
}

// New builds an Executor. idleTimeout bounds how long an unused pooled
// channel is kept open before it is closed; zero selects 5 minutes.
func New(idleTimeout time.Duration) *Executor {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	e := &Executor{
		pool:        make(map[string]*pooledChannel),
		idleTimeout: idleTimeout,
		closeCh:     make(chan struct{}),
	}
	e.dialer = e.dial
	e.closeWg.Add(1)
	go e.reapLoop()
	return e
}

// Close stops the idle-channel reaper and closes every pooled connection.
func (e *Executor) Close() error {
	close(e.closeCh)
	e.closeWg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, pc := range e.pool {
		if pc.client != nil {
			pc.client.Close()
		}
		delete(e.pool, k)
	}
	return nil
}

func (e *Executor) reapLoop() {
	defer e.closeWg.Done()
	ticker := time.NewTicker(e.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.reapIdle()
		case <-e.closeCh:
			return
		}
	}
}

func (e *Executor) reapIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for k, pc := range e.pool {
		if now.Sub(pc.lastUsed) > e.idleTimeout {
			pc.client.Close()
			delete(e.pool, k)
		}
	}
}

func (e *Executor) channel(ctx context.Context, t Target) (*ssh.Client, error) {
	e.mu.Lock()
	if pc, ok := e.pool[t.key()]; ok {
		pc.lastUsed = time.Now()
		e.mu.Unlock()
		return pc.client, nil
	}
	e.mu.Unlock()

	client, err := e.dialer(ctx, t)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, fmt.Sprintf("dial %s", t.addr()), err)
	}

	e.mu.Lock()
	e.pool[t.key()] = &pooledChannel{client: client, lastUsed: time.Now()}
	e.mu.Unlock()
	return client, nil
}

func (e *Executor) dial(ctx context.Context, t Target) (*ssh.Client, error) {
	key, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // fleet runs on a trusted network
		Timeout:         10 * time.Second,
	}

	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr(), config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Exec runs command on target within timeout. A timed-out command
// reports ExitCode -1 and apierr.Timeout.
func (e *Executor) Exec(ctx context.Context, t Target, command string, timeout time.Duration, env map[string]string) (ExecResult, error) {
	client, err := e.channel(ctx, t)
	if err != nil {
		return ExecResult{ExitCode: -1}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{ExitCode: -1}, apierr.Wrap(apierr.Transport, "open session", err)
	}
	defer session.Close()

	for k, v := range env {
		_ = session.Setenv(k, v) // best-effort: many sshd configs reject arbitrary SetEnv
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		if err == nil {
			return ExecResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return ExecResult{ExitCode: exitErr.ExitStatus(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return ExecResult{ExitCode: -1}, apierr.Wrap(apierr.Transport, "remote exec failed", err)
	case <-time.After(timeout):
		session.Signal(ssh.SIGKILL)
		return ExecResult{ExitCode: -1}, apierr.New(apierr.Timeout, fmt.Sprintf("command timed out after %s", timeout))
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ExecResult{ExitCode: -1}, apierr.Wrap(apierr.Timeout, "context cancelled", ctx.Err())
	}
}

// Put transfers a local file to the remote path using SCP-shaped framing.
func (e *Executor) Put(ctx context.Context, t Target, localPath, remotePath string) error {
	client, err := e.channel(ctx, t)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return apierr.Wrap(apierr.Transport, "read local file", err)
	}
	return scpPut(client, remotePath, data)
}

// Get transfers a remote file to the local path.
func (e *Executor) Get(ctx context.Context, t Target, remotePath, localPath string) error {
	client, err := e.channel(ctx, t)
	if err != nil {
		return err
	}
	data, err := scpGet(client, remotePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return apierr.Wrap(apierr.Transport, "write local file", err)
	}
	return nil
}

// Facts is the coarse liveness/capability snapshot returned by Probe.
type Facts struct {
	Hostname   string
	CPUCores   int
	MemoryMB   int64
	FreeDiskMB int64
	GPUPresent bool
	OS         string
}

// Probe runs a cheap `uname -s` to pick OS-specific commands, then
// gathers coarse facts in one round trip per fact.
func (e *Executor) Probe(ctx context.Context, t Target) (Facts, error) {
	unameResult, err := e.Exec(ctx, t, "uname -s", 10*time.Second, nil)
	if err != nil {
		return Facts{}, err
	}
	osName := strings.TrimSpace(unameResult.Stdout)

	var facts Facts
	switch osName {
	case "Darwin":
		facts, err = e.probeDarwin(ctx, t)
	default:
		facts, err = e.probeLinux(ctx, t)
	}
	if err != nil {
		return Facts{}, err
	}
	facts.OS = osName
	return facts, nil
}

func (e *Executor) probeLinux(ctx context.Context, t Target) (Facts, error) {
	var f Facts
	if r, err := e.Exec(ctx, t, "hostname", 5*time.Second, nil); err == nil {
		f.Hostname = strings.TrimSpace(r.Stdout)
	}
	if r, err := e.Exec(ctx, t, "nproc", 5*time.Second, nil); err == nil {
		f.CPUCores, _ = strconv.Atoi(strings.TrimSpace(r.Stdout))
	}
	if r, err := e.Exec(ctx, t, "awk '/MemTotal/{print int($2/1024)}' /proc/meminfo", 5*time.Second, nil); err == nil {
		f.MemoryMB, _ = strconv.ParseInt(strings.TrimSpace(r.Stdout), 10, 64)
	}
	if r, err := e.Exec(ctx, t, "df -Pm / | tail -1 | awk '{print $4}'", 5*time.Second, nil); err == nil {
		f.FreeDiskMB, _ = strconv.ParseInt(strings.TrimSpace(r.Stdout), 10, 64)
	}
	if r, err := e.Exec(ctx, t, "command -v nvidia-smi", 5*time.Second, nil); err == nil {
		f.GPUPresent = r.ExitCode == 0
	}
	return f, nil
}

func (e *Executor) probeDarwin(ctx context.Context, t Target) (Facts, error) {
	var f Facts
	if r, err := e.Exec(ctx, t, "hostname", 5*time.Second, nil); err == nil {
		f.Hostname = strings.TrimSpace(r.Stdout)
	}
	if r, err := e.Exec(ctx, t, "sysctl -n hw.ncpu", 5*time.Second, nil); err == nil {
		f.CPUCores, _ = strconv.Atoi(strings.TrimSpace(r.Stdout))
	}
	if r, err := e.Exec(ctx, t, "echo $(( $(sysctl -n hw.memsize) / 1048576 ))", 5*time.Second, nil); err == nil {
		f.MemoryMB, _ = strconv.ParseInt(strings.TrimSpace(r.Stdout), 10, 64)
	}
	if r, err := e.Exec(ctx, t, "df -m / | tail -1 | awk '{print $4}'", 5*time.Second, nil); err == nil {
		f.FreeDiskMB, _ = strconv.ParseInt(strings.TrimSpace(r.Stdout), 10, 64)
	}
	f.GPUPresent = false
	return f, nil
}
