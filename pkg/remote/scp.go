package remote

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"golang.org/x/crypto/ssh"
)

// scpPut streams data to remotePath using the classic scp sink protocol,
// byte-faithful (no text transformation).
func scpPut(client *ssh.Client, remotePath string, data []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return apierr.Wrap(apierr.Transport, "open scp session", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return apierr.Wrap(apierr.Transport, "open scp stdin", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(fmt.Sprintf("scp -qt %s", filepath.Dir(remotePath)))
	}()

	fmt.Fprintf(stdin, "C0644 %d %s\n", len(data), filepath.Base(remotePath))
	if _, err := stdin.Write(data); err != nil {
		stdin.Close()
		return apierr.Wrap(apierr.Transport, "write scp payload", err)
	}
	fmt.Fprint(stdin, "\x00")
	stdin.Close()

	if err := <-errCh; err != nil {
		return apierr.Wrap(apierr.Transport, "scp put failed", err)
	}
	return nil
}

// scpGet retrieves a remote file's bytes using the classic scp source
// protocol.
func scpGet(client *ssh.Client, remotePath string) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "open scp session", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "open scp stdout", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "open scp stdin", err)
	}

	if err := session.Start(fmt.Sprintf("scp -qf %s", remotePath)); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "start scp", err)
	}

	reader := bufio.NewReader(stdout)
	fmt.Fprint(stdin, "\x00")

	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "read scp header", err)
	}

	var mode string
	var size int64
	var name string
	if _, err := fmt.Sscanf(header, "C%s %d %s", &mode, &size, &name); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "parse scp header", err)
	}

	fmt.Fprint(stdin, "\x00")
	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "read scp payload", err)
	}

	ack := make([]byte, 1)
	if _, err := io.ReadFull(reader, ack); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "read scp ack", err)
	}
	fmt.Fprint(stdin, "\x00")
	stdin.Close()

	if err := session.Wait(); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "scp get failed", err)
	}
	return data, nil
}
