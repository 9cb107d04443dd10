package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker opens a connection to host:port; healthy iff the connect
// succeeds within the spec's timeout.
type TCPChecker struct{}

func (c *TCPChecker) Evaluate(ctx context.Context, spec CheckSpec) Result {
	start := time.Now()
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", spec.Host, spec.Port))
	elapsed := time.Since(start)
	if err != nil {
		return Result{Status: StatusUnhealthy, ResponseTimeMs: elapsed.Milliseconds(), Timestamp: start, Message: "connect failed: " + err.Error()}
	}
	conn.Close()
	return Result{Status: StatusHealthy, ResponseTimeMs: elapsed.Milliseconds(), Timestamp: start, Message: "connected"}
}
