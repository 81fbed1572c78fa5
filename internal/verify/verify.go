// Package verify confirms a deployment is reachable by polling its service
// ports over TCP. Verification never fails a deployment outright: callers
// treat a false result as a degraded success.
package verify

import (
	"context"
	"fmt"
	"net"
	"time"

	"log/slog"
)

const dialTimeout = 3 * time.Second

// Verifier polls TCP ports on a deployment target.
type Verifier struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) Verifier {
	return Verifier{logger: logger}
}

// Verify attempts to open a TCP connection to every port on address,
// repeating on the given interval until all ports accept or maxWait elapses.
// It returns true only when every port accepted within one attempt.
func (v Verifier) Verify(ctx context.Context, address string, ports []int, maxWait, interval time.Duration) bool {
	if len(ports) == 0 {
		return true
	}
	deadline := time.Now().Add(maxWait)
	attempt := 0
	for {
		attempt++
		open := v.openPorts(address, ports)
		v.logger.Info("verification attempt",
			"address", address,
			"attempt", attempt,
			"open", open,
			"total", len(ports))
		if open == len(ports) {
			return true
		}
		if time.Now().Add(interval).After(deadline) {
			v.logger.Warn("verification timed out", "address", address, "attempts", attempt)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// Probe reports whether a single port accepts a TCP connection right now.
func (v Verifier) Probe(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, fmt.Sprintf("%d", port)), dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (v Verifier) openPorts(address string, ports []int) int {
	open := 0
	for _, port := range ports {
		if v.Probe(address, port) {
			open++
		}
	}
	return open
}
