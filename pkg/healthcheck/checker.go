package healthcheck

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Checker probes an address and reports whether it answered.
type Checker interface {
	Check(ctx context.Context, address string) error
}

// TCPChecker considers an address reachable when a TCP connection can be opened.
// It does not authenticate; a reachable device may still refuse the session.
type TCPChecker struct {
	timeout time.Duration
}

// NewTCPChecker creates a new TCPChecker with the given dial timeout.
func NewTCPChecker(timeout time.Duration) *TCPChecker {
	return &TCPChecker{
		timeout: timeout,
	}
}

// Check dials address and closes the connection immediately.
func (c *TCPChecker) Check(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("device unreachable at %s: %w", address, err)
	}
	conn.Close()
	return nil
}
