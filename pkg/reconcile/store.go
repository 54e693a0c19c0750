package reconcile

import (
	"context"

	"github.com/easzlab/fbxrules/pkg/freebox"
)

// LeaseStore lists and creates static DHCP leases on the device.
// *freebox.Session implements it.
type LeaseStore interface {
	ListStaticLeases(ctx context.Context) ([]freebox.StaticLease, error)
	CreateStaticLease(ctx context.Context, lease freebox.StaticLease) (*freebox.StaticLease, error)
}

// PortForwardStore lists and creates port forwarding rules on the device.
// *freebox.Session implements it.
type PortForwardStore interface {
	ListPortForwards(ctx context.Context) ([]freebox.PortForward, error)
	CreatePortForward(ctx context.Context, redir freebox.PortForward) (*freebox.PortForward, error)
}

// Recorder receives one observation per finished reconciliation.
type Recorder interface {
	RecordOutcome(kind, outcome string)
}

var (
	_ LeaseStore       = (*freebox.Session)(nil)
	_ PortForwardStore = (*freebox.Session)(nil)
)
