package server

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/easzlab/fbxrules/pkg/apply"
	"github.com/easzlab/fbxrules/pkg/config"
	"github.com/easzlab/fbxrules/pkg/freebox"
	"go.uber.org/zap"
)

// fakeDevice keeps rules across sessions, like a real Freebox.
type fakeDevice struct {
	mu      sync.Mutex
	leases  []freebox.StaticLease
	redirs  []freebox.PortForward
	opens   int
	closes  int
	address string
}

func (d *fakeDevice) factory(config.FreeboxConfig, *zap.Logger) (apply.Opener, string, error) {
	return apply.OpenerFunc(func(context.Context) (apply.Session, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.opens++
		return &fakeSession{device: d}, nil
	}), d.address, nil
}

func (d *fakeDevice) counts() (opens, closes, leases, redirs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes, len(d.leases), len(d.redirs)
}

type fakeSession struct {
	device *fakeDevice
}

func (s *fakeSession) ListStaticLeases(context.Context) ([]freebox.StaticLease, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return append([]freebox.StaticLease(nil), s.device.leases...), nil
}

func (s *fakeSession) CreateStaticLease(_ context.Context, lease freebox.StaticLease) (*freebox.StaticLease, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	lease.ID = strings.ToLower(lease.MAC)
	s.device.leases = append(s.device.leases, lease)
	return &lease, nil
}

func (s *fakeSession) ListPortForwards(context.Context) ([]freebox.PortForward, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return append([]freebox.PortForward(nil), s.device.redirs...), nil
}

func (s *fakeSession) CreatePortForward(_ context.Context, redir freebox.PortForward) (*freebox.PortForward, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	redir.ID = len(s.device.redirs) + 1
	s.device.redirs = append(s.device.redirs, redir)
	return &redir, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.device.closes++
	return nil
}

// newTestServer creates a Server backed by device.
func newTestServer(t *testing.T, configPath string, device *fakeDevice) *Server {
	t.Helper()
	srv, err := newServerWithDevice(configPath, device.factory, zap.NewNop())
	if err != nil {
		t.Fatalf("newServerWithDevice failed: %v", err)
	}
	return srv
}
