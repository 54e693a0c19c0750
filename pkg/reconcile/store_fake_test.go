package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/easzlab/fbxrules/pkg/freebox"
)

// fakeStore is an in-memory device. Created rules are appended to the lists so
// that a second pass observes them, like the real device.
type fakeStore struct {
	mu sync.Mutex

	leases []freebox.StaticLease
	redirs []freebox.PortForward
	nextID int

	listErr   error
	createErr error
	// ackless makes create succeed without echoing the acknowledgment field.
	ackless bool

	listCalls   int
	createCalls int
	lastLease   *freebox.StaticLease
	lastRedir   *freebox.PortForward
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1}
}

func (s *fakeStore) ListStaticLeases(_ context.Context) ([]freebox.StaticLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]freebox.StaticLease(nil), s.leases...), nil
}

func (s *fakeStore) CreateStaticLease(_ context.Context, lease freebox.StaticLease) (*freebox.StaticLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.lastLease = &lease
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.ackless {
		return &freebox.StaticLease{}, nil
	}
	for _, existing := range s.leases {
		if strings.EqualFold(existing.MAC, lease.MAC) {
			return nil, fmt.Errorf("fake: lease %s already exists", lease.MAC)
		}
	}
	lease.ID = lease.MAC
	s.leases = append(s.leases, lease)
	return &lease, nil
}

func (s *fakeStore) ListPortForwards(_ context.Context) ([]freebox.PortForward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]freebox.PortForward(nil), s.redirs...), nil
}

func (s *fakeStore) CreatePortForward(_ context.Context, redir freebox.PortForward) (*freebox.PortForward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.lastRedir = &redir
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.ackless {
		return &freebox.PortForward{ID: s.nextID}, nil
	}
	redir.ID = s.nextID
	s.nextID++
	s.redirs = append(s.redirs, redir)
	return &redir, nil
}

// recordingRecorder collects outcome observations.
type recordingRecorder struct {
	observed []string
}

func (r *recordingRecorder) RecordOutcome(kind, outcome string) {
	r.observed = append(r.observed, kind+"/"+outcome)
}
