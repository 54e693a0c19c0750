package healthcheck

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/easzlab/fbxrules/pkg/config"
	"go.uber.org/zap"
)

func boolPtr(b bool) *bool {
	return &b
}

// scriptedChecker returns the error stored in next on every call.
type scriptedChecker struct {
	next  atomic.Value // holds error wrapped in checkResult
	calls atomic.Int32
}

type checkResult struct{ err error }

func (c *scriptedChecker) set(err error) {
	c.next.Store(checkResult{err: err})
}

func (c *scriptedChecker) Check(_ context.Context, _ string) error {
	c.calls.Add(1)
	if v, ok := c.next.Load().(checkResult); ok {
		return v.err
	}
	return nil
}

func newTestManager(onChange func(bool), checker Checker) *Manager {
	mgr := NewManager(onChange, zap.NewNop())
	mgr.newChecker = func(time.Duration) Checker { return checker }
	return mgr
}

func injectStatus(mgr *Manager, reachable bool, failCount, riseCount int) *deviceStatus {
	status := &deviceStatus{
		address:   "192.168.1.254:443",
		reachable: reachable,
		settings:  probeSettings{failCount: failCount, riseCount: riseCount},
	}
	mgr.mu.Lock()
	mgr.status = status
	mgr.mu.Unlock()
	return status
}

// --- IsReachable tests ---

func TestIsReachable_NoTarget(t *testing.T) {
	mgr := NewManager(nil, zap.NewNop())
	if !mgr.IsReachable() {
		t.Error("expected an unprobed device to be considered reachable")
	}
}

func TestIsReachable_Unreachable(t *testing.T) {
	mgr := NewManager(nil, zap.NewNop())
	injectStatus(mgr, false, 3, 2)
	if mgr.IsReachable() {
		t.Error("expected unreachable device to return false")
	}
}

// --- UpdateTarget tests ---

func TestUpdateTarget_Register(t *testing.T) {
	mgr := newTestManager(nil, &scriptedChecker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.UpdateTarget(ctx, "192.168.1.254:443", config.ProbeConfig{Interval: "100ms"})

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.status == nil {
		t.Fatal("expected device to be probed")
	}
	if !mgr.status.reachable {
		t.Error("expected initial state to be reachable")
	}
}

func TestUpdateTarget_Disabled(t *testing.T) {
	mgr := newTestManager(nil, &scriptedChecker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.UpdateTarget(ctx, "192.168.1.254:443", config.ProbeConfig{Interval: "100ms"})
	mgr.UpdateTarget(ctx, "192.168.1.254:443", config.ProbeConfig{Enabled: boolPtr(false)})

	mgr.mu.RLock()
	probed := mgr.status != nil
	mgr.mu.RUnlock()
	if probed {
		t.Error("expected probe to stop once disabled")
	}
	if !mgr.IsReachable() {
		t.Error("expected device to be reachable when not probed")
	}
}

func TestUpdateTarget_SameTargetKeepsState(t *testing.T) {
	mgr := newTestManager(nil, &scriptedChecker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := config.ProbeConfig{Interval: "1h"}
	mgr.UpdateTarget(ctx, "192.168.1.254:443", probe)

	mgr.mu.Lock()
	first := mgr.status
	first.reachable = false
	mgr.mu.Unlock()

	mgr.UpdateTarget(ctx, "192.168.1.254:443", probe)

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.status != first {
		t.Error("expected unchanged target to keep its probe")
	}
}

func TestUpdateTarget_AddressChangeRestarts(t *testing.T) {
	mgr := newTestManager(nil, &scriptedChecker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.UpdateTarget(ctx, "192.168.1.254:443", config.ProbeConfig{Interval: "1h"})
	mgr.mu.Lock()
	mgr.status.reachable = false
	mgr.mu.Unlock()

	mgr.UpdateTarget(ctx, "192.168.1.1:443", config.ProbeConfig{Interval: "1h"})

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.status.address != "192.168.1.1:443" {
		t.Errorf("expected new address, got %q", mgr.status.address)
	}
	if !mgr.status.reachable {
		t.Error("expected a new target to start reachable")
	}
}

// --- handleProbeResult tests ---

func TestHandleProbeResult_ConsecutiveFailsMarkUnreachable(t *testing.T) {
	var transitions atomic.Int32
	var last atomic.Bool
	mgr := NewManager(func(reachable bool) {
		transitions.Add(1)
		last.Store(reachable)
	}, zap.NewNop())
	status := injectStatus(mgr, true, 3, 2)

	probeErr := fmt.Errorf("connection refused")
	mgr.handleProbeResult(status, probeErr)
	mgr.handleProbeResult(status, probeErr)
	if !mgr.IsReachable() {
		t.Error("expected device to stay reachable after 2 failures (threshold is 3)")
	}

	mgr.handleProbeResult(status, probeErr)
	if mgr.IsReachable() {
		t.Error("expected device to be unreachable after 3 consecutive failures")
	}
	if transitions.Load() != 1 || last.Load() {
		t.Errorf("expected one transition to unreachable, got %d (last=%v)", transitions.Load(), last.Load())
	}
}

func TestHandleProbeResult_ConsecutiveSuccessMarkReachable(t *testing.T) {
	var transitions atomic.Int32
	var last atomic.Bool
	mgr := NewManager(func(reachable bool) {
		transitions.Add(1)
		last.Store(reachable)
	}, zap.NewNop())
	status := injectStatus(mgr, false, 3, 2)

	mgr.handleProbeResult(status, nil)
	if mgr.IsReachable() {
		t.Error("expected device to stay unreachable after 1 success (threshold is 2)")
	}

	mgr.handleProbeResult(status, nil)
	if !mgr.IsReachable() {
		t.Error("expected device to be reachable after 2 consecutive successes")
	}
	if transitions.Load() != 1 || !last.Load() {
		t.Errorf("expected one transition to reachable, got %d (last=%v)", transitions.Load(), last.Load())
	}
}

func TestHandleProbeResult_NoChangeNoCallback(t *testing.T) {
	var transitions atomic.Int32
	mgr := NewManager(func(bool) { transitions.Add(1) }, zap.NewNop())
	status := injectStatus(mgr, true, 3, 2)

	mgr.handleProbeResult(status, nil)

	if transitions.Load() != 0 {
		t.Errorf("expected no callback without a transition, got %d", transitions.Load())
	}
}

func TestHandleProbeResult_FailResetsConsecutiveOK(t *testing.T) {
	mgr := NewManager(nil, zap.NewNop())
	status := injectStatus(mgr, false, 3, 3)

	mgr.handleProbeResult(status, nil)
	mgr.handleProbeResult(status, nil)
	mgr.handleProbeResult(status, fmt.Errorf("fail"))

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if status.consecutiveOK != 0 {
		t.Errorf("expected consecutiveOK to be reset to 0, got %d", status.consecutiveOK)
	}
	if status.consecutiveFails != 1 {
		t.Errorf("expected consecutiveFails to be 1, got %d", status.consecutiveFails)
	}
}

func TestHandleProbeResult_StaleTargetIgnored(t *testing.T) {
	var transitions atomic.Int32
	mgr := NewManager(func(bool) { transitions.Add(1) }, zap.NewNop())
	stale := injectStatus(mgr, true, 1, 1)
	injectStatus(mgr, true, 1, 1)

	mgr.handleProbeResult(stale, fmt.Errorf("fail"))

	if !mgr.IsReachable() || transitions.Load() != 0 {
		t.Error("expected results for a replaced target to be dropped")
	}
}

// --- end-to-end probe loop ---

func TestRunProbe_DetectsOutageAndRecovery(t *testing.T) {
	checker := &scriptedChecker{}
	changes := make(chan bool, 4)
	mgr := newTestManager(func(reachable bool) { changes <- reachable }, checker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker.set(fmt.Errorf("no route to host"))
	mgr.UpdateTarget(ctx, "192.168.1.254:443", config.ProbeConfig{
		Interval:  "10ms",
		FailCount: 2,
		RiseCount: 1,
	})

	select {
	case reachable := <-changes:
		if reachable {
			t.Fatal("expected first transition to be unreachable")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outage detection")
	}

	checker.set(nil)
	select {
	case reachable := <-changes:
		if !reachable {
			t.Fatal("expected second transition to be reachable")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovery")
	}

	mgr.Stop()
	if !mgr.IsReachable() {
		t.Error("expected stopped probe to report reachable")
	}
}
