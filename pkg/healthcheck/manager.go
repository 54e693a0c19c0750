package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/easzlab/fbxrules/pkg/config"
	"go.uber.org/zap"
)

// probeSettings holds the thresholds for the watched device.
type probeSettings struct {
	checker   Checker
	interval  time.Duration
	timeout   time.Duration
	failCount int
	riseCount int
}

// deviceStatus tracks the reachability state and consecutive probe results.
type deviceStatus struct {
	address          string
	reachable        bool
	consecutiveFails int
	consecutiveOK    int
	settings         probeSettings
	cancel           context.CancelFunc
}

// Manager probes the device in the background and reports reachability transitions.
// A device that is not probed (disabled or never configured) is considered reachable.
type Manager struct {
	status   *deviceStatus
	mu       sync.RWMutex
	onChange func(reachable bool)
	logger   *zap.Logger

	// newChecker is swapped in tests.
	newChecker func(timeout time.Duration) Checker
}

// NewManager creates a probe Manager.
// The onChange callback is invoked whenever the device changes between reachable and unreachable.
func NewManager(onChange func(reachable bool), logger *zap.Logger) *Manager {
	return &Manager{
		onChange: onChange,
		logger:   logger,
		newChecker: func(timeout time.Duration) Checker {
			return NewTCPChecker(timeout)
		},
	}
}

// IsReachable reports the last known reachability of the device.
func (m *Manager) IsReachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status == nil {
		return true
	}
	return m.status.reachable
}

// UpdateTarget points the probe at address with the given settings. The probe restarts
// only when the address or the settings change; its state is kept otherwise.
func (m *Manager) UpdateTarget(ctx context.Context, address string, probe config.ProbeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !probe.IsEnabled() {
		if m.status != nil {
			m.stopLocked()
			m.logger.Info("device probe disabled")
		}
		return
	}

	settings := probeSettings{
		checker:   m.newChecker(probe.GetTimeout()),
		interval:  probe.GetInterval(),
		timeout:   probe.GetTimeout(),
		failCount: probe.GetFailCount(),
		riseCount: probe.GetRiseCount(),
	}

	if m.status != nil {
		if m.status.address == address && sameThresholds(m.status.settings, settings) {
			return
		}
		m.stopLocked()
	}

	checkCtx, cancel := context.WithCancel(ctx)
	m.status = &deviceStatus{
		address:   address,
		reachable: true,
		settings:  settings,
		cancel:    cancel,
	}

	m.logger.Info("started device probe",
		zap.String("address", address),
		zap.Duration("interval", settings.interval),
	)

	go m.runProbe(checkCtx, m.status)
}

func sameThresholds(a, b probeSettings) bool {
	return a.interval == b.interval && a.timeout == b.timeout && a.failCount == b.failCount && a.riseCount == b.riseCount
}

// stopLocked must be called with m.mu held.
func (m *Manager) stopLocked() {
	if m.status.cancel != nil {
		m.status.cancel()
	}
	m.status = nil
}

func (m *Manager) runProbe(ctx context.Context, status *deviceStatus) {
	ticker := time.NewTicker(status.settings.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := status.settings.checker.Check(ctx, status.address)
			if ctx.Err() != nil {
				return
			}
			m.handleProbeResult(status, err)
		}
	}
}

// handleProbeResult applies one probe result and fires onChange on a transition.
// Results for a target that has since been replaced are dropped.
func (m *Manager) handleProbeResult(status *deviceStatus, probeErr error) {
	m.mu.Lock()

	if m.status != status {
		m.mu.Unlock()
		return
	}

	previouslyReachable := status.reachable

	if probeErr != nil {
		status.consecutiveFails++
		status.consecutiveOK = 0

		if status.reachable && status.consecutiveFails >= status.settings.failCount {
			status.reachable = false
			m.logger.Warn("device marked unreachable",
				zap.String("address", status.address),
				zap.Int("consecutive_fails", status.consecutiveFails),
				zap.Error(probeErr),
			)
		}
	} else {
		status.consecutiveOK++
		status.consecutiveFails = 0

		if !status.reachable && status.consecutiveOK >= status.settings.riseCount {
			status.reachable = true
			m.logger.Info("device reachable again",
				zap.String("address", status.address),
				zap.Int("consecutive_ok", status.consecutiveOK),
			)
		}
	}

	changed := previouslyReachable != status.reachable
	reachable := status.reachable
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(reachable)
	}
}

// Stop cancels the running probe and forgets its state.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != nil {
		m.stopLocked()
	}
	m.logger.Info("device probe stopped")
}
