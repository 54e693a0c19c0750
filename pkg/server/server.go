package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/easzlab/fbxrules/pkg/apply"
	"github.com/easzlab/fbxrules/pkg/config"
	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/easzlab/fbxrules/pkg/healthcheck"
	"github.com/easzlab/fbxrules/pkg/metrics"
	"github.com/easzlab/fbxrules/pkg/reconcile"
	"go.uber.org/zap"
)

// DeviceFactory builds a session opener for the configured device and returns
// the host:port the reachability probe should dial.
type DeviceFactory func(fb config.FreeboxConfig, logger *zap.Logger) (apply.Opener, string, error)

// FreeboxDevice is the DeviceFactory used outside tests.
func FreeboxDevice(fb config.FreeboxConfig, logger *zap.Logger) (apply.Opener, string, error) {
	client, err := freebox.NewClient(fb.Options(), logger)
	if err != nil {
		return nil, "", err
	}
	return apply.ClientOpener(client), client.Address(), nil
}

// Server coordinates all modules and manages the overall service lifecycle.
type Server struct {
	configMgr  *config.Manager
	probeMgr   *healthcheck.Manager
	metrics    *metrics.Registry
	device     DeviceFactory
	deviceAddr string
	applier    *apply.Applier
	trigger    chan struct{}
	httpSrv    *http.Server
	logger     *zap.Logger
}

// NewServer initializes all modules and returns a ready-to-run Server.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	return newServerWithDevice(configPath, FreeboxDevice, logger)
}

// newServerWithDevice lets tests substitute the device.
func newServerWithDevice(configPath string, device DeviceFactory, logger *zap.Logger) (*Server, error) {
	configMgr, err := config.NewManager(configPath, logger.Named("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	server := &Server{
		configMgr: configMgr,
		metrics:   metrics.NewRegistry(),
		device:    device,
		trigger:   make(chan struct{}, 1),
		logger:    logger,
	}

	// A device coming back triggers a pass; passes themselves only run on the main loop.
	server.probeMgr = healthcheck.NewManager(func(reachable bool) {
		server.metrics.SetDeviceUp(reachable)
		if reachable {
			server.triggerReconcile()
		}
	}, logger.Named("probe"))

	if err := server.updateDevice(configMgr.GetConfig()); err != nil {
		return nil, err
	}
	return server, nil
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.configMgr.GetConfig()
}

// Metrics exposes the registry, e.g. for tests.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// Run starts the server in daemon mode: performs an initial pass, starts the probe
// and config watching, then enters the main event loop until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.configMgr.GetConfig()

	if err := s.startMetrics(cfg.Global.MetricsAddr); err != nil {
		return err
	}

	s.probeMgr.UpdateTarget(ctx, s.deviceAddr, cfg.Freebox.Probe)
	s.metrics.SetDeviceUp(true)

	if _, err := s.reconcile(ctx, "startup"); err != nil {
		s.logger.Error("initial reconcile failed", zap.Error(err))
	}

	s.configMgr.SetReloadHook(s.metrics.RecordReload)
	s.configMgr.WatchConfig()
	s.logger.Info("config watcher started")

	resync := newResyncTimer(cfg.Global.GetResyncInterval())
	defer resync.stop()

	s.logger.Info("server started, entering main loop",
		zap.Duration("resync_interval", cfg.Global.GetResyncInterval()),
	)
	for {
		select {
		case <-s.configMgr.OnChange():
			s.logger.Info("config change detected, triggering reconcile")
			newCfg := s.configMgr.GetConfig()
			if err := s.updateDevice(newCfg); err != nil {
				s.logger.Error("failed to apply new device settings, keeping previous ones", zap.Error(err))
			}
			s.probeMgr.UpdateTarget(ctx, s.deviceAddr, newCfg.Freebox.Probe)
			resync.reset(newCfg.Global.GetResyncInterval())
			if newCfg.Global.MetricsAddr != cfg.Global.MetricsAddr {
				s.logger.Warn("global.metrics_addr changed, restart to apply")
			}
			if _, err := s.reconcile(ctx, "config change"); err != nil {
				s.logger.Error("reconcile after config change failed", zap.Error(err))
			}

		case <-s.trigger:
			if _, err := s.reconcile(ctx, "device reachable"); err != nil {
				s.logger.Error("reconcile after device recovery failed", zap.Error(err))
			}

		case <-resync.C():
			if _, err := s.reconcile(ctx, "resync"); err != nil {
				s.logger.Error("periodic reconcile failed", zap.Error(err))
			}

		case <-ctx.Done():
			s.logger.Info("shutdown signal received, stopping server")
			s.shutdown()
			return nil
		}
	}
}

// RunOnce performs a single pass over every configured rule and then shuts down.
// This is used for manual one-shot reconciliation (e.g., via CLI or cron).
func (s *Server) RunOnce(ctx context.Context) (*apply.Summary, error) {
	summary, err := s.reconcile(ctx, "once")
	s.shutdown()

	if err != nil {
		return summary, fmt.Errorf("reconcile failed: %w", err)
	}
	return summary, nil
}

// reconcile runs one pass unless the probe currently reports the device down.
func (s *Server) reconcile(ctx context.Context, reason string) (*apply.Summary, error) {
	if !s.probeMgr.IsReachable() {
		s.logger.Warn("device unreachable, skipping reconcile", zap.String("reason", reason))
		return nil, nil
	}

	cfg := s.configMgr.GetConfig()
	s.logger.Debug("starting reconcile pass",
		zap.String("reason", reason),
		zap.Int("dhcp_leases", len(cfg.DHCPLeases)),
		zap.Int("port_forwards", len(cfg.PortForwards)),
	)

	start := time.Now()
	summary, err := s.applier.All(ctx, cfg.DHCPLeases, cfg.PortForwards)
	s.metrics.ObservePass(time.Since(start), err)
	return summary, err
}

// updateDevice rebuilds the applier for the current freebox section.
func (s *Server) updateDevice(cfg *config.Config) error {
	opener, address, err := s.device(cfg.Freebox, s.logger.Named("freebox"))
	if err != nil {
		return fmt.Errorf("failed to initialize freebox client: %w", err)
	}
	reconciler := reconcile.NewReconciler(s.logger.Named("reconcile"), s.metrics)
	s.applier = apply.New(opener, reconciler, s.logger.Named("apply"))
	s.deviceAddr = address
	return nil
}

// triggerReconcile asks the main loop for a pass without blocking the caller.
func (s *Server) triggerReconcile() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Server) startMetrics(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start metrics listener on %s: %w", addr, err)
	}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	s.logger.Info("metrics listener started", zap.String("addr", addr))
	return nil
}

// shutdown gracefully stops all modules.
func (s *Server) shutdown() {
	s.probeMgr.Stop()
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
	s.logger.Info("server stopped")
}

// resyncTimer wraps a ticker that may be disabled (interval 0).
type resyncTimer struct {
	ticker   *time.Ticker
	interval time.Duration
}

func newResyncTimer(interval time.Duration) *resyncTimer {
	t := &resyncTimer{}
	t.reset(interval)
	return t
}

// C returns nil when disabled; receiving from it then blocks forever.
func (t *resyncTimer) C() <-chan time.Time {
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C
}

func (t *resyncTimer) reset(interval time.Duration) {
	if interval == t.interval && (t.ticker != nil || interval <= 0) {
		return
	}
	t.stop()
	t.interval = interval
	if interval > 0 {
		t.ticker = time.NewTicker(interval)
	}
}

func (t *resyncTimer) stop() {
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}
