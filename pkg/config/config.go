package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/easzlab/fbxrules/pkg/rules"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/fbxrules/fbxrules.yaml"

// EnvPrefix prefixes environment overrides, e.g. FBXRULES_FREEBOX_APP_TOKEN.
const EnvPrefix = "FBXRULES"

// Config represents the top-level configuration structure.
type Config struct {
	Global       GlobalConfig          `yaml:"global"        mapstructure:"global"`
	Freebox      FreeboxConfig         `yaml:"freebox"       mapstructure:"freebox"`
	DHCPLeases   []rules.DhcpLeaseRule `yaml:"dhcp_leases"   mapstructure:"dhcp_leases"`
	PortForwards []rules.NatRule       `yaml:"port_forwards" mapstructure:"port_forwards"`
}

// GlobalConfig holds global settings.
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"       mapstructure:"log_level"`
	ResyncInterval string `yaml:"resync_interval" mapstructure:"resync_interval"`
	MetricsAddr    string `yaml:"metrics_addr"    mapstructure:"metrics_addr"`
}

// GetResyncInterval returns how often watch mode re-applies the rules.
// Defaults to 5m; "0" disables periodic passes.
func (g GlobalConfig) GetResyncInterval() time.Duration {
	if g.ResyncInterval == "" {
		return 5 * time.Minute
	}
	duration, err := time.ParseDuration(g.ResyncInterval)
	if err != nil || duration < 0 {
		return 5 * time.Minute
	}
	return duration
}

// FreeboxConfig describes how to reach and authenticate against the device.
type FreeboxConfig struct {
	URL                string      `yaml:"url"                  mapstructure:"url"`
	Port               int         `yaml:"port"                 mapstructure:"port"`
	AppID              string      `yaml:"app_id"               mapstructure:"app_id"`
	AppToken           string      `yaml:"app_token"            mapstructure:"app_token"`
	CAFile             string      `yaml:"ca_file"              mapstructure:"ca_file"`
	InsecureSkipVerify bool        `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	Timeout            string      `yaml:"timeout"              mapstructure:"timeout"`
	Probe              ProbeConfig `yaml:"probe"                mapstructure:"probe"`
}

// GetTimeout parses and returns the per-request timeout.
// Defaults to 10s if not set or invalid.
func (f FreeboxConfig) GetTimeout() time.Duration {
	if f.Timeout == "" {
		return 10 * time.Second
	}
	duration, err := time.ParseDuration(f.Timeout)
	if err != nil || duration <= 0 {
		return 10 * time.Second
	}
	return duration
}

// Options converts the section into client options.
func (f FreeboxConfig) Options() freebox.Options {
	return freebox.Options{
		Host:               f.URL,
		Port:               f.Port,
		AppID:              f.AppID,
		AppToken:           f.AppToken,
		CAFile:             f.CAFile,
		InsecureSkipVerify: f.InsecureSkipVerify,
		Timeout:            f.GetTimeout(),
	}
}

// ProbeConfig defines the device reachability probe used in watch mode.
type ProbeConfig struct {
	Enabled   *bool  `yaml:"enabled"    mapstructure:"enabled"`
	Interval  string `yaml:"interval"   mapstructure:"interval"`
	Timeout   string `yaml:"timeout"    mapstructure:"timeout"`
	FailCount int    `yaml:"fail_count" mapstructure:"fail_count"`
	RiseCount int    `yaml:"rise_count" mapstructure:"rise_count"`
}

// IsEnabled returns whether the probe runs. Defaults to true if not explicitly set.
func (p ProbeConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// GetInterval parses and returns the probe interval.
// Defaults to 30s if not set or invalid.
func (p ProbeConfig) GetInterval() time.Duration {
	if p.Interval == "" {
		return 30 * time.Second
	}
	duration, err := time.ParseDuration(p.Interval)
	if err != nil || duration <= 0 {
		return 30 * time.Second
	}
	return duration
}

// GetTimeout parses and returns the probe dial timeout.
// Defaults to 3s if not set or invalid.
func (p ProbeConfig) GetTimeout() time.Duration {
	if p.Timeout == "" {
		return 3 * time.Second
	}
	duration, err := time.ParseDuration(p.Timeout)
	if err != nil || duration <= 0 {
		return 3 * time.Second
	}
	return duration
}

// GetFailCount returns the consecutive failure threshold.
// Defaults to 3 if not set.
func (p ProbeConfig) GetFailCount() int {
	if p.FailCount <= 0 {
		return 3
	}
	return p.FailCount
}

// GetRiseCount returns the consecutive success threshold.
// Defaults to 2 if not set.
func (p ProbeConfig) GetRiseCount() int {
	if p.RiseCount <= 0 {
		return 2
	}
	return p.RiseCount
}

// Manager handles configuration loading, validation, and hot-reload.
type Manager struct {
	viper      *viper.Viper
	configPath string
	current    *Config
	mu         sync.RWMutex
	onChange   chan struct{}
	onReload   func(error)
	logger     *zap.Logger
}

// NewManager creates a config Manager, loads and validates the initial configuration.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	viperInstance := newViper()
	viperInstance.SetConfigFile(configPath)

	manager := &Manager{
		viper:      viperInstance,
		configPath: configPath,
		onChange:   make(chan struct{}, 1),
		logger:     logger,
	}

	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	manager.current = cfg

	return manager, nil
}

// newViper returns a viper instance carrying defaults and environment overrides.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("global.log_level", "info")
	v.SetDefault("global.resync_interval", "5m")
	v.SetDefault("global.metrics_addr", "")
	v.SetDefault("freebox.url", freebox.DefaultHost)
	v.SetDefault("freebox.port", freebox.DefaultPort)
	v.SetDefault("freebox.app_id", freebox.DefaultAppID)
	v.SetDefault("freebox.app_token", "")
	v.SetDefault("freebox.ca_file", "")
	v.SetDefault("freebox.insecure_skip_verify", false)
	v.SetDefault("freebox.timeout", "10s")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, unmarshals it, and validates.
func (m *Manager) Load() (*Config, error) {
	if err := m.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for correctness. All rule problems are reported together.
func Validate(cfg *Config) error {
	if err := validateFreebox(cfg.Freebox); err != nil {
		return err
	}

	if cfg.Global.ResyncInterval != "" {
		if _, err := time.ParseDuration(cfg.Global.ResyncInterval); err != nil {
			return fmt.Errorf("invalid global.resync_interval %q: %w", cfg.Global.ResyncInterval, err)
		}
	}

	if len(cfg.DHCPLeases) == 0 && len(cfg.PortForwards) == 0 {
		return fmt.Errorf("at least one dhcp lease or port forward must be defined")
	}

	var errs []error

	macSet := make(map[string]int)
	for i, lease := range cfg.DHCPLeases {
		if err := rules.ValidateAt(lease, fmt.Sprintf("dhcp_leases.%d", i)); err != nil {
			errs = append(errs, err)
			continue
		}
		mac := rules.CanonicalMAC(lease.MAC)
		if first, dup := macSet[mac]; dup {
			errs = append(errs, fmt.Errorf("dhcp_leases.%d: duplicate mac %q (first defined at dhcp_leases.%d)", i, lease.MAC, first))
			continue
		}
		macSet[mac] = i
	}

	keySet := make(map[rules.Key]int)
	for i, redir := range cfg.PortForwards {
		if err := rules.ValidateAt(redir, fmt.Sprintf("port_forwards.%d", i)); err != nil {
			errs = append(errs, err)
			continue
		}
		key := redir.Key()
		if first, dup := keySet[key]; dup {
			errs = append(errs, fmt.Errorf("port_forwards.%d: duplicate rule %s (first defined at port_forwards.%d)", i, key, first))
			continue
		}
		keySet[key] = i
	}

	return errors.Join(errs...)
}

func validateFreebox(fb FreeboxConfig) error {
	if fb.URL == "" {
		return fmt.Errorf("freebox.url is required")
	}
	if _, err := freebox.BaseURL(fb.URL, fb.Port); err != nil {
		return fmt.Errorf("freebox.url: %w", err)
	}
	if fb.Port < 1 || fb.Port > 65535 {
		return fmt.Errorf("freebox.port must be between 1 and 65535, got %d", fb.Port)
	}
	if fb.Timeout != "" {
		if _, err := time.ParseDuration(fb.Timeout); err != nil {
			return fmt.Errorf("invalid freebox.timeout %q: %w", fb.Timeout, err)
		}
	}
	if fb.Probe.IsEnabled() {
		if fb.Probe.Interval != "" {
			if _, err := time.ParseDuration(fb.Probe.Interval); err != nil {
				return fmt.Errorf("invalid freebox.probe.interval %q: %w", fb.Probe.Interval, err)
			}
		}
		if fb.Probe.Timeout != "" {
			if _, err := time.ParseDuration(fb.Probe.Timeout); err != nil {
				return fmt.Errorf("invalid freebox.probe.timeout %q: %w", fb.Probe.Timeout, err)
			}
		}
	}
	return nil
}

// SetReloadHook registers a function called after every reload attempt with its result.
// Must be called before WatchConfig.
func (m *Manager) SetReloadHook(hook func(error)) {
	m.onReload = hook
}

// WatchConfig starts watching the config file for changes.
// On change, it reloads and validates; if valid, updates current config and notifies via onChange channel.
func (m *Manager) WatchConfig() {
	m.viper.OnConfigChange(func(event fsnotify.Event) {
		m.logger.Info("config file changed", zap.String("file", event.Name))

		cfg, err := m.Load()
		if m.onReload != nil {
			m.onReload(err)
		}
		if err != nil {
			m.logger.Error("failed to reload config, keeping previous config", zap.Error(err))
			return
		}

		m.mu.Lock()
		m.current = cfg
		m.mu.Unlock()

		m.logger.Info("config reloaded",
			zap.Int("dhcp_leases", len(cfg.DHCPLeases)),
			zap.Int("port_forwards", len(cfg.PortForwards)),
		)

		select {
		case m.onChange <- struct{}{}:
		default:
		}
	})

	m.viper.WatchConfig()
}

// GetConfig returns a snapshot of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange returns a read-only channel that signals when config has changed.
func (m *Manager) OnChange() <-chan struct{} {
	return m.onChange
}
