package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flag name -> viper key
var freeboxFlagKeys = map[string]string{
	"freebox-url": "freebox.url",
	"port":        "freebox.port",
	"app-id":      "freebox.app_id",
	"app-token":   "freebox.app_token",
	"ca-file":     "freebox.ca_file",
	"insecure":    "freebox.insecure_skip_verify",
	"timeout":     "freebox.timeout",
}

// AddFreeboxFlags registers the device connection flags on flags.
func AddFreeboxFlags(flags *pflag.FlagSet) {
	flags.String("freebox-url", freebox.DefaultHost, "Freebox host name or URL")
	flags.Int("port", freebox.DefaultPort, "Freebox management API port")
	flags.String("app-id", freebox.DefaultAppID, "application id the token was issued to")
	flags.String("app-token", "", "application token (prefer "+EnvPrefix+"_FREEBOX_APP_TOKEN)")
	flags.String("ca-file", "", "PEM file with the CA that signed the device certificate")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("timeout", "10s", "per-request timeout")
}

// BindFreeboxFlags binds the flags registered by AddFreeboxFlags onto the freebox.* keys of v.
func BindFreeboxFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range freeboxFlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadFreebox resolves the freebox section alone, for commands that do not reconcile
// the configured rule lists. Precedence: flags, environment, config file, defaults.
// A missing config file is not an error.
func LoadFreebox(configPath string, flags *pflag.FlagSet) (*FreeboxConfig, error) {
	v := newViper()
	if flags != nil {
		if err := BindFreeboxFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the whole tree so that environment and flag overrides of
	// nested keys are applied.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateFreebox(cfg.Freebox); err != nil {
		return nil, err
	}
	return &cfg.Freebox, nil
}
