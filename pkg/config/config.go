// Package config loads and validates tailview configuration from YAML,
// with environment variable overrides layered on top of file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use the "10s"
// syntax instead of raw nanosecond integers.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config holds all runtime settings. Zero values are filled with
// defaults by the Loader, so a missing config file is not an error.
type Config struct {
	// Tailscale configures the CLI integration.
	Tailscale TailscaleConfig `yaml:"tailscale"`

	// IPInfo configures the public-IP lookup.
	IPInfo IPInfoConfig `yaml:"ipinfo"`

	// Poll configures the refresh loop.
	Poll PollConfig `yaml:"poll"`

	// HistoryFile is where control-operation audit events are kept.
	HistoryFile string `yaml:"history_file"`
}

// TailscaleConfig configures how the external tool is invoked.
type TailscaleConfig struct {
	// Executable is the binary name or absolute path. Default "tailscale".
	Executable string `yaml:"executable"`

	// ElevateCommand is the privilege-escalation wrapper for the
	// single permission retry. Default ["sudo"].
	ElevateCommand []string `yaml:"elevate_command"`

	// CommandTimeout bounds each invocation. Default 15s.
	CommandTimeout Duration `yaml:"command_timeout"`

	// DisableElevation turns off the elevated retry.
	DisableElevation bool `yaml:"disable_elevation"`
}

// IPInfoConfig configures the provider chain and cache.
type IPInfoConfig struct {
	// Providers is the fixed priority order. Default: ipinfo.io,
	// ipapi.co, ifconfig.co.
	Providers []string `yaml:"providers"`

	// CacheTTL is how long a successful lookup is served from cache.
	// Default 5m.
	CacheTTL Duration `yaml:"cache_ttl"`

	// ProviderTimeout bounds each provider attempt. Default 5s.
	ProviderTimeout Duration `yaml:"provider_timeout"`
}

// PollConfig configures the orchestrator.
type PollConfig struct {
	// Interval between automatic polls. Default 10s.
	Interval Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Tailscale: TailscaleConfig{
			Executable:     "tailscale",
			ElevateCommand: []string{"sudo"},
			CommandTimeout: Duration{15 * time.Second},
		},
		IPInfo: IPInfoConfig{
			Providers:       []string{"ipinfo.io", "ipapi.co", "ifconfig.co"},
			CacheTTL:        Duration{5 * time.Minute},
			ProviderTimeout: Duration{5 * time.Second},
		},
		Poll: PollConfig{
			Interval: Duration{10 * time.Second},
		},
		HistoryFile: defaultHistoryPath(),
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tailview", "config.yaml")
	}
	return "config.yaml"
}

func defaultHistoryPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tailview", "history.jsonl")
	}
	return "history.jsonl"
}

// Loader handles configuration loading and validation.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given path. An empty path selects
// the default location.
func NewLoader(configPath string) *Loader {
	if configPath == "" {
		configPath = DefaultPath()
	}
	return &Loader{configPath: configPath}
}

// Load reads the config file when it exists, layers environment
// overrides on top, fills defaults for anything unset, and validates
// the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(l.configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration %s: %w", l.configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	l.applyEnvironmentOverrides(cfg)
	fillDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides lets TAILVIEW_* variables win over file
// values.
func (l *Loader) applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("TAILVIEW_TAILSCALE_BIN"); v != "" {
		cfg.Tailscale.Executable = v
	}
	if v := os.Getenv("TAILVIEW_ELEVATE_COMMAND"); v != "" {
		cfg.Tailscale.ElevateCommand = strings.Fields(v)
	}
	if v := os.Getenv("TAILVIEW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poll.Interval = Duration{d}
		}
	}
	if v := os.Getenv("TAILVIEW_IPINFO_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IPInfo.CacheTTL = Duration{d}
		}
	}
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Tailscale.Executable == "" {
		cfg.Tailscale.Executable = def.Tailscale.Executable
	}
	if len(cfg.Tailscale.ElevateCommand) == 0 {
		cfg.Tailscale.ElevateCommand = def.Tailscale.ElevateCommand
	}
	if cfg.Tailscale.CommandTimeout.Duration <= 0 {
		cfg.Tailscale.CommandTimeout = def.Tailscale.CommandTimeout
	}
	if len(cfg.IPInfo.Providers) == 0 {
		cfg.IPInfo.Providers = def.IPInfo.Providers
	}
	if cfg.IPInfo.CacheTTL.Duration <= 0 {
		cfg.IPInfo.CacheTTL = def.IPInfo.CacheTTL
	}
	if cfg.IPInfo.ProviderTimeout.Duration <= 0 {
		cfg.IPInfo.ProviderTimeout = def.IPInfo.ProviderTimeout
	}
	if cfg.Poll.Interval.Duration <= 0 {
		cfg.Poll.Interval = def.Poll.Interval
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = def.HistoryFile
	}
}

func validate(cfg *Config) error {
	if cfg.Poll.Interval.Duration < time.Second {
		return fmt.Errorf("poll interval %s is below the 1s minimum", cfg.Poll.Interval)
	}
	if cfg.IPInfo.ProviderTimeout.Duration > cfg.IPInfo.CacheTTL.Duration {
		return fmt.Errorf("provider timeout %s exceeds cache TTL %s", cfg.IPInfo.ProviderTimeout, cfg.IPInfo.CacheTTL)
	}
	return nil
}
