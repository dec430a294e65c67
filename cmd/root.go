package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkaminski/tailview/internal/audit"
	"github.com/lkaminski/tailview/pkg/config"
	"github.com/lkaminski/tailview/pkg/ipinfo"
	"github.com/lkaminski/tailview/pkg/tailscale"
)

var (
	cfgFile string
	verbose bool

	// Version information - set by main.go
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersionInfo sets the version information from main.go
func SetVersionInfo(version, commit, date string) {
	Version = version
	Commit = commit
	Date = date
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tailview",
	Short: "Tailscale status, exit-node control, and public IP lookup",
	Long: `Tailview drives the tailscale CLI to show tailnet status, toggle the
connection, and select exit nodes, and resolves the device's public IP
and geolocation through a chain of fallback providers with a local
cache.

When the tailscale binary is missing, control commands fail fast and
status display degrades to "unknown"; IP lookup keeps working.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ~/.config/tailview/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.SetVersionTemplate(fmt.Sprintf(`Tailview %s
  Commit: %s
  Built:  %s
`, Version, Commit, Date))
	rootCmd.Version = Version
}

// loadConfig reads the active configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	return config.NewLoader(cfgFile).Load()
}

// newClient builds the tailscale client from config. The bool reports
// availability: when the binary is absent the returned client is nil
// and callers must stay in read-only mode.
func newClient(cfg *config.Config) (*tailscale.Client, bool, error) {
	client, err := tailscale.NewClient(tailscale.Options{
		Executable:       cfg.Tailscale.Executable,
		ElevateCommand:   cfg.Tailscale.ElevateCommand,
		Timeout:          cfg.Tailscale.CommandTimeout.Duration,
		DisableElevation: cfg.Tailscale.DisableElevation,
	})
	if errors.Is(err, tailscale.ErrToolUnavailable) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}

// requireClient is newClient for control commands: a missing binary is
// an immediate error instead of a degraded mode.
func requireClient(cfg *config.Config) (*tailscale.Client, error) {
	client, available, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, tailscale.ErrToolUnavailable
	}
	return client, nil
}

// newFetcher builds the public IP fetcher from config.
func newFetcher(cfg *config.Config) (*ipinfo.Fetcher, error) {
	providers, err := ipinfo.ProvidersByName(cfg.IPInfo.Providers)
	if err != nil {
		return nil, err
	}
	return ipinfo.NewFetcher(ipinfo.FetcherOptions{
		Providers:       providers,
		TTL:             cfg.IPInfo.CacheTTL.Duration,
		ProviderTimeout: cfg.IPInfo.ProviderTimeout.Duration,
	}), nil
}

// newAuditLogger opens the control-operation history.
func newAuditLogger(cfg *config.Config) (*audit.Logger, error) {
	return audit.NewLogger(cfg.HistoryFile, 500)
}
