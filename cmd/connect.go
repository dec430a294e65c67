package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lkaminski/tailview/internal/audit"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Connect to the tailnet",
	Long: `Start the tailscale backend. Issuing up while already connected is a
no-op at the tool level.`,
	RunE: runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Disconnect from the tailnet",
	RunE:  runDown,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	return runToggle(cmd, audit.ActionUp)
}

func runDown(cmd *cobra.Command, args []string) error {
	return runToggle(cmd, audit.ActionDown)
}

func runToggle(cmd *cobra.Command, action audit.Action) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := requireClient(cfg)
	if err != nil {
		return err
	}
	logger, err := newAuditLogger(cfg)
	if err != nil {
		return err
	}

	started := time.Now()
	if action == audit.ActionUp {
		err = client.Up(cmd.Context())
	} else {
		err = client.Down(cmd.Context())
	}
	if recErr := logger.Record(action, "", time.Since(started), err); recErr != nil && verbose {
		color.Yellow("warning: could not record history: %v", recErr)
	}
	if err != nil {
		return err
	}

	if action == audit.ActionUp {
		color.Green("✓ Connected")
	} else {
		color.Yellow("Disconnected")
	}
	return nil
}
