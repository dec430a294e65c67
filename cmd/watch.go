package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lkaminski/tailview/pkg/poller"
	"github.com/lkaminski/tailview/pkg/retry"
	"github.com/lkaminski/tailview/pkg/tailscale"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously poll and display tailnet status",
	Long: `Run the polling loop until interrupted, printing a line per completed
cycle. Failed cycles keep the last good snapshot and report the error;
repeated failures back off the polling cadence.`,
	Example: `  # Poll every 10 seconds (default)
  tailview watch

  # Poll every half minute
  tailview watch --interval 30s`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Polling interval (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, available, err := newClient(cfg)
	if err != nil {
		return err
	}
	if !available {
		return tailscale.ErrToolUnavailable
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	interval := cfg.Poll.Interval.Duration
	if watchInterval > 0 {
		interval = watchInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := poller.New(client, fetcher, interval)
	updates := orch.Subscribe()
	go orch.Run(ctx)

	backoff := retry.NewBackoff().WithInitialDelay(interval).WithMaxDelay(5 * interval)

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case u := <-updates:
			printUpdate(u)
			if u.StatusErr != nil || u.IPErr != nil {
				// Slow down while things are failing; the next manual
				// refresh still goes through immediately.
				if err := backoff.SleepContext(ctx); err == nil {
					orch.Refresh()
				}
			} else {
				backoff.Reset()
			}
		}
	}
}

func printUpdate(u poller.Update) {
	ts := u.CompletedAt.Format("15:04:05")

	if u.StatusErr != nil {
		color.Red("%s  status error: %v", ts, u.StatusErr)
	} else if u.Snapshot != nil {
		line := fmt.Sprintf("%s  %s", ts, u.Snapshot.BackendState)
		if active := u.Snapshot.ActiveExitNode(); active != nil {
			line += fmt.Sprintf("  exit-node=%s", active.DisplayName)
		}
		line += fmt.Sprintf("  peers=%d", len(u.Snapshot.Peers))
		if u.Snapshot.Connected() {
			color.Green("%s", line)
		} else {
			color.Yellow("%s", line)
		}
	}

	switch {
	case u.IPErr != nil:
		color.Red("%s  ip error: %v", ts, u.IPErr)
	case u.IPInfo != nil:
		suffix := ""
		if u.IPInfo.Stale {
			suffix = " (stale)"
		}
		fmt.Printf("%s  public-ip=%s via %s%s\n", ts, u.IPInfo.IP, u.IPInfo.Provider, suffix)
	}
}
