package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent control operations",
	Long:  `Display the recorded connection toggles and exit-node changes, newest first.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newAuditLogger(cfg)
	if err != nil {
		return err
	}

	events := logger.Recent(historyLimit)
	if len(events) == 0 {
		color.Yellow("No recorded operations")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tTARGET\tRESULT\tDURATION")
	for _, e := range events {
		result := "ok"
		if !e.Success {
			result = "failed: " + e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Action, e.Target, result, e.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}
