package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lkaminski/tailview/internal/audit"
	"github.com/lkaminski/tailview/pkg/tailscale"
)

var exitNodeCmd = &cobra.Command{
	Use:   "exit-node",
	Short: "Manage the exit node",
	Long:  `List exit-node candidates and route traffic through one of them.`,
}

var exitNodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exit-node candidates",
	Example: `  # Show peers that can carry egress traffic
  tailview exit-node list`,
	RunE: runExitNodeList,
}

var exitNodeSetCmd = &cobra.Command{
	Use:   "set <alias>",
	Short: "Route traffic through an exit node",
	Long: `Resolve the alias against candidate names and identifiers (exact match
first, then case-insensitive) and enable that peer as the exit node.
An alias matching zero or several candidates is an error and nothing
is changed.`,
	Example: `  # Route all traffic through the peer named "berlin"
  tailview exit-node set berlin`,
	Args: cobra.ExactArgs(1),
	RunE: runExitNodeSet,
}

var exitNodeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Stop using an exit node",
	RunE:  runExitNodeClear,
}

func init() {
	rootCmd.AddCommand(exitNodeCmd)
	exitNodeCmd.AddCommand(exitNodeListCmd)
	exitNodeCmd.AddCommand(exitNodeSetCmd)
	exitNodeCmd.AddCommand(exitNodeClearCmd)
}

func runExitNodeList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := requireClient(cfg)
	if err != nil {
		return err
	}
	snap, err := client.Status(cmd.Context())
	if err != nil {
		return describeStatusError(err)
	}

	controller := tailscale.NewExitNodeController(client)
	candidates := controller.Candidates(snap)
	if len(candidates) == 0 {
		color.Yellow("No exit-node candidates in this tailnet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tOS\tONLINE\tACTIVE\tADDRESSES")
	for _, c := range candidates {
		active := ""
		if c.ActiveExitNode {
			active = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
			c.DisplayName, c.ID, c.OS, c.Online, active, strings.Join(c.Addresses(), ", "))
	}
	return w.Flush()
}

func runExitNodeSet(cmd *cobra.Command, args []string) error {
	return applyExitNode(cmd, args[0], true)
}

func runExitNodeClear(cmd *cobra.Command, args []string) error {
	return applyExitNode(cmd, "", false)
}

func applyExitNode(cmd *cobra.Command, alias string, enabled bool) error {
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

	snap, err := client.Status(cmd.Context())
	if err != nil {
		return describeStatusError(err)
	}

	controller := tailscale.NewExitNodeController(client)
	action := audit.ActionExitNodeSet
	if !enabled {
		action = audit.ActionExitNodeClear
	}

	started := time.Now()
	err = controller.Apply(cmd.Context(), snap, alias, enabled)
	if recErr := logger.Record(action, alias, time.Since(started), err); recErr != nil && verbose {
		color.Yellow("warning: could not record history: %v", recErr)
	}
	if err != nil {
		return err
	}

	if enabled {
		color.Green("✓ Exit node set to %s", alias)
	} else {
		color.Yellow("Exit node cleared")
	}
	return nil
}
