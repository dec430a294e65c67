package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lkaminski/tailview/pkg/tailscale"
)

var statusFormat string

// statusOutput is the snapshot shape for JSON/YAML output.
type statusOutput struct {
	BackendState string         `json:"backendState" yaml:"backendState"`
	Connected    bool           `json:"connected" yaml:"connected"`
	Self         *deviceOutput  `json:"self,omitempty" yaml:"self,omitempty"`
	Peers        []deviceOutput `json:"peers" yaml:"peers"`
	ExitNode     string         `json:"exitNode,omitempty" yaml:"exitNode,omitempty"`
}

// deviceOutput is one device row for JSON/YAML output.
type deviceOutput struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	OS             string   `json:"os,omitempty" yaml:"os,omitempty"`
	Online         bool     `json:"online" yaml:"online"`
	Addresses      []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	ExitNodeOption bool     `json:"exitNodeOption" yaml:"exitNodeOption"`
	ActiveExitNode bool     `json:"activeExitNode" yaml:"activeExitNode"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tailnet status",
	Long: `Display the backend state, the local device, and every peer in the
tailnet, including which peers can serve as exit nodes and which one
is currently active.`,
	Example: `  # Show status as a table
  tailview status

  # JSON output
  tailview status --format json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "Output format: table|json|yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFormat != "table" && statusFormat != "json" && statusFormat != "yaml" {
		return fmt.Errorf("invalid output format: %s (must be table, json, or yaml)", statusFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, available, err := newClient(cfg)
	if err != nil {
		return err
	}
	if !available {
		// Binary missing: status degrades to unknown instead of failing.
		if statusFormat == "table" {
			color.Yellow("tailscale binary not found - status unknown")
			return nil
		}
		return printFormatted(statusOutput{BackendState: "Unknown"}, statusFormat)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Fetching tailnet status..."
	if statusFormat == "table" {
		s.Start()
	}

	snap, err := client.Status(cmd.Context())
	s.Stop()
	if err != nil {
		return describeStatusError(err)
	}

	out := snapshotOutput(snap)
	if statusFormat != "table" {
		return printFormatted(out, statusFormat)
	}

	printStatusTable(snap)
	return nil
}

func snapshotOutput(snap *tailscale.Snapshot) statusOutput {
	out := statusOutput{
		BackendState: string(snap.BackendState),
		Connected:    snap.Connected(),
		Peers:        []deviceOutput{},
	}
	if snap.Self != nil {
		d := deviceOut(snap.Self)
		out.Self = &d
	}
	for i := range snap.Peers {
		out.Peers = append(out.Peers, deviceOut(&snap.Peers[i]))
	}
	if active := snap.ActiveExitNode(); active != nil {
		out.ExitNode = active.DisplayName
	}
	return out
}

func deviceOut(d *tailscale.Device) deviceOutput {
	return deviceOutput{
		ID:             d.ID,
		Name:           d.DisplayName,
		OS:             d.OS,
		Online:         d.Online,
		Addresses:      d.Addresses(),
		ExitNodeOption: d.ExitNodeOption,
		ActiveExitNode: d.ActiveExitNode,
	}
}

func printStatusTable(snap *tailscale.Snapshot) {
	bold := color.New(color.Bold)

	stateColor := color.New(color.FgRed)
	if snap.BackendState == tailscale.StateRunning {
		stateColor = color.New(color.FgGreen)
	} else if snap.BackendState == tailscale.StateStarting {
		stateColor = color.New(color.FgYellow)
	}
	bold.Print("Backend: ")
	stateColor.Println(string(snap.BackendState))

	if snap.Self != nil {
		bold.Print("This device: ")
		fmt.Printf("%s (%s)\n", snap.Self.DisplayName, strings.Join(snap.Self.Addresses(), ", "))
	}
	if active := snap.ActiveExitNode(); active != nil {
		bold.Print("Exit node: ")
		color.Green("%s", active.DisplayName)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOS\tONLINE\tEXIT NODE\tADDRESSES")
	for i := range snap.Peers {
		p := &snap.Peers[i]
		exitMark := ""
		if p.ActiveExitNode {
			exitMark = "active"
		} else if p.ExitNodeOption {
			exitMark = "available"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			p.DisplayName, p.OS, p.Online, exitMark, strings.Join(p.Addresses(), ", "))
	}
	w.Flush()
}

func printFormatted(v interface{}, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	}
	return nil
}

// describeStatusError adds a hint for the common failure classes so
// the raw taxonomy error is still actionable at the terminal.
func describeStatusError(err error) error {
	var malformed *tailscale.MalformedStatusError
	if errors.As(err, &malformed) {
		return fmt.Errorf("%w (is tailscaled running?)", err)
	}
	var timeout *tailscale.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Errorf("%w (the daemon may be unresponsive)", err)
	}
	return err
}
