package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lkaminski/tailview/pkg/ipinfo"
)

var (
	ipRefresh bool
	ipFormat  string
)

var ipCmd = &cobra.Command{
	Use:   "ip",
	Short: "Show the device's public IP and geolocation",
	Long: `Resolve the public IP, organization, ASN, and location through a chain
of fallback providers. Results are cached; --refresh bypasses the
cache. When every provider fails, the last cached result is shown
marked stale.`,
	Example: `  # Cached lookup
  tailview ip

  # Force a fresh lookup
  tailview ip --refresh`,
	RunE: runIP,
}

func init() {
	rootCmd.AddCommand(ipCmd)
	ipCmd.Flags().BoolVar(&ipRefresh, "refresh", false, "Bypass the cache")
	ipCmd.Flags().StringVar(&ipFormat, "format", "table", "Output format: table|json|yaml")
}

func runIP(cmd *cobra.Command, args []string) error {
	if ipFormat != "table" && ipFormat != "json" && ipFormat != "yaml" {
		return fmt.Errorf("invalid output format: %s (must be table, json, or yaml)", ipFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Resolving public IP..."
	if ipFormat == "table" {
		s.Start()
	}

	info, err := fetcher.Fetch(cmd.Context(), ipRefresh)
	s.Stop()
	if err != nil {
		return err
	}

	if ipFormat != "table" {
		return printFormatted(info, ipFormat)
	}
	printIPInfo(info)
	return nil
}

func printIPInfo(info *ipinfo.Info) {
	bold := color.New(color.Bold)

	bold.Print("Public IP: ")
	fmt.Println(info.IP)
	if info.Org != "" {
		bold.Print("Org:       ")
		fmt.Println(info.Org)
	}
	if info.ASN != "" {
		bold.Print("ASN:       ")
		fmt.Println(info.ASN)
	}
	if info.City != "" || info.Country != "" {
		bold.Print("Location:  ")
		switch {
		case info.City != "" && info.Country != "":
			fmt.Printf("%s, %s\n", info.City, info.Country)
		case info.City != "":
			fmt.Println(info.City)
		default:
			fmt.Println(info.Country)
		}
	}
	bold.Print("Source:    ")
	fmt.Printf("%s at %s\n", info.Provider, info.FetchedAt.Local().Format(time.RFC3339))
	if info.Stale {
		color.Yellow("(stale: all providers failed on the last refresh)")
	}
}
