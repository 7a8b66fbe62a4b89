// Package cmd provides the CLI commands for emmkpi using Cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "emmkpi",
	Short: "EMM procedure failure diagnosis for LTE signaling logs",
	Long: `emmkpi replays decoded NAS signaling logs through a failure diagnosis
engine and turns procedure aborts into retainability KPI events:

  - JSONL and PDML (tshark -T pdml) signaling logs
  - Seven EMM procedures, from Identification to Tracking Area Update
  - Failure classification into a fixed category taxonomy
  - SQLite analysis store with markdown and JSON reports
  - Evidence export as JSONL or GSMTAP pcapng for Wireshark

Examples:
  emmkpi analyze ue.jsonl                     # Analyze a signaling log
  emmkpi report ue.jsonl                      # Markdown report
  emmkpi stats procedures -r ue.jsonl         # Per-procedure counts
  emmkpi export ue.jsonl -o failures.jsonl    # Failure evidence
  emmkpi kpis                                 # List supported KPIs`,
	Version: Version,
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the emmkpi version",
	GroupID: "info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("emmkpi %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(kpisCmd)
	rootCmd.AddCommand(versionCmd)
}
