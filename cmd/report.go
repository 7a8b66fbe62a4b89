package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lteinsight/emmkpi/internal/report"
	"github.com/lteinsight/emmkpi/pkg/ingest"
	"github.com/lteinsight/emmkpi/pkg/query"
	"github.com/lteinsight/emmkpi/pkg/store/sqlite"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:     "report <log>",
	Short:   "Generate analysis report from a signaling log",
	Long:    `Generate a Markdown analysis report from an analyzed signaling log.`,
	GroupID: "analysis",
	Args:    cobra.ExactArgs(1),
	RunE:    runReport,
}

var (
	reportFormat string
	reportOutput string
)

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "markdown", "Output format: markdown, html, json")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default: stdout)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	logPath := args[0]

	// Check if the log exists
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", logPath)
	}

	// Check if it needs analysis
	needsRun, err := ingest.NeedsReanalysis(logPath)
	if err != nil {
		return fmt.Errorf("check store: %w", err)
	}

	if needsRun {
		fmt.Fprintf(os.Stderr, "Analyzing %s...\n", logPath)
		result, err := ingest.AnalyzeFile(logPath, nil, func(processed, total int, elapsed time.Duration) {
			fmt.Fprintf(os.Stderr, "\rProcessed %d messages (%.1f msg/s)", processed, float64(processed)/elapsed.Seconds())
		})
		if err != nil {
			return fmt.Errorf("analyze file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "\nAnalyzed %d messages, %d failures in %v\n", result.Messages, result.Failures, result.Duration.Round(time.Millisecond))
	}

	// Open query engine
	store, err := sqlite.NewFromLog(logPath, true)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	engine := query.NewSQLiteEngine(store, logPath)
	ctx := context.Background()

	// Generate report
	data, err := report.Generate(ctx, engine)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	// Output
	var out *os.File
	if reportOutput == "" || reportOutput == "-" {
		out = os.Stdout
	} else {
		out, err = os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	}

	switch reportFormat {
	case "markdown", "md":
		return report.WriteMarkdown(out, data)
	case "json":
		return report.WriteJSON(out, data)
	case "html":
		return fmt.Errorf("HTML format not yet implemented")
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}
