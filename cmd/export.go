package cmd

import (
	"fmt"
	"os"

	"github.com/lteinsight/emmkpi/export"
	"github.com/lteinsight/emmkpi/internal/app"
	"github.com/spf13/cobra"
)

// export command flags
var (
	exportFormat    string
	exportOutput    string
	exportCount     int
	exportFieldList []string
	exportWindowN   int
	exportProcedure string
	exportCategory  string
	exportEvidence  string
	exportQuiet     bool
)

var exportCmd = &cobra.Command{
	Use:   "export <log>",
	Short: "Export failures and evidence",
	Long: `Export classified failures from the analysis store. The log is
analyzed first when the store is missing or stale.`,
	Example: `  emmkpi export ue.jsonl
  emmkpi export ue.jsonl -f json -o failures.json
  emmkpi export ue.jsonl -w 5 --evidence-pcap evidence.pcapng
  emmkpi export ue.jsonl -f fields -e kpi -e emm.cause
  emmkpi export ue.jsonl --category TIMEOUT -c 10`,
	GroupID: "analysis",
	Args:    cobra.ExactArgs(1),
	RunE:    runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "jsonl",
		"Output format: jsonl, json, text, fields")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"Output file (default: stdout)")
	exportCmd.Flags().IntVarP(&exportCount, "count", "c", 0,
		"Stop after n failures (0 = unlimited)")
	exportCmd.Flags().StringArrayVarP(&exportFieldList, "field", "e", nil,
		"Field to extract (can be specified multiple times)")
	exportCmd.Flags().IntVarP(&exportWindowN, "window", "w", 0,
		"Messages of context around each failure")
	exportCmd.Flags().StringVar(&exportProcedure, "procedure", "",
		"Only failures of this procedure")
	exportCmd.Flags().StringVar(&exportCategory, "category", "",
		"Only failures of this category")
	exportCmd.Flags().StringVar(&exportEvidence, "evidence-pcap", "",
		"Write evidence messages as GSMTAP pcapng to file")
	exportCmd.Flags().BoolVarP(&exportQuiet, "quiet", "q", false,
		"Suppress progress output")
}

func runExport(cmd *cobra.Command, args []string) error {
	logPath := args[0]

	var format export.OutputFormat
	switch exportFormat {
	case "jsonl":
		format = export.FormatJSONL
	case "json":
		format = export.FormatJSON
	case "text":
		format = export.FormatText
	case "fields":
		format = export.FormatFields
		if err := app.ValidateFields(exportFieldList); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}

	var out *os.File
	if exportOutput == "" || exportOutput == "-" {
		out = os.Stdout
	} else {
		var err error
		out, err = os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	}

	return app.RunExport(out, app.ExportConfig{
		LogPath:      logPath,
		Format:       format,
		MaxCount:     exportCount,
		Fields:       exportFieldList,
		Window:       exportWindowN,
		Procedure:    exportProcedure,
		Category:     exportCategory,
		EvidencePcap: exportEvidence,
		Quiet:        exportQuiet,
	})
}
