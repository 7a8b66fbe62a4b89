package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lteinsight/emmkpi/export"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/lteinsight/emmkpi/pkg/model"
	"github.com/lteinsight/emmkpi/pkg/query"
	"github.com/lteinsight/emmkpi/replay"
)

// ExportConfig holds export configuration.
type ExportConfig struct {
	LogPath      string
	Format       export.OutputFormat
	MaxCount     int
	Fields       []string
	Window       int    // messages of context on each side of a failure
	Procedure    string // keep only failures of this procedure
	Category     string // keep only failures of this category
	EvidencePcap string
	Quiet        bool
}

// RunExport executes the export flow: analyze if needed -> query -> export.
func RunExport(out io.Writer, cfg ExportConfig) error {
	// 1. Make sure the analysis store is current
	if err := EnsureAnalyzed(cfg.LogPath, nil, cfg.Quiet); err != nil {
		return err
	}

	// 2. Open query engine
	engine, err := query.NewFromLog(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer engine.Close()
	ctx := context.Background()

	// 3. Create exporter
	exporter := export.NewExporter(out, cfg.Format)
	exporter.SetMaxCount(cfg.MaxCount)
	exporter.SetShowWindow(cfg.Window > 0)
	if cfg.Format == export.FormatFields {
		exporter.SetFields(cfg.Fields)
	}

	if err := exporter.Start(); err != nil {
		return fmt.Errorf("error starting export: %w", err)
	}

	// 4. Process failures in stream order
	failures, err := engine.GetFailures(ctx, query.FailureFilter{
		Procedure: cfg.Procedure,
		Category:  cfg.Category,
		SortBy:    "timestamp",
		SortOrder: "asc",
	})
	if err != nil {
		return fmt.Errorf("get failures: %w", err)
	}

	var exported []*model.FailureRecord
	for _, f := range failures {
		var window []*model.MessageSummary
		if cfg.Window > 0 && f.MsgIndex > 0 {
			window, err = engine.GetMessageWindow(ctx, f.MsgIndex, cfg.Window)
			if err != nil {
				return fmt.Errorf("message window: %w", err)
			}
		}
		if err := exporter.ExportFailure(f, window); err != nil {
			return fmt.Errorf("error exporting failure: %w", err)
		}
		exported = append(exported, f)
		if exporter.ShouldStop() {
			break
		}
	}

	if err := exporter.Finish(); err != nil {
		return fmt.Errorf("error finishing export: %w", err)
	}

	// 5. Evidence pcap with the messages around each exported failure
	if cfg.EvidencePcap != "" {
		return writeFailureEvidence(cfg, exported)
	}
	return nil
}

// writeFailureEvidence re-decodes the log and writes the messages around
// each failure to a GSMTAP pcapng file.
func writeFailureEvidence(cfg ExportConfig, failures []*model.FailureRecord) error {
	msgs, err := replay.Load(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("load log: %w", err)
	}

	radius := cfg.Window
	if radius <= 0 {
		radius = 5
	}
	keep := make(map[int]bool)
	for _, f := range failures {
		if f.MsgIndex == 0 {
			continue
		}
		for i := f.MsgIndex - radius; i <= f.MsgIndex+radius; i++ {
			keep[i] = true
		}
	}

	evidence := make([]*nas.Message, 0, len(keep))
	for _, m := range msgs {
		if keep[m.Index] {
			evidence = append(evidence, m)
		}
	}
	if len(evidence) == 0 {
		return fmt.Errorf("no evidence messages to write")
	}

	n, err := export.SaveMessages(cfg.EvidencePcap, evidence)
	if err != nil {
		return fmt.Errorf("write evidence pcap: %w", err)
	}
	if !cfg.Quiet {
		fmt.Fprintf(os.Stderr, "Wrote %d evidence messages to %s\n", n, cfg.EvidencePcap)
	}
	return nil
}

// ValidateFields checks if required fields are provided for fields export.
func ValidateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one field must be specified with -e")
	}
	return nil
}
