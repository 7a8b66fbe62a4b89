// Package app provides application-level orchestration for emmkpi.
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/export"
	"github.com/lteinsight/emmkpi/filter"
	"github.com/lteinsight/emmkpi/kpi"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/lteinsight/emmkpi/pkg/ingest"
	"github.com/lteinsight/emmkpi/replay"
)

// AnalyzeConfig holds unified analysis configuration.
type AnalyzeConfig struct {
	LogPath      string
	Diag         *diag.Config            // nil selects the defaults
	Filter       func(*nas.Message) bool // nil keeps everything
	Store        bool                    // write the analysis store next to the log
	Force        bool                    // rerun even when stored results are current
	Emitter      kpi.Emitter             // receives failure events, optional
	EvidencePcap string                  // write analyzed messages as GSMTAP pcapng
	Progress     func(processed, total int, elapsed time.Duration)
}

// AnalyzeResult holds the result of RunAnalyze.
type AnalyzeResult struct {
	RunID      string
	StorePath  string
	Messages   int
	Skipped    int
	Failures   int
	Incomplete int
	Duration   time.Duration
	Evidence   int // messages written to the evidence pcap

	// Reused reports that the store already held a current analysis. No
	// events reach the emitter on a reused run.
	Reused bool
}

// RunAnalyze executes the analysis flow: decode -> filter -> diagnose,
// with results written to the store or kept in memory.
func RunAnalyze(cfg AnalyzeConfig) (*AnalyzeResult, error) {
	if cfg.Store {
		return analyzeStored(cfg)
	}
	return analyzeInMemory(cfg)
}

// analyzeStored runs the full ingest pipeline against the store.
func analyzeStored(cfg AnalyzeConfig) (*AnalyzeResult, error) {
	pipeline := ingest.New(ingest.Config{
		LogPath:          cfg.LogPath,
		Diag:             cfg.Diag,
		Emitter:          cfg.Emitter,
		Filter:           cfg.Filter,
		Force:            cfg.Force,
		ProgressCallback: cfg.Progress,
	})

	res, err := pipeline.Run()
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{
		RunID:      res.RunID,
		StorePath:  res.StorePath,
		Messages:   res.Messages,
		Failures:   res.Failures,
		Incomplete: res.Incomplete,
		Duration:   res.Duration,
		Reused:     res.Reused,
	}
	if res.Summary != nil {
		result.Skipped = res.Summary.Skipped
	}

	if err := writeEvidence(cfg, result, nil); err != nil {
		return result, err
	}
	return result, nil
}

// analyzeInMemory runs the engine without touching the store.
func analyzeInMemory(cfg AnalyzeConfig) (*AnalyzeResult, error) {
	start := time.Now()

	msgs, err := replay.Load(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}

	engine := diag.NewEngine(cfg.Diag, kpi.NewMultiEmitter(cfg.Emitter))
	for _, msg := range msgs {
		if cfg.Filter != nil && !cfg.Filter(msg) {
			continue
		}
		if _, err := engine.Feed(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", msg.Index, err)
		}
		if cfg.Progress != nil && msg.Index%1000 == 0 {
			cfg.Progress(msg.Index, len(msgs), time.Since(start))
		}
	}
	summary := engine.Finish()

	result := &AnalyzeResult{
		Messages:   summary.Messages,
		Skipped:    summary.Skipped,
		Failures:   summary.Failures,
		Incomplete: len(summary.Incomplete),
		Duration:   time.Since(start),
	}

	if err := writeEvidence(cfg, result, msgs); err != nil {
		return result, err
	}
	return result, nil
}

// writeEvidence saves the analyzed messages as a GSMTAP pcapng file.
// msgs may be nil when the caller has no decoded messages at hand.
func writeEvidence(cfg AnalyzeConfig, result *AnalyzeResult, msgs []*nas.Message) error {
	if cfg.EvidencePcap == "" {
		return nil
	}

	if msgs == nil {
		var err error
		msgs, err = replay.Load(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("load log: %w", err)
		}
	}
	if cfg.Filter != nil {
		kept := make([]*nas.Message, 0, len(msgs))
		for _, m := range msgs {
			if cfg.Filter(m) {
				kept = append(kept, m)
			}
		}
		msgs = kept
	}

	n, err := export.SaveMessages(cfg.EvidencePcap, msgs)
	if err != nil {
		return fmt.Errorf("write evidence pcap: %w", err)
	}
	result.Evidence = n
	return nil
}

// EnsureAnalyzed runs the analysis when the store next to the log is
// missing or stale. Progress goes to stderr unless quiet is set.
func EnsureAnalyzed(logPath string, diagCfg *diag.Config, quiet bool) error {
	needsRun, err := ingest.NeedsReanalysis(logPath)
	if err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	if !needsRun {
		return nil
	}

	var progress func(processed, total int, elapsed time.Duration)
	if !quiet {
		fmt.Fprintf(os.Stderr, "Analyzing %s...\n", logPath)
		progress = func(processed, total int, elapsed time.Duration) {
			fmt.Fprintf(os.Stderr, "\rProcessed %d messages (%.1f msg/s)", processed, float64(processed)/elapsed.Seconds())
		}
	}

	result, err := ingest.AnalyzeFile(logPath, diagCfg, progress)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", logPath, err)
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "\nAnalyzed %d messages, %d failures in %v\n",
			result.Messages, result.Failures, result.Duration.Round(time.Millisecond))
	}
	return nil
}

// LoadDiagConfig reads the engine configuration, falling back to the
// defaults when no path is given.
func LoadDiagConfig(path string) (*diag.Config, error) {
	if path == "" {
		return diag.DefaultConfig(), nil
	}
	return diag.LoadConfig(path)
}

// CompileDisplayFilter compiles a display filter expression.
// Returns nil filter function if filterStr is empty.
func CompileDisplayFilter(filterStr string) (func(*nas.Message) bool, error) {
	if filterStr == "" {
		return nil, nil
	}
	return filter.Compile(filterStr)
}
