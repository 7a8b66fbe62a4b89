package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/internal/app"
	"github.com/lteinsight/emmkpi/kpi"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/spf13/cobra"
)

// analyze command flags
var (
	analyzeConfigPath string
	analyzeFilter     string
	analyzeStore      bool
	analyzeNoStore    bool
	analyzeOutput     string
	analyzeQuiet      bool
	analyzeEvidence   string
	analyzeForce      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <log>...",
	Short: "Analyze signaling logs for EMM procedure failures",
	Long: `Replay one or more decoded signaling logs through the diagnosis engine,
classify procedure failures and write the results to a store next to
each log.

Failure events stream to stdout as JSON lines while the analysis runs.`,
	Example: `  emmkpi analyze ue.jsonl
  emmkpi analyze ue.jsonl --output failures.jsonl
  emmkpi analyze ue.jsonl -Y 'emm.type >= 65' --no-store
  emmkpi analyze enb1.pdml enb2.pdml -q
  emmkpi analyze ue.jsonl --evidence-pcap ue.pcapng`,
	GroupID: "analysis",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeConfigPath, "config", "",
		"Engine configuration file (YAML)")
	analyzeCmd.Flags().StringVarP(&analyzeFilter, "filter", "Y", "",
		"Display filter expression")
	analyzeCmd.Flags().BoolVar(&analyzeStore, "store", true,
		"Write the analysis store next to the log")
	analyzeCmd.Flags().BoolVar(&analyzeNoStore, "no-store", false,
		"Run the engine without writing a store")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "",
		"Write failure events as JSON lines to file")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false,
		"Suppress the failure event stream and progress output")
	analyzeCmd.Flags().StringVar(&analyzeEvidence, "evidence-pcap", "",
		"Write analyzed messages as GSMTAP pcapng to file")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false,
		"Rerun the analysis even when stored results are current")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeEvidence != "" && len(args) > 1 {
		return fmt.Errorf("--evidence-pcap requires a single log")
	}

	diagCfg, err := app.LoadDiagConfig(analyzeConfigPath)
	if err != nil {
		return err
	}

	filterFunc, err := app.CompileDisplayFilter(analyzeFilter)
	if err != nil {
		return fmt.Errorf("error compiling display filter: %w", err)
	}

	// Failure events go to stdout unless silenced, and to --output when set
	var emitters []kpi.Emitter
	if !analyzeQuiet {
		emitters = append(emitters, kpi.NewWriterEmitter(os.Stdout))
	}
	if analyzeOutput != "" {
		fileEmitter, err := kpi.NewFileEmitter(analyzeOutput)
		if err != nil {
			return err
		}
		emitters = append(emitters, fileEmitter)
	}
	emitter := kpi.NewMultiEmitter(emitters...)
	defer emitter.Close()

	for _, logPath := range args {
		if err := analyzeOne(logPath, diagCfg, filterFunc, emitter); err != nil {
			return fmt.Errorf("%s: %w", logPath, err)
		}
	}
	return nil
}

// analyzeOne runs the analysis flow for a single log.
func analyzeOne(logPath string, diagCfg *diag.Config, filterFunc func(*nas.Message) bool, emitter kpi.Emitter) error {
	cfg := app.AnalyzeConfig{
		LogPath:      logPath,
		Diag:         diagCfg,
		Filter:       filterFunc,
		Store:        analyzeStore && !analyzeNoStore,
		Force:        analyzeForce,
		Emitter:      emitter,
		EvidencePcap: analyzeEvidence,
	}
	if !analyzeQuiet {
		cfg.Progress = func(processed, total int, elapsed time.Duration) {
			fmt.Fprintf(os.Stderr, "\rProcessed %d messages (%.1f msg/s)", processed, float64(processed)/elapsed.Seconds())
		}
	}

	result, err := app.RunAnalyze(cfg)
	if err != nil {
		return err
	}
	if analyzeQuiet {
		return nil
	}

	if result.Reused {
		fmt.Fprintf(os.Stderr, "\r%s: reusing stored analysis, %d messages, %d failures (use --force to rerun)\n",
			logPath, result.Messages, result.Failures)
		return nil
	}
	fmt.Fprintf(os.Stderr, "\r%s: %d messages, %d failures, %d unfinished in %v\n",
		logPath, result.Messages, result.Failures, result.Incomplete, result.Duration.Round(time.Millisecond))
	if result.Evidence > 0 {
		fmt.Fprintf(os.Stderr, "Wrote %d evidence messages to %s\n", result.Evidence, analyzeEvidence)
	}
	return nil
}
