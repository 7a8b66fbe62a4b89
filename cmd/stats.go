package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/lteinsight/emmkpi/internal/app"
	"github.com/lteinsight/emmkpi/nas"
	"github.com/lteinsight/emmkpi/replay"
	"github.com/lteinsight/emmkpi/stats"
	"github.com/spf13/cobra"
)

// stats command flags
var (
	statsInputFile     string
	statsDisplayFilter string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Signaling traffic statistics",
	Long:    `Analyze a signaling log and display traffic statistics.`,
	GroupID: "analysis",
}

var statsProceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "Show per-procedure statistics",
	Long:  `Display request, response and failure counts per EMM procedure.`,
	Example: `  emmkpi stats procedures -r ue.jsonl
  emmkpi stats procedures -r ue.jsonl -Y 'emm.type >= 65'`,
	RunE: runStatsProcedures,
}

var statsTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "Show message type statistics",
	Long:  `Display uplink and downlink counts per NAS message type.`,
	Example: `  emmkpi stats types -r ue.jsonl
  emmkpi stats types -r ue.jsonl -Y 'emm.downlink'`,
	RunE: runStatsTypes,
}

// io subcommand flags
var statsIOInterval float64

var statsIOCmd = &cobra.Command{
	Use:   "io",
	Short: "Show message rate statistics",
	Long:  `Display message rates over time.`,
	Example: `  emmkpi stats io -r ue.jsonl
  emmkpi stats io -r ue.jsonl --interval 2`,
	RunE: runStatsIO,
}

func init() {
	// Persistent flags for stats command (inherited by all subcommands)
	statsCmd.PersistentFlags().StringVarP(&statsInputFile, "read", "r", "",
		"Input signaling log (required)")
	statsCmd.PersistentFlags().StringVarP(&statsDisplayFilter, "filter", "Y", "",
		"Display filter expression")
	statsCmd.MarkPersistentFlagRequired("read")

	// io flags
	statsIOCmd.Flags().Float64Var(&statsIOInterval, "interval", 1.0,
		"Statistics interval in seconds")

	// Add subcommands
	statsCmd.AddCommand(statsProceduresCmd)
	statsCmd.AddCommand(statsTypesCmd)
	statsCmd.AddCommand(statsIOCmd)
}

// loadStatsMessages decodes the input log and compiles the display filter.
func loadStatsMessages() ([]*nas.Message, func(*nas.Message) bool, error) {
	msgs, err := replay.Load(statsInputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log: %w", err)
	}

	filterFunc, err := app.CompileDisplayFilter(statsDisplayFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("error compiling display filter: %w", err)
	}

	return msgs, filterFunc, nil
}

// runStatsProcedures shows per-procedure statistics. Failure counts come
// from a full engine pass over the log.
func runStatsProcedures(cmd *cobra.Command, args []string) error {
	msgs, filterFunc, err := loadStatsMessages()
	if err != nil {
		return err
	}

	statsMgr := stats.NewManager()
	engine := diag.NewEngine(nil, statsMgr)

	for _, msg := range msgs {
		if filterFunc != nil && !filterFunc(msg) {
			continue
		}
		statsMgr.ProcessMessage(msg)
		if _, err := engine.Feed(msg); err != nil {
			return fmt.Errorf("message %d: %w", msg.Index, err)
		}
	}
	engine.Finish()

	statsMgr.PrintProcedures(os.Stdout)
	return nil
}

// runStatsTypes shows message type statistics
func runStatsTypes(cmd *cobra.Command, args []string) error {
	msgs, filterFunc, err := loadStatsMessages()
	if err != nil {
		return err
	}

	statsMgr := stats.NewManager()
	for _, msg := range msgs {
		if filterFunc != nil && !filterFunc(msg) {
			continue
		}
		statsMgr.ProcessMessage(msg)
	}

	statsMgr.PrintMessageTypes(os.Stdout)
	return nil
}

// runStatsIO shows message rate statistics
func runStatsIO(cmd *cobra.Command, args []string) error {
	msgs, filterFunc, err := loadStatsMessages()
	if err != nil {
		return err
	}

	statsMgr := stats.NewManager()
	statsMgr.SetBucketSize(time.Duration(statsIOInterval * float64(time.Second)))

	for _, msg := range msgs {
		if filterFunc != nil && !filterFunc(msg) {
			continue
		}
		statsMgr.ProcessMessage(msg)
	}

	statsMgr.PrintIOStats(os.Stdout)
	return nil
}
