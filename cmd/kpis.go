package cmd

import (
	"fmt"

	"github.com/lteinsight/emmkpi/diag"
	"github.com/spf13/cobra"
)

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "List supported KPI names",
	Long: `List every retainability KPI the diagnosis engine can emit, with the
procedure and failure category behind it.`,
	Example: `  emmkpi kpis
  emmkpi kpis | grep TIMEOUT`,
	GroupID: "info",
	Run:     runKPIs,
}

func runKPIs(cmd *cobra.Command, args []string) {
	fmt.Printf("%-58s %-20s %s\n", "KPI", "Procedure", "Category")

	count := 0
	for _, p := range diag.Procedures {
		for _, c := range diag.Categories {
			if !diag.SupportsCategory(p, c) {
				continue
			}
			ev := diag.FailureEvent{Procedure: p, Category: c}
			fmt.Printf("%-58s %-20s %s\n", ev.KPI(), string(p), string(c))
			count++
		}
	}

	fmt.Printf("\n%d KPIs\n", count)
}
