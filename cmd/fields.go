package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lteinsight/emmkpi/fields"
	"github.com/spf13/cobra"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List exportable failure fields",
	Long:  `List the fields that export -f fields can extract with -e.`,
	Example: `  emmkpi fields
  emmkpi export ue.jsonl -f fields -e kpi -e emm.cause`,
	GroupID: "info",
	Run:     runFields,
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}

func runFields(cmd *cobra.Command, args []string) {
	registry := fields.NewRegistry()
	names := registry.List()
	sort.Strings(names)

	fmt.Println("Available fields:")
	fmt.Println("Name\t\t\tType\tDescription")
	fmt.Println(strings.Repeat("-", 70))

	for _, name := range names {
		info := registry.GetFieldInfo(name)
		if info != "" {
			fmt.Println(info)
		}
	}
}
