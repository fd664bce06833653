package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report rule, fact, and node counts and estimated memory usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats := eng.GetStats()
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		fmt.Printf("rules:  %d\n", stats.RuleCount)
		fmt.Printf("facts:  %d\n", stats.FactCount)
		fmt.Printf("nodes:  %d\n", stats.NodeCount)
		fmt.Printf("memory: %d bytes (estimated)\n", stats.MemoryUsageBytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
