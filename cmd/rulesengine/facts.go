package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerrules/rete/internal/types"
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Feed facts through the engine",
}

// factsFile is the on-disk JSON container for a batch of facts, the
// facts-side counterpart of ruleio's ruleSetJSON.
type factsFile struct {
	Facts []*types.Fact `json:"facts"`
}

var factsProcessCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Load a JSON file of facts and process them through every loaded rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0]) //nolint:gosec // operator-supplied fact file, this command's whole job
		if err != nil {
			return fmt.Errorf("rulesengine: %w", err)
		}
		var batch factsFile
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("rulesengine: parsing %s: %w", args[0], err)
		}

		ctx, cancel := commandContext()
		defer cancel()
		results, err := eng.ProcessFacts(ctx, batch.Facts)
		if err != nil {
			return fmt.Errorf("rulesengine: processing facts: %w", err)
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Println("no rules fired")
			return nil
		}
		for _, r := range results {
			status := "ok"
			if !r.Succeeded() {
				status = "had errors"
			}
			fmt.Printf("rule %d (%s) fired, %d action result(s), %s\n", r.RuleID, r.RuleName, len(r.Results), status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(factsCmd)
	factsCmd.AddCommand(factsProcessCmd)
}
