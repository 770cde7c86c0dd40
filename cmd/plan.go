package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/baseline-env/casefill/internal/planner"
	"github.com/baseline-env/casefill/internal/record"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan <workbook.xlsx>",
	Short: "Show which acquisition requests a run would issue, without fetching",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadRules()
		if err != nil {
			return err
		}
		rec, err := record.LoadWorkbook(args[0])
		if err != nil {
			return fmt.Errorf("load workbook: %w", err)
		}

		plan := planner.New(table).Build(rec)

		if planJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		for _, req := range plan.Requests {
			state := "enabled"
			if !req.Enabled {
				state = "disabled: " + req.Reason
			}
			fmt.Printf("%-60s %-12s %s\n", req.ID, req.Connector, state)
		}
		fmt.Printf("\n%d requests, %d findings\n", len(plan.Requests), len(plan.Findings))
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "emit the plan as JSON")
	rootCmd.AddCommand(planCmd)
}
