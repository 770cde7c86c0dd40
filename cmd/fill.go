package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/merge"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/planner"
	"github.com/baseline-env/casefill/internal/record"
	"github.com/baseline-env/casefill/internal/runner"
)

var fillOut string

var fillCmd = &cobra.Command{
	Use:   "fill <workbook.xlsx>",
	Short: "Detect gaps, acquire data, and write the filled workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runID := uuid.NewString()
		zap.L().Info("run starting",
			zap.String("run_id", runID),
			zap.String("workbook", args[0]),
		)

		table, err := loadRules()
		if err != nil {
			return err
		}
		rec, err := record.LoadWorkbook(args[0])
		if err != nil {
			return fmt.Errorf("load workbook: %w", err)
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Index().Close()

		registry, err := buildRegistry()
		if err != nil {
			return err
		}

		plan := planner.New(table).Build(rec)

		workers, attempts, backoff := runnerConfig(cfg.Runner)
		outcome, err := runner.New(registry, store, runner.Config{
			Workers:     workers,
			MaxAttempts: attempts,
			Backoff:     backoff,
		}).Run(ctx, plan.Requests, rec)
		if err != nil {
			return fmt.Errorf("run plan: %w", err)
		}

		mergeFindings, err := merge.New(table, store).Apply(ctx, plan.Requests, outcome.Staged, rec)
		if err != nil {
			return fmt.Errorf("apply results: %w", err)
		}

		out := fillOut
		if out == "" {
			out = args[0]
		}
		if err := record.SaveWorkbook(rec, out); err != nil {
			return fmt.Errorf("save workbook: %w", err)
		}

		findings := append(append(plan.Findings, outcome.Findings...), mergeFindings...)
		// Persist the findings so export and serve surface this run.
		if err := store.Index().PutFindings(ctx, runID, findings); err != nil {
			return fmt.Errorf("record findings: %w", err)
		}
		for _, f := range findings {
			zap.L().Info("finding",
				zap.String("severity", f.Severity),
				zap.String("code", f.Code),
				zap.String("field", f.Field),
				zap.String("message", f.Message),
			)
		}

		fmt.Printf("requests: %d completed, %d failed, %d disabled, %d skipped\n",
			outcome.Completed, outcome.Failed, outcome.Disabled, outcome.Skipped)
		fmt.Printf("findings: %d (%d error)\n", len(findings), countSeverity(findings, model.SeverityError))
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

func countSeverity(findings []model.ValidationFinding, sev string) int {
	n := 0
	for _, f := range findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

func init() {
	fillCmd.Flags().StringVarP(&fillOut, "out", "o", "", "output workbook path (default: overwrite input)")
	rootCmd.AddCommand(fillCmd)
}
