package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/baseline-env/casefill/internal/provenance"
)

var (
	exportOut  string
	exportJSON bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the provenance report: sources, evidence, usage and findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		table, err := loadRules()
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Index().Close()

		runFindings, err := store.Index().ListFindings(ctx)
		if err != nil {
			return fmt.Errorf("load findings: %w", err)
		}

		summary, err := provenance.New(table, store.Index()).Build(ctx, runFindings)
		if err != nil {
			return fmt.Errorf("build provenance: %w", err)
		}

		if exportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}

		if err := provenance.ExportXLSX(summary, exportOut); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d sources, %d evidence, %d usage links, %d findings)\n",
			exportOut, len(summary.Sources), len(summary.Evidence), len(summary.Usage), len(summary.Findings))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "provenance.xlsx", "output workbook path")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "emit the report as JSON to stdout")
	rootCmd.AddCommand(exportCmd)
}
