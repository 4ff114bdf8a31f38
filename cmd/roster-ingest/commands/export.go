package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/roster-ingest/cmd/roster-ingest/ui"
	"github.com/spherical/roster-ingest/internal/pipeline"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Rewrite the CSV and workbook exports from the store",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	spinner := ui.NewSpinner("Exporting records...")
	spinner.Start()
	records, err := pipeline.Export(ctx, store, cfg.Export.CSVPath, cfg.Export.XLSXPath)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	ui.Success("Exported %d records to %s", len(records), cfg.Export.CSVPath)
	if cfg.Export.XLSXPath != "" {
		ui.Info("Workbook: %s", cfg.Export.XLSXPath)
	}
	return nil
}
