package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/roster-ingest/cmd/roster-ingest/ui"
	"github.com/spherical/roster-ingest/internal/domain"
)

var listBatch string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the stored student records",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listBatch, "batch", "b", "", "only show records of this batch")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var records []domain.StoredRecord
	if listBatch != "" {
		records, err = store.ByBatch(ctx, listBatch)
	} else {
		records, err = store.ReadAll(ctx)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		ui.Warning("No records found")
		return nil
	}

	ui.Table(
		[]string{"ID", "PS ID", "Roll No", "Batch", "Name", "Photo", "Course ID", "HO Class"},
		recordRows(records),
	)
	ui.Newline()
	ui.Info("%d records", len(records))
	return nil
}
