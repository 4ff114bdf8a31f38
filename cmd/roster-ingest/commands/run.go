package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/roster-ingest/cmd/roster-ingest/ui"
	"github.com/spherical/roster-ingest/internal/pdf"
	"github.com/spherical/roster-ingest/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run [documents...]",
	Short: "Rebuild the student records from distribution list PDFs",
	Long: `Process each document in order, then replace the stored record set with
the result and rewrite the CSV and workbook exports. Documents that fail are
reported in the summary and do not stop the run.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := resolveDocuments(args, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	opener := pdf.NewOpener(pdf.TableOptions{
		MinRows:       cfg.Tables.MinRows,
		MinCols:       cfg.Tables.MinCols,
		MinConfidence: cfg.Tables.MinConfidence,
		UseLines:      cfg.Tables.UseLines,
	})
	validator := pdf.NewValidator(cfg.Pipeline.Preflight, logger)

	p, err := pipeline.New(pipeline.Config{
		ScratchRoot:       cfg.Scratch.Root,
		PhotoDir:          cfg.Photos.Dir,
		SkipRefs:          cfg.Alignment.SkipRefs,
		SkipPatterns:      cfg.Alignment.SkipPatterns,
		Extensions:        cfg.Alignment.Extensions,
		ConcurrentExtract: cfg.Pipeline.ConcurrentExtract,
		CSVPath:           cfg.Export.CSVPath,
		XLSXPath:          cfg.Export.XLSXPath,
	}, opener, validator, store, logger)
	if err != nil {
		return err
	}

	ui.Section("Distribution List Ingestion")
	ui.Info("Documents: %d", len(docs))
	ui.Info("Store: %s", cfg.Database.Driver)
	ui.Newline()

	bar := ui.NewProgressBar(len(docs), "processing")
	p.OnDocument = func(d *pipeline.DocumentResult) {
		bar.Describe(filepath.Base(d.Path))
		bar.Add(1)
	}

	start := time.Now()
	result, err := p.Run(ctx, docs)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("ingestion run: %w", err)
	}

	ui.Section("Run Summary")
	ui.Table(
		[]string{"Document", "Rows", "Images", "Bound", "Unbound", "Skipped", "Status"},
		summaryRows(result.Documents),
	)
	ui.Newline()

	for _, d := range result.Documents {
		if d.Failed() {
			ui.Error("%s: %v", d.Path, d.Err)
		}
		for _, issue := range d.Issues {
			ui.Detail("%s: %s", filepath.Base(d.Path), issue)
		}
	}

	if failed := result.Failed(); failed > 0 {
		ui.Warning("%d of %d documents failed", failed, len(result.Documents))
	}
	ui.Success("%d records written in %s", len(result.Records), ui.FormatDuration(time.Since(start)))
	ui.Info("CSV: %s", cfg.Export.CSVPath)
	if cfg.Export.XLSXPath != "" {
		ui.Info("Workbook: %s", cfg.Export.XLSXPath)
	}
	ui.Detail("scratch: %s", result.ScratchDir)

	return nil
}
