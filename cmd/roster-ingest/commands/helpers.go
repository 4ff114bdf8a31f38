package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spherical/roster-ingest/internal/config"
	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/pipeline"
	"github.com/spherical/roster-ingest/internal/storage"
)

// openStore connects to the configured record store.
func openStore(ctx context.Context, c *config.Config) (*storage.Store, error) {
	opts := storage.Options{
		Driver: c.Database.Driver,
		DSN:    c.DatabaseDSN(),
	}
	if c.Database.Driver == "postgres" {
		opts.MaxOpenConns = c.Database.Postgres.MaxOpenConns
		opts.ConnectRetries = c.Database.Postgres.ConnectRetries
	}
	return storage.Open(ctx, opts, logger)
}

// resolveDocuments prefers command line arguments over the configured list.
func resolveDocuments(args []string, c *config.Config) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(c.Documents) > 0 {
		return c.Documents, nil
	}
	return nil, domain.ValidationError("no documents given on the command line or in config", nil)
}

func documentStatus(d *pipeline.DocumentResult) string {
	switch {
	case d.Failed():
		kind := domain.TypeOf(d.Err)
		if kind == "" {
			return "failed"
		}
		return "failed: " + string(kind)
	case len(d.Issues) > 0:
		return fmt.Sprintf("ok (%d issues)", len(d.Issues))
	default:
		return "ok"
	}
}

func summaryRows(docs []*pipeline.DocumentResult) [][]string {
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			d.Path,
			strconv.Itoa(d.Rows),
			strconv.Itoa(d.Images),
			strconv.Itoa(d.Bound),
			strconv.Itoa(d.Unbound),
			strconv.Itoa(d.Skipped),
			documentStatus(d),
		})
	}
	return rows
}

func recordRows(records []domain.StoredRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.PersonID,
			r.RollNo,
			r.Batch,
			r.Name,
			r.PhotoPath,
			r.CourseID,
			r.HomeClass,
		})
	}
	return rows
}
