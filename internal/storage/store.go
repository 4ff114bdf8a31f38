// Package storage persists student records in SQLite or Postgres.
//
// Every run rebuilds the students table: records are written to a staging
// table and swapped in with a single transaction, so readers see either the
// previous record set or the new one.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
)

const (
	tableName   = "students"
	stagingName = "students_staging"
)

// Columns are the persisted record fields in storage order.
var Columns = []string{"ps_id", "roll_no", "batch", "name", "photo", "course_id", "ho_class"}

type dialect struct {
	driver string
	serial string
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite3", serial: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	"postgres": {driver: "postgres", serial: "SERIAL PRIMARY KEY"},
}

func (d dialect) placeholder(n int) string {
	if d.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) createTable(name string) string {
	cols := make([]string, 0, len(Columns)+1)
	cols = append(cols, "id "+d.serial)
	for _, c := range Columns {
		cols = append(cols, c+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", name, strings.Join(cols, ",\n\t"))
}

func (d dialect) insert(name string) string {
	ph := make([]string, len(Columns))
	for i := range Columns {
		ph[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, strings.Join(Columns, ", "), strings.Join(ph, ", "))
}

// Options holds connection settings.
type Options struct {
	Driver         string // sqlite or postgres
	DSN            string
	MaxOpenConns   int
	ConnectRetries int // repeats of a failed connection check
}

// Store is a connection to the record store.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *observability.Logger
}

// Open connects to the store and verifies the connection.
func Open(ctx context.Context, opts Options, logger *observability.Logger) (*Store, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, domain.ConfigError(fmt.Sprintf("unsupported database driver %q", opts.Driver), nil)
	}
	if logger == nil {
		logger = observability.Nop()
	}

	db, err := sql.Open(d.driver, opts.DSN)
	if err != nil {
		return nil, domain.PersistenceError("open database", err)
	}
	if d.driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := pingWithBackoff(ctx, db, retryConfig(opts.ConnectRetries), logger); err != nil {
		db.Close()
		return nil, domain.PersistenceError("connect to database", err)
	}

	return &Store{db: db, dialect: d, logger: logger.WithOperation("storage")}, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the students table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := strings.Replace(s.dialect.createTable(tableName), "CREATE TABLE", "CREATE TABLE IF NOT EXISTS", 1)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return domain.PersistenceError("create students table", err)
	}
	return nil
}

// Rebuild starts a rebuild by recreating an empty staging table.
func (s *Store) Rebuild(ctx context.Context) (*Rebuild, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+stagingName); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.dialect.createTable(stagingName))
		return err
	})
	if err != nil {
		return nil, domain.PersistenceError("create staging table", err)
	}
	s.logger.Debug().Msg("staging table created")
	return &Rebuild{s: s}, nil
}

// Rebuild collects record batches in staging until Commit swaps them in.
type Rebuild struct {
	s        *Store
	inserted int
	done     bool
}

// Inserted returns how many records have been staged.
func (r *Rebuild) Inserted() int { return r.inserted }

// InsertBatch stages records in one transaction. On failure nothing from the
// batch is kept.
func (r *Rebuild) InsertBatch(ctx context.Context, records []domain.StudentRecord) (int, error) {
	if r.done {
		return 0, domain.PersistenceError("rebuild already finished", nil)
	}
	if len(records) == 0 {
		return 0, nil
	}

	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.s.dialect.insert(stagingName))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				rec.PersonID, rec.RollNo, rec.Batch, rec.Name,
				rec.PhotoPath, rec.CourseID, rec.HomeClass,
			); err != nil {
				return fmt.Errorf("insert %s: %w", rec.PersonID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.PersistenceError(fmt.Sprintf("insert batch of %d records", len(records)), err)
	}

	r.inserted += len(records)
	return len(records), nil
}

// Commit replaces the students table with the staged records.
func (r *Rebuild) Commit(ctx context.Context) error {
	if r.done {
		return domain.PersistenceError("rebuild already finished", nil)
	}
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stagingName, tableName))
		return err
	})
	if err != nil {
		return domain.PersistenceError("swap staging table", err)
	}
	r.done = true
	r.s.logger.Info().Int("records", r.inserted).Msg("students table rebuilt")
	return nil
}

// Abort discards the staging table and leaves the students table untouched.
func (r *Rebuild) Abort(ctx context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	if _, err := r.s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+stagingName); err != nil {
		return domain.PersistenceError("drop staging table", err)
	}
	return nil
}

// ReadAll returns every record ordered by id.
func (s *Store) ReadAll(ctx context.Context) ([]domain.StoredRecord, error) {
	return s.query(ctx, "")
}

// ByBatch returns the records of one batch ordered by id.
func (s *Store) ByBatch(ctx context.Context, batch string) ([]domain.StoredRecord, error) {
	return s.query(ctx, "WHERE batch = "+s.dialect.placeholder(1), batch)
}

func (s *Store) query(ctx context.Context, where string, args ...interface{}) ([]domain.StoredRecord, error) {
	query := fmt.Sprintf("SELECT id, %s FROM %s %s ORDER BY id", strings.Join(Columns, ", "), tableName, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.PersistenceError("read students", err)
	}
	defer rows.Close()

	var out []domain.StoredRecord
	for rows.Next() {
		var (
			rec    domain.StoredRecord
			fields [7]sql.NullString
		)
		if err := rows.Scan(&rec.ID, &fields[0], &fields[1], &fields[2], &fields[3],
			&fields[4], &fields[5], &fields[6]); err != nil {
			return nil, domain.PersistenceError("scan student", err)
		}
		rec.PersonID = fields[0].String
		rec.RollNo = fields[1].String
		rec.Batch = fields[2].String
		rec.Name = fields[3].String
		rec.PhotoPath = fields[4].String
		rec.CourseID = fields[5].String
		rec.HomeClass = fields[6].String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("read students", err)
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
