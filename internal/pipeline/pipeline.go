// Package pipeline runs the distribution list ingestion over a list of documents.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/roster-ingest/internal/align"
	"github.com/spherical/roster-ingest/internal/assemble"
	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/extract"
	"github.com/spherical/roster-ingest/internal/observability"
	"github.com/spherical/roster-ingest/internal/scratch"
	"github.com/spherical/roster-ingest/internal/storage"
)

// Validator rejects documents that cannot be processed.
type Validator interface {
	Validate(path string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(path string) error

// Validate calls f.
func (f ValidatorFunc) Validate(path string) error { return f(path) }

// Config holds pipeline settings.
type Config struct {
	ScratchRoot       string
	PhotoDir          string
	SkipRefs          []int
	SkipPatterns      []string
	Extensions        []string
	ConcurrentExtract bool
	CSVPath           string
	XLSXPath          string
}

// Pipeline processes documents strictly one after another against a single store.
type Pipeline struct {
	cfg       Config
	opener    domain.Opener
	validator Validator
	store     *storage.Store
	logger    *observability.Logger

	images    *extract.ImageExtractor
	tables    *extract.TableExtractor
	engine    *align.Engine
	assembler *assemble.Assembler

	// OnDocument, when set, is called after each document finishes.
	OnDocument func(*DocumentResult)
}

// New creates a pipeline.
func New(cfg Config, opener domain.Opener, validator Validator, store *storage.Store, logger *observability.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	if validator == nil {
		validator = ValidatorFunc(func(string) error { return nil })
	}

	skip, err := align.NewSkipSet(cfg.SkipRefs, cfg.SkipPatterns)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		opener:    opener,
		validator: validator,
		store:     store,
		logger:    logger,
		images:    extract.NewImageExtractor(logger),
		tables:    extract.NewTableExtractor(logger),
		engine:    align.NewEngine(skip, cfg.Extensions, logger),
		assembler: assemble.New(cfg.PhotoDir, logger),
	}, nil
}

// DocumentResult summarizes one processed document.
type DocumentResult struct {
	Path       string
	Rows       int
	Images     int
	Bound      int
	Unbound    int
	Skipped    int
	Unconsumed int
	Inserted   int
	Issues     []domain.Issue
	Err        error // set when the document was abandoned
	Duration   time.Duration
}

// Failed reports whether the document was abandoned.
func (r *DocumentResult) Failed() bool { return r.Err != nil }

// RunResult summarizes a pipeline run.
type RunResult struct {
	RunID      string
	ScratchDir string
	Documents  []*DocumentResult
	Records    []domain.StoredRecord
}

// Failed returns how many documents were abandoned.
func (r *RunResult) Failed() int {
	n := 0
	for _, d := range r.Documents {
		if d.Failed() {
			n++
		}
	}
	return n
}

// Run rebuilds the store from the given documents, then reads it back and
// writes the flat exports. Per-document failures are recorded in the result
// and do not stop the run. Cancellation is honored between documents.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*RunResult, error) {
	runID := uuid.NewString()
	log := p.logger.WithRun(runID)
	log.Info().Int("documents", len(paths)).Msg("Starting ingestion run")

	arena, err := scratch.NewArena(p.cfg.ScratchRoot, runID)
	if err != nil {
		return nil, err
	}

	rb, err := p.store.Rebuild(ctx)
	if err != nil {
		return nil, err
	}

	p.assembler.Reset()

	result := &RunResult{RunID: runID, ScratchDir: arena.Dir()}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			rb.Abort(context.Background())
			return result, err
		}

		doc := p.processDocument(ctx, log.WithDocument(path), arena, rb, i, path)
		result.Documents = append(result.Documents, doc)
		if p.OnDocument != nil {
			p.OnDocument(doc)
		}
	}

	if err := rb.Commit(ctx); err != nil {
		rb.Abort(context.Background())
		return result, err
	}

	records, err := Export(ctx, p.store, p.cfg.CSVPath, p.cfg.XLSXPath)
	if err != nil {
		return result, err
	}
	result.Records = records

	if len(records) != rb.Inserted() {
		log.Warn().Int("inserted", rb.Inserted()).Int("read_back", len(records)).Msg("read-back count differs from inserted count")
	}

	log.Info().
		Int("documents", len(paths)).
		Int("failed", result.Failed()).
		Int("records", len(records)).
		Msg("Ingestion run completed")

	return result, nil
}

func (p *Pipeline) processDocument(ctx context.Context, log *observability.Logger, arena *scratch.Arena, rb *storage.Rebuild, index int, path string) *DocumentResult {
	start := time.Now()
	res := &DocumentResult{Path: path}
	defer func() { res.Duration = time.Since(start) }()

	fail := func(err error) *DocumentResult {
		res.Err = err
		log.Error().Str("kind", string(domain.TypeOf(err))).Err(err).Msg("document abandoned")
		return res
	}

	if err := p.validator.Validate(path); err != nil {
		return fail(err)
	}

	ns, err := arena.Namespace(index, path)
	if err != nil {
		return fail(err)
	}

	ex, err := p.extract(path, ns)
	res.Issues = append(res.Issues, ex.issues...)
	if err != nil {
		return fail(err)
	}
	res.Rows = len(ex.rows)
	res.Images = len(ex.assets)

	aligned := p.engine.Align(ex.rows, ex.assets)
	res.Unbound = aligned.Unbound()
	res.Bound = len(aligned.Bindings) - res.Unbound
	res.Skipped = len(aligned.Skipped)
	res.Unconsumed = len(aligned.Unconsumed)

	records, issues := p.assembler.Assemble(aligned.Bindings)
	res.Issues = append(res.Issues, issues...)

	n, err := rb.InsertBatch(ctx, records)
	if err != nil {
		return fail(err)
	}
	res.Inserted = n

	log.Info().
		Int("rows", res.Rows).
		Int("images", res.Images).
		Int("bound", res.Bound).
		Int("unbound", res.Unbound).
		Int("skipped", res.Skipped).
		Int("issues", len(res.Issues)).
		Msg("document processed")

	return res
}

type extraction struct {
	assets []domain.ImageAsset
	rows   []domain.RosterRow
	issues []domain.Issue
}

// extract runs image and table extraction. With concurrent extraction each
// side works on its own document handle.
func (p *Pipeline) extract(path string, ns *scratch.Namespace) (*extraction, error) {
	var (
		ex          extraction
		imageIssues []domain.Issue
		tableIssues []domain.Issue
	)

	runImages := func(doc domain.Document) {
		ex.assets, imageIssues = p.images.Extract(doc, ns)
	}
	runTables := func(doc domain.Document) error {
		var err error
		ex.rows, tableIssues, err = p.tables.Extract(doc)
		return err
	}

	if !p.cfg.ConcurrentExtract {
		doc, err := p.opener.Open(path)
		if err != nil {
			return &ex, err
		}
		defer doc.Close()

		runImages(doc)
		err = runTables(doc)
		ex.issues = append(imageIssues, tableIssues...)
		return &ex, err
	}

	var g errgroup.Group
	g.Go(func() error {
		doc, err := p.opener.Open(path)
		if err != nil {
			return err
		}
		defer doc.Close()
		runImages(doc)
		return nil
	})
	g.Go(func() error {
		doc, err := p.opener.Open(path)
		if err != nil {
			return err
		}
		defer doc.Close()
		return runTables(doc)
	})
	err := g.Wait()
	ex.issues = append(imageIssues, tableIssues...)
	return &ex, err
}

// Export reads every stored record back and writes the CSV export, plus the
// workbook when xlsxPath is set.
func Export(ctx context.Context, store *storage.Store, csvPath, xlsxPath string) ([]domain.StoredRecord, error) {
	records, err := store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := storage.ExportCSV(csvPath, records); err != nil {
		return records, err
	}
	if xlsxPath != "" {
		if err := storage.ExportXLSX(xlsxPath, records); err != nil {
			return records, err
		}
	}
	return records, nil
}
