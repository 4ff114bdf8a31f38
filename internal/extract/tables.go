package extract

import (
	"fmt"
	"strings"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
)

// Columns are the positional column labels of the distribution list table.
var Columns = [8]string{
	"Sl",
	"PS ID",
	"Roll No.",
	"Batch",
	"Name of\nStudent",
	"Photo",
	"Course ID",
	"HO Class",
}

// headerColumns is how many leading columns are checked for repeated headers.
const headerColumns = 6

// TableExtractor recovers the cleaned roster rows of a document.
type TableExtractor struct {
	logger *observability.Logger
}

// NewTableExtractor creates a table extractor.
func NewTableExtractor(logger *observability.Logger) *TableExtractor {
	if logger == nil {
		logger = observability.Nop()
	}
	return &TableExtractor{logger: logger.WithOperation("extract_tables")}
}

// Extract concatenates the grids of all pages in page and in-page order,
// drops exact duplicate rows and rows repeating a column header. A document
// without any non-empty grid fails with NoTablesFound. Pages whose tables
// cannot be read are reported as issues.
func (e *TableExtractor) Extract(src domain.TableSource) ([]domain.RosterRow, []domain.Issue, error) {
	var (
		rows   []domain.RosterRow
		issues []domain.Issue
		grids  int
		seen   = make(map[[8]string]bool)
		dupes  int
		heads  int
	)

	for page := 0; page < src.PageCount(); page++ {
		tables, err := src.PageTables(page)
		if err != nil {
			e.logger.Warn().Int("page", page).Err(err).Msg("cannot read page tables")
			issues = append(issues, domain.NewIssue(domain.ErrorTypeDocumentUnreadable, 0, "",
				fmt.Errorf("tables on page %d: %w", page, err)))
			continue
		}

		for _, grid := range tables {
			if len(grid) == 0 {
				continue
			}
			grids++

			for _, raw := range grid {
				cells := positional(raw)
				if seen[cells] {
					dupes++
					continue
				}
				seen[cells] = true

				if isHeaderRow(cells) {
					heads++
					continue
				}

				rows = append(rows, domain.RosterRow{
					Seq:       cells[0],
					PersonID:  cells[1],
					RollNo:    cells[2],
					Batch:     cells[3],
					Name:      cells[4],
					Photo:     cells[5],
					CourseID:  cells[6],
					HomeClass: cells[7],
					Page:      page,
				})
			}
		}
	}

	if grids == 0 {
		return nil, issues, domain.NoTablesFoundError(
			fmt.Sprintf("no tables recovered from %d pages", src.PageCount()), nil)
	}

	e.logger.Debug().
		Int("grids", grids).
		Int("rows", len(rows)).
		Int("duplicates", dupes).
		Int("header_rows", heads).
		Msg("tables cleaned")

	return rows, issues, nil
}

// positional maps a raw row onto the eight columns, padding short rows and
// ignoring extra cells.
func positional(raw []string) [8]string {
	var cells [8]string
	for i := 0; i < len(cells) && i < len(raw); i++ {
		cells[i] = strings.TrimSpace(raw[i])
	}
	return cells
}

// isHeaderRow reports whether any checked cell contains its own column label.
// Whitespace is normalized so labels broken across lines still match.
func isHeaderRow(cells [8]string) bool {
	for i := 0; i < headerColumns; i++ {
		if strings.Contains(normalizeSpace(cells[i]), normalizeSpace(Columns[i])) {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
