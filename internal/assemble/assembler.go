// Package assemble turns aligned rows into student records and moves each
// bound portrait to a name derived from the row.
package assemble

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode"

	"github.com/spherical/roster-ingest/internal/align"
	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
)

const pathHostile = `\/:*?"<>|`

// SanitizeFilename replaces separators, wildcards, quoting characters and
// whitespace (newlines included) with underscores.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(pathHostile, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
}

// PhotoName returns <sanitized name>_<person id>.<ext>.
func PhotoName(row domain.RosterRow, ext domain.ImageExtension) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeFilename(row.Name), SanitizeFilename(row.PersonID), ext)
}

// Assembler builds records from bindings. It remembers which photo names were
// taken since the last Reset and is not safe for concurrent use.
type Assembler struct {
	photoDir string
	logger   *observability.Logger
	claimed  map[string]int // photo path -> reference id moved there
}

// New creates an assembler that relocates portraits into photoDir.
func New(photoDir string, logger *observability.Logger) *Assembler {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Assembler{
		photoDir: photoDir,
		logger:   logger.WithOperation("assemble"),
		claimed:  make(map[string]int),
	}
}

// Reset forgets the photo names taken so far. Photos left by an earlier run
// may be overwritten again after a reset.
func (a *Assembler) Reset() {
	a.claimed = make(map[string]int)
}

// Assemble produces one record per binding, in order. A bound image is renamed
// into the photo directory and its new path recorded. When the move fails the
// record keeps the scratch path and the failure is returned as an issue; a
// photo name already taken since the last Reset counts as a failed move.
// Unbound rows keep their photo placeholder.
func (a *Assembler) Assemble(bindings []align.Binding) ([]domain.StudentRecord, []domain.Issue) {
	records := make([]domain.StudentRecord, 0, len(bindings))
	var issues []domain.Issue

	dirErr := os.MkdirAll(a.photoDir, 0o755)

	for _, b := range bindings {
		rec := domain.StudentRecord{
			PersonID:  b.Row.PersonID,
			RollNo:    b.Row.RollNo,
			Batch:     b.Row.Batch,
			Name:      b.Row.Name,
			PhotoPath: b.Row.Photo,
			CourseID:  b.Row.CourseID,
			HomeClass: b.Row.HomeClass,
		}

		if b.Bound() {
			path, err := a.relocate(b, dirErr)
			if err != nil {
				a.logger.Warn().
					Str("person_id", b.Row.PersonID).
					Int("ref", b.Image.Ref).
					Err(err).
					Msg("cannot relocate portrait, keeping scratch path")
				issues = append(issues, domain.NewIssue(domain.ErrorTypeFilesystem, b.Image.Ref, b.Row.PersonID, err))
				path = b.Image.Path
			}
			rec.PhotoPath = path
		}

		records = append(records, rec)
	}

	return records, issues
}

func (a *Assembler) relocate(b align.Binding, dirErr error) (string, error) {
	if dirErr != nil {
		return "", domain.FilesystemError(fmt.Sprintf("create photo directory %s", a.photoDir), dirErr)
	}
	dst := filepath.Join(a.photoDir, PhotoName(b.Row, b.Image.Ext))
	if owner, taken := a.claimed[dst]; taken {
		return "", domain.FilesystemError(
			fmt.Sprintf("photo %s already taken by ref %d", filepath.Base(dst), owner), nil)
	}
	if err := move(b.Image.Path, dst); err != nil {
		return "", domain.FilesystemError(fmt.Sprintf("rename %s", filepath.Base(b.Image.Path)), err)
	}
	a.claimed[dst] = b.Image.Ref
	return dst, nil
}

// move renames src to dst, copying when they sit on different devices.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
