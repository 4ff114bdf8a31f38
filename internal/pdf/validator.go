package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
)

const largeDocumentBytes = 100 * 1024 * 1024

// Validator checks input documents before the pipeline opens them
type Validator struct {
	preflight bool
	logger    *observability.Logger
}

// NewValidator creates a validator. With preflight set, documents are also
// opened with MuPDF to confirm they parse and have at least one page.
func NewValidator(preflight bool, logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Validator{preflight: preflight, logger: logger}
}

// Validate reports a DocumentUnreadable error for anything the pipeline cannot process.
func (v *Validator) Validate(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.DocumentUnreadableError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.DocumentUnreadableError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.DocumentUnreadableError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.DocumentUnreadableError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return domain.DocumentUnreadableError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if info.Size() > largeDocumentBytes {
		v.logger.Warn().
			Str("document", path).
			Int("size_mb", int(info.Size()/(1024*1024))).
			Msg("document is very large, processing may take a while")
	}

	if !v.preflight {
		file, err := os.Open(path)
		if err != nil {
			return domain.DocumentUnreadableError(fmt.Sprintf("cannot open file: %s", path), err)
		}
		file.Close()
		return nil
	}

	doc, err := fitz.New(path)
	if err != nil {
		return domain.DocumentUnreadableError(fmt.Sprintf("document does not parse: %s", path), err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return domain.DocumentUnreadableError(fmt.Sprintf("document has no pages: %s", path), nil)
	}

	return nil
}
