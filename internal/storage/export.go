package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/spherical/roster-ingest/internal/domain"
)

const sheetName = "students"

func recordRow(r domain.StoredRecord) []string {
	return []string{r.PersonID, r.RollNo, r.Batch, r.Name, r.PhotoPath, r.CourseID, r.HomeClass}
}

// ExportCSV writes records to path with a header row of the storage columns,
// replacing any existing file.
func ExportCSV(path string, records []domain.StoredRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.FilesystemError(fmt.Sprintf("create export directory for %s", path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return domain.FilesystemError(fmt.Sprintf("create %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return domain.FilesystemError("write csv header", err)
	}
	for _, r := range records {
		if err := w.Write(recordRow(r)); err != nil {
			return domain.FilesystemError(fmt.Sprintf("write csv row %d", r.ID), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return domain.FilesystemError(fmt.Sprintf("flush %s", path), err)
	}
	return f.Close()
}

// ExportXLSX writes records to a single-sheet workbook at path, replacing any
// existing file.
func ExportXLSX(path string, records []domain.StoredRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.FilesystemError(fmt.Sprintf("create export directory for %s", path), err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return domain.FilesystemError("name worksheet", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return domain.FilesystemError("write xlsx header", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return domain.FilesystemError("address xlsx row", err)
		}
		values := recordRow(r)
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return domain.FilesystemError(fmt.Sprintf("write xlsx row %d", r.ID), err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return domain.FilesystemError(fmt.Sprintf("save %s", path), err)
	}
	return nil
}
