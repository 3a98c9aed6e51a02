// Package export mirrors the destination tables to files after each replace.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kjstillabower/station-forecast-service/internal/store"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// New returns the exporter for format writing into dir.
func New(format, dir string) (store.Exporter, error) {
	switch format {
	case FormatCSV:
		return NewCSVExporter(dir), nil
	case FormatParquet:
		return NewParquetExporter(dir), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never see a partial file.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
