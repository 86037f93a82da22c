package store

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/i474232898/pollen-sync/internal/pollen"
)

const bom = "\ufeff"

const sheetName = "pollen"

var (
	// ErrMissingFile is reported when the store file does not exist yet.
	ErrMissingFile = errors.New("store file does not exist")
	// ErrSchema is reported when the store file lacks a required column.
	ErrSchema = errors.New("store file schema invalid")
)

// Format is the tabular file format of a persisted store.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// ParseFormat accepts "csv", "excel" or "xlsx". Empty input infers the
// format from the path extension.
func ParseFormat(s, path string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FormatFromPath(path), nil
	case "csv":
		return FormatCSV, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	}
	return "", fmt.Errorf("unsupported store format %q", s)
}

// FormatFromPath infers the format from the file extension, defaulting to CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatExcel
	}
	return FormatCSV
}

// FileOptions select how a store file is read and written.
type FileOptions struct {
	Format Format
	// BOM prefixes CSV output with a UTF-8 byte order mark for spreadsheet tools.
	BOM bool
}

// LoadError reports why a store file could not be used. Load still returns
// an empty, usable store alongside it.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load store %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads a persisted store. It fails soft: an absent, unreadable or
// schema-invalid file yields an empty store and a *LoadError.
func Load(path string, opts FileOptions) (*RecordStore, error) {
	if opts.Format == "" {
		opts.Format = FormatFromPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %v", ErrMissingFile, err)
		}
		return New(), &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	var rows [][]string
	switch opts.Format {
	case FormatExcel:
		rows, err = readExcel(f)
	default:
		rows, err = readCSV(f)
	}
	if err != nil {
		return New(), &LoadError{Path: path, Err: err}
	}

	s, err := decodeTable(rows)
	if err != nil {
		return New(), &LoadError{Path: path, Err: err}
	}
	return s, nil
}

// Save writes the whole store sorted by (date, city). The file is written
// to a temporary sibling and renamed into place, so readers never observe
// a partially written file.
func (s *RecordStore) Save(path string, opts FileOptions) error {
	if opts.Format == "" {
		opts.Format = FormatFromPath(path)
	}

	s.mu.RLock()
	cols := s.columns.Ordered()
	obs := s.sortedLocked()
	s.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	switch opts.Format {
	case FormatExcel:
		err = writeExcel(tmp, cols, obs)
	default:
		err = writeCSV(tmp, cols, obs, opts.BOM)
	}
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish store: %w", err)
	}
	committed = true
	return nil
}

// CheckWritable verifies that the directory of path exists (creating it if
// needed) and accepts new files.
func CheckWritable(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(bom)); err == nil && string(b) == bom {
		br.Discard(len(bom))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func writeCSV(w io.Writer, cols []pollen.Column, obs []pollen.Observation, withBOM bool) error {
	if withBOM {
		if _, err := io.WriteString(w, bom); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = string(c)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, o := range obs {
		if err := cw.Write(encodeRow(o, cols)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readExcel(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrSchema)
	}
	return f.GetRows(sheets[0])
}

func writeExcel(w io.Writer, cols []pollen.Column, obs []pollen.Observation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = string(c)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	for n, o := range obs {
		cells := encodeRow(o, cols)
		row := make([]interface{}, len(cells))
		for i, v := range cells {
			row[i] = v
			if cols[i] == pollen.ColIndex && v != "" {
				if fv, err := strconv.ParseFloat(v, 64); err == nil {
					row[i] = fv
				}
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, axis, &row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}
