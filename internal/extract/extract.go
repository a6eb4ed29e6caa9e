package extract

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// MissingError reports an absent extract or configuration file. Component
// names the loader that needed it.
type MissingError struct {
	Component string
	Path      string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: extract %s does not exist", e.Component, e.Path)
}

// IsMissing reports whether err is (or wraps) a MissingError.
func IsMissing(err error) bool {
	var me *MissingError
	return errors.As(err, &me)
}

// Reader streams one pipe-delimited, double-quote escaped extract.
// Extracts carry no header row and field counts may vary per line.
type Reader struct {
	f    *os.File
	cr   *csv.Reader
	path string
	line int
}

// Open opens the extract at path. A missing file yields *MissingError so the
// caller can distinguish "extract absent" from a read failure.
func Open(component, path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingError{Component: component, Path: path}
		}
		return nil, errors.Wrapf(err, "%s: open %s", component, path)
	}
	cr := csv.NewReader(f)
	cr.Comma = '|'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return &Reader{f: f, cr: cr, path: path}, nil
}

// Read returns the next record with empty fields normalized to NULL.
// No other coercion happens here. Returns io.EOF at end of extract.
func (r *Reader) Read() ([]sql.NullString, error) {
	rec, err := r.cr.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s line %d", r.path, r.line+1)
	}
	r.line++
	row := make([]sql.NullString, len(rec))
	for i, v := range rec {
		if v != "" {
			row[i] = sql.NullString{String: v, Valid: true}
		}
	}
	return row, nil
}

// Line is the number of records read so far.
func (r *Reader) Line() int { return r.line }

// Path returns the extract path, for diagnostics.
func (r *Reader) Path() string { return r.path }

func (r *Reader) Close() error { return r.f.Close() }

// Args converts a record into insert arguments. NULL fields stay NULL.
func Args(row []sql.NullString) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

// ReadConfigCSV loads one of the versioned comma-delimited configuration
// lists (index lists, rule class seed, column change lists). The header row
// is skipped.
func ReadConfigCSV(component, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingError{Component: component, Path: path}
		}
		return nil, errors.Wrapf(err, "%s: open %s", component, path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read %s", component, path)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}
