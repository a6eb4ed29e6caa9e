// Package provenance records which software and data versions produced a
// build, one fixed-shape row per tracked component.
package provenance

import (
	"context"
	"io"
	"math/rand"
	"path/filepath"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/ncss-tech/RSS-Export/internal/extract"
)

// Inserter is the slice of the target store the recorder needs.
type Inserter interface {
	Insert(ctx context.Context, table string, cols []string, rows [][]any) error
}

// Info collects the versions involved in one run.
type Info struct {
	SSURGOVersion string // data source version, from the dataset version.txt
	Generation    string // gSSURGO data model generation
	DBVersion     string // target store server version
	ToolVersion   string
	RunID         string
}

// NewRunID mints the ULID identifying one import run.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ReadSSURGOVersion reads the data source version from the dataset's
// version.txt. An absent extract is not an error; the version is recorded
// as NA.
func ReadSSURGOVersion(tabularDir string) string {
	r, err := extract.Open("provenance", filepath.Join(tabularDir, "version.txt"))
	if err != nil {
		return "NA"
	}
	defer r.Close()
	row, err := r.Read()
	if err == io.EOF || err != nil || len(row) == 0 || !row[0].Valid {
		return "NA"
	}
	return row[0].String
}

// Record writes one row per tracked component into the version table.
func Record(ctx context.Context, ins Inserter, info Info) error {
	rows := [][]any{
		{"Data Source", "SSURGO", info.SSURGOVersion},
		{"Data Model", "gSSURGO", info.Generation},
		{"Operating System", runtime.GOOS, runtime.GOARCH},
		{"Programming Language", "Go", runtime.Version()},
		{"Database", "PostgreSQL", info.DBVersion},
		{"Script", "RSS-Export: Create RSS Database", info.ToolVersion},
		{"Purpose", "Raster Soil Survey", "1.1"},
		{"Run", "Import Run", info.RunID},
	}
	if err := ins.Insert(ctx, "version", []string{"type", "name", "version"}, rows); err != nil {
		return errors.Wrap(err, "provenance: version table")
	}
	return nil
}
