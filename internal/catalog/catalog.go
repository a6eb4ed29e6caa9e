package catalog

import (
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ncss-tech/RSS-Export/internal/extract"
)

// Column positions inside the two registry extracts.
const (
	tabName    = 0 // mstab: table physical name
	tabLabel   = 2 // mstab: table label
	tabExtract = 4 // mstab: source text file base name

	colTable = 0 // mstabcol: owning table physical name
	colSeq   = 1 // mstabcol: column sequence
	colName  = 2 // mstabcol: column physical name
)

// Column is one target-table column. Sequence orders insertion; values need
// not be contiguous but are unique within a table.
type Column struct {
	Sequence int
	Name     string
}

// Table describes one catalog table: where its rows come from (the extract
// base name) and the column order to insert them in.
type Table struct {
	Name    string
	Extract string
	Label   string
	Columns []Column
}

// ColumnNames returns the physical column names in sequence order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Catalog maps table physical name to its descriptor for the lifetime of
// one run.
type Catalog map[string]*Table

// Get returns the descriptor for name, or an error naming the table.
func (c Catalog) Get(name string) (*Table, error) {
	t, ok := c[name]
	if !ok {
		return nil, errors.Errorf("catalog: table %s not declared in registry", name)
	}
	return t, nil
}

// Load reads the table registry (mstab.txt) and column registry
// (mstabcol.txt) from tabularDir. Column rows naming a table absent from the
// registry are ignored; the registry is the authority on which tables exist.
// Either registry missing is fatal to the run.
func Load(tabularDir string) (Catalog, error) {
	cat := Catalog{}

	r, err := extract.Open("catalog", filepath.Join(tabularDir, "mstab.txt"))
	if err != nil {
		return nil, err
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.Close()
			return nil, errors.Wrap(err, "catalog: table registry")
		}
		if len(row) <= tabExtract {
			r.Close()
			return nil, errors.Errorf("catalog: table registry row %d has %d fields", r.Line(), len(row))
		}
		t := &Table{
			Name:    row[tabName].String,
			Label:   row[tabLabel].String,
			Extract: row[tabExtract].String,
		}
		cat[t.Name] = t
	}
	r.Close()

	r, err = extract.Open("catalog", filepath.Join(tabularDir, "mstabcol.txt"))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "catalog: column registry")
		}
		if len(row) <= colName {
			return nil, errors.Errorf("catalog: column registry row %d has %d fields", r.Line(), len(row))
		}
		t, ok := cat[row[colTable].String]
		if !ok {
			continue
		}
		seq, err := strconv.Atoi(row[colSeq].String)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog: column %s.%s sequence", t.Name, row[colName].String)
		}
		t.Columns = append(t.Columns, Column{Sequence: seq, Name: row[colName].String})
	}

	// ties are not expected; stable sort keeps extract order if they happen
	for _, t := range cat {
		sort.SliceStable(t.Columns, func(i, j int) bool {
			return t.Columns[i].Sequence < t.Columns[j].Sequence
		})
	}
	return cat, nil
}
