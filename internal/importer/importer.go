package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ncss-tech/RSS-Export/internal/catalog"
	"github.com/ncss-tech/RSS-Export/internal/extract"
	"github.com/ncss-tech/RSS-Export/internal/interp"
)

const insertBatch = 500

// commonTables are identical in every survey area download and loaded once
// per run, from the first area's tabular folder.
var commonTables = []string{
	"mdstattabcols", "mdstatrshipdet", "mdstattabs", "mdstatrshipmas",
	"mdstatdommas", "mdstatidxmas", "mdstatidxdet", "mdstatdomdet",
	"sdvfolder", "sdvalgorithm",
}

// setTables are largely common to all surveys but some states carry rows
// unique to their surveys.
var setTables = []string{"distinterpmd", "sdvattribute", "sdvfolderattribute"}

// SurveyAreaTables hold information unique to each survey area and
// accumulate rows across every input dataset.
var SurveyAreaTables = []string{
	"component", "cosurfmorphhpp", "legend", "chunified", "cocropyld",
	"chtexturegrp", "cosurfmorphss", "coforprod", "sacatalog",
	"cosurfmorphgc", "cotaxmoistcl", "chtext", "chconsistence",
	"chtexture", "copmgrp", "cosoilmoist", "mucropyld", "chtexturemod",
	"cotext", "coecoclass", "cosurfmorphmr", "cosurffrags",
	"cotreestomng", "cosoiltemp", "sainterp", "chstructgrp",
	"distlegendmd", "copwindbreak", "chdesgnsuffix", "corestrictions",
	"cotaxfmmin", "chstruct", "chfrags", "coforprodo", "distmd",
	"mutext", "legendtext", "muaggatt", "chorizon", "cohydriccriteria",
	"chpores", "chaashto", "coerosionacc", "copm", "comonth",
	"muaoverlap", "cotxfmother", "mapunit", "coeplants", "laoverlap",
	"cogeomordesc", "codiagfeatures", "cocanopycover",
}

// legacyCointerpExcluded are the cointerp column sequences dropped from the
// 1.0 schema generation build (interpll, interpllc, interplr, interplrc,
// interphh, interphhc).
var legacyCointerpExcluded = map[int]struct{}{
	8: {}, 9: {}, 10: {}, 11: {}, 14: {}, 15: {},
}

// RowShapeError reports a record that cannot be mapped to its table's
// column list. Fatal for that table's import.
type RowShapeError struct {
	Table   string
	Extract string
	Line    int
	Fields  int
	Columns int
}

func (e *RowShapeError) Error() string {
	return fmt.Sprintf("importer: %s: %s line %d has %d fields for %d columns",
		e.Table, e.Extract, e.Line, e.Fields, e.Columns)
}

// Inserter is the slice of the target store the engine needs.
type Inserter interface {
	Insert(ctx context.Context, table string, cols []string, rows [][]any) error
}

// Engine streams catalog tables from their source extracts into the target
// store, honoring the catalog's column order.
type Engine struct {
	store Inserter
	cat   catalog.Catalog
	log   zerolog.Logger
}

func New(store Inserter, cat catalog.Catalog, log zerolog.Logger) *Engine {
	return &Engine{store: store, cat: cat, log: log.With().Str("component", "importer").Logger()}
}

// TabularDir resolves a survey area's tabular folder under root.
func TabularDir(root, area string) string {
	return filepath.Join(root, strings.ToUpper(area), "tabular")
}

// DiscoverAreas lists the survey area datasets under root: every
// subdirectory holding a tabular folder, sorted by name.
func DiscoverAreas(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "importer: reading input root %s", root)
	}
	var areas []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := os.Stat(filepath.Join(root, e.Name(), "tabular"))
		if err == nil && st.IsDir() {
			areas = append(areas, e.Name())
		}
	}
	if len(areas) == 0 {
		return nil, errors.Errorf("importer: no survey area datasets found under %s", root)
	}
	sort.Strings(areas)
	return areas, nil
}

// ImportTable streams one extract into one table. N well-formed lines insert
// exactly N rows; empty fields become NULL; nothing is sorted or deduplicated.
func (e *Engine) ImportTable(ctx context.Context, table, tabularDir string) (int, error) {
	t, err := e.cat.Get(table)
	if err != nil {
		return 0, err
	}
	cols := t.ColumnNames()

	r, err := extract.Open("importer", filepath.Join(tabularDir, t.Extract+".txt"))
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	batch := make([][]any, 0, insertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.Insert(ctx, table, cols, batch); err != nil {
			return errors.Wrapf(err, "while working with %s and %s", r.Path(), table)
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, errors.Wrapf(err, "while working with %s and %s", r.Path(), table)
		}
		if len(row) != len(cols) {
			return n, &RowShapeError{
				Table: table, Extract: r.Path(), Line: r.Line(),
				Fields: len(row), Columns: len(cols),
			}
		}
		batch = append(batch, extract.Args(row))
		if len(batch) == insertBatch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	e.log.Info().Str("table", table).Int("rows", n).Msg("populated")
	return n, nil
}

// ImportCommon loads the metadata tables shared by every download, plus the
// fixed month lookup.
func (e *Engine) ImportCommon(ctx context.Context, tabularDir string) error {
	for _, table := range commonTables {
		if _, err := e.ImportTable(ctx, table, tabularDir); err != nil {
			return err
		}
	}
	return e.importMonths(ctx)
}

func (e *Engine) importMonths(ctx context.Context) error {
	months := []string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	rows := make([][]any, len(months))
	for i, m := range months {
		rows[i] = []any{i + 1, m}
	}
	if err := e.store.Insert(ctx, "month", []string{"monthseq", "monthname"}, rows); err != nil {
		return errors.Wrap(err, "while working with month")
	}
	e.log.Info().Str("table", "month").Int("rows", len(rows)).Msg("populated")
	return nil
}

// ImportSet loads the tables that are largely identical across surveys but
// may carry state-specific rows.
func (e *Engine) ImportSet(ctx context.Context, tabularDir string) error {
	for _, table := range setTables {
		if _, err := e.ImportTable(ctx, table, tabularDir); err != nil {
			return err
		}
	}
	return nil
}

// ImportSurveyAreas imports every (table, area) unit, appending each area's
// rows to the target table. Units are independent, so a bounded pool works
// them concurrently; ordering across areas does not matter because rows are
// appended, never merged by key. The first failure cancels the group.
func (e *Engine) ImportSurveyAreas(ctx context.Context, root string, areas, tables []string, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, table := range tables {
		for _, area := range areas {
			table, area := table, area
			g.Go(func() error {
				_, err := e.ImportTable(ctx, table, TabularDir(root, area))
				return err
			})
		}
	}
	return g.Wait()
}

// ImportCointerpLegacy populates cointerp for the 1.0 schema generation.
// Only top-level interpretation rows (interpretation key equal to rule key)
// and national commodity crop productivity index rows are kept; the six
// legacy rating columns are dropped from both the column list and each row.
// Superseded entirely by the interp migration for the 2.0 generation.
func (e *Engine) ImportCointerpLegacy(ctx context.Context, root string, areas []string) (int, error) {
	t, err := e.cat.Get("cointerp")
	if err != nil {
		return 0, err
	}
	var cols []string
	var keep []int
	for i, c := range t.Columns {
		if _, drop := legacyCointerpExcluded[c.Sequence]; drop {
			continue
		}
		cols = append(cols, c.Name)
		keep = append(keep, i)
	}

	total := 0
	for _, area := range areas {
		r, err := extract.Open("importer", filepath.Join(TabularDir(root, area), t.Extract+".txt"))
		if err != nil {
			return total, err
		}
		n, err := e.filterCointerp(ctx, r, cols, keep)
		r.Close()
		if err != nil {
			return total, errors.Wrapf(err, "while working with %s and cointerp", r.Path())
		}
		total += n
	}
	e.log.Info().Str("table", "cointerp").Int("rows", total).Msg("populated")
	return total, nil
}

func (e *Engine) filterCointerp(ctx context.Context, r *extract.Reader, cols []string, keep []int) (int, error) {
	n := 0
	batch := make([][]any, 0, insertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.Insert(ctx, "cointerp", cols, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if len(row) <= keep[len(keep)-1] {
			return n, &RowShapeError{
				Table: "cointerp", Extract: r.Path(), Line: r.Line(),
				Fields: len(row), Columns: len(keep),
			}
		}
		interpKey, ruleKey := row[interp.FieldInterpKey].String, row[interp.FieldRuleKey].String
		if interpKey != ruleKey && ruleKey != interp.NCCPIRuleKey {
			continue
		}
		vals := make([]any, len(keep))
		for i, idx := range keep {
			vals[i] = row[idx]
		}
		batch = append(batch, vals)
		if len(batch) == insertBatch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	return n, flush()
}
