package interp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ncss-tech/RSS-Export/internal/catalog"
	"github.com/ncss-tech/RSS-Export/internal/extract"
)

// Execer is the statement slice of the target store the change lists need.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// ChangeSet applies the versioned metadata deltas that reconcile the two
// schema generations: new table descriptors, column updates/deletes/inserts
// and index list changes, each read from a flat comma-delimited list named
// md_<kind><major>.csv under the metadata directory.
type ChangeSet struct {
	dir   string
	major string
	log   zerolog.Logger
}

func NewChangeSet(dir, generation string, log zerolog.Logger) *ChangeSet {
	major := "2"
	if len(generation) > 0 {
		major = generation[:1]
	}
	return &ChangeSet{dir: dir, major: major, log: log.With().Str("component", "interp").Logger()}
}

func (c *ChangeSet) path(kind string) string {
	return filepath.Join(c.dir, fmt.Sprintf("md_%s%s.csv", kind, c.major))
}

// ClassSeedPath is the rule class seed list for this generation.
func (c *ChangeSet) ClassSeedPath() string {
	return filepath.Join(c.dir, "md_rule_classes"+c.major+".csv")
}

// IndexInsertPath is the secondary index list for this generation.
func (c *ChangeSet) IndexInsertPath() string { return c.path("index_insert") }

// Apply runs every change list against the metadata tables, in the order
// tables, column updates, column inserts, index deletes, index inserts.
func (c *ChangeSet) Apply(ctx context.Context, ins Inserter, ex Execer, cat catalog.Catalog) error {
	if err := c.insertTables(ctx, ins, cat); err != nil {
		return err
	}
	if err := c.updateColumns(ctx, ex); err != nil {
		return err
	}
	if err := c.insertColumns(ctx, ins, cat); err != nil {
		return err
	}
	if err := c.deleteIndexes(ctx, ex); err != nil {
		return err
	}
	return c.insertIndexes(ctx, ins)
}

func (c *ChangeSet) insertTables(ctx context.Context, ins Inserter, cat catalog.Catalog) error {
	t, err := cat.Get("mdstattabs")
	if err != nil {
		return err
	}
	rows, err := extract.ReadConfigCSV("interp", c.path("tables_insert"))
	if err != nil {
		return err
	}
	cols := t.ColumnNames()
	batch := make([][]any, 0, len(rows))
	for _, row := range rows {
		batch = append(batch, configArgs(row, len(cols)))
	}
	if err := ins.Insert(ctx, "mdstattabs", cols, batch); err != nil {
		return errors.Wrap(err, "interp: mdstattabs change list")
	}
	c.log.Info().Int("tables", len(batch)).Msg("registered new metadata tables")
	return nil
}

// updateColumns retypes, resizes, resequences or deletes mdstattabcols rows.
// List shape: table, column, old type, old length, new type, new length,
// new sequence; a new type of "delete" removes the column row.
func (c *ChangeSet) updateColumns(ctx context.Context, ex Execer) error {
	rows, err := extract.ReadConfigCSV("interp", c.path("column_update"))
	if err != nil {
		return err
	}
	updated, deleted := 0, 0
	for _, row := range rows {
		if len(row) < 7 {
			return errors.Errorf("interp: malformed column update row %q", row)
		}
		table, col := row[0], row[1]
		newType, newLen, newSeq := row[4], row[5], row[6]
		if newType == "delete" {
			n, err := ex.Exec(ctx,
				`delete from mdstattabcols where tabphyname = $1 and colphyname = $2`,
				table, col)
			if err != nil {
				return errors.Wrapf(err, "interp: deleting column %s.%s", table, col)
			}
			deleted += int(n)
			continue
		}
		n, err := ex.Exec(ctx,
			`update mdstattabcols
			 set logicaldatatype = $3,
			     fieldsize = nullif($4, '')::int,
			     colsequence = coalesce(nullif($5, '')::int, colsequence)
			 where tabphyname = $1 and colphyname = $2`,
			table, col, newType, newLen, newSeq)
		if err != nil {
			return errors.Wrapf(err, "interp: updating column %s.%s", table, col)
		}
		updated += int(n)
	}
	c.log.Info().Int("updated", updated).Int("deleted", deleted).Msg("reconciled column metadata")
	return nil
}

func (c *ChangeSet) insertColumns(ctx context.Context, ins Inserter, cat catalog.Catalog) error {
	t, err := cat.Get("mdstattabcols")
	if err != nil {
		return err
	}
	rows, err := extract.ReadConfigCSV("interp", c.path("column_insert"))
	if err != nil {
		return err
	}
	cols := t.ColumnNames()
	batch := make([][]any, 0, len(rows))
	for _, row := range rows {
		batch = append(batch, configArgs(row, len(cols)))
	}
	if err := ins.Insert(ctx, "mdstattabcols", cols, batch); err != nil {
		return errors.Wrap(err, "interp: mdstattabcols change list")
	}
	c.log.Info().Int("columns", len(batch)).Msg("registered new metadata columns")
	return nil
}

func (c *ChangeSet) deleteIndexes(ctx context.Context, ex Execer) error {
	rows, err := extract.ReadConfigCSV("interp", c.path("index_delete"))
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 2 {
			return errors.Errorf("interp: malformed index delete row %q", row)
		}
		for _, table := range []string{"mdstatidxmas", "mdstatidxdet"} {
			if _, err := ex.Exec(ctx,
				fmt.Sprintf(`delete from %s where tabphyname = $1 and idxphyname = $2`, table),
				row[0], row[1]); err != nil {
				return errors.Wrapf(err, "interp: deleting index %s.%s", row[0], row[1])
			}
		}
	}
	c.log.Info().Int("indexes", len(rows)).Msg("dropped obsolete index metadata")
	return nil
}

// insertIndexes registers the new indices in both the master and detail
// metadata tables. List shape: table, index, column sequence, column, unique.
func (c *ChangeSet) insertIndexes(ctx context.Context, ins Inserter) error {
	rows, err := extract.ReadConfigCSV("interp", c.path("index_insert"))
	if err != nil {
		return err
	}
	mas := make([][]any, 0, len(rows))
	det := make([][]any, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return errors.Errorf("interp: malformed index insert row %q", row)
		}
		mas = append(mas, []any{row[0], row[1], row[4]})
		det = append(det, []any{row[0], row[1], row[2], row[3]})
	}
	if err := ins.Insert(ctx, "mdstatidxmas",
		[]string{"tabphyname", "idxphyname", "uniqueindex"}, mas); err != nil {
		return errors.Wrap(err, "interp: mdstatidxmas change list")
	}
	if err := ins.Insert(ctx, "mdstatidxdet",
		[]string{"tabphyname", "idxphyname", "idxcolsequence", "colphyname"}, det); err != nil {
		return errors.Wrap(err, "interp: mdstatidxdet change list")
	}
	c.log.Info().Int("indexes", len(rows)).Msg("registered new index metadata")
	return nil
}

// configArgs maps a configuration list row onto width insert arguments,
// normalizing empty fields to NULL and padding trailing absent fields.
func configArgs(row []string, width int) []any {
	out := make([]any, width)
	for i := 0; i < width && i < len(row); i++ {
		if row[i] != "" {
			out[i] = row[i]
		}
	}
	return out
}
