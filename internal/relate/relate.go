// Package relate materializes the logical table relationships and secondary
// indices once bulk import has completed, so neither contends with row
// insertion.
package relate

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ncss-tech/RSS-Export/internal/extract"
	"github.com/ncss-tech/RSS-Export/internal/store"
)

// RowQuerier reads the relationship metadata back from the populated store.
type RowQuerier interface {
	QueryRows(ctx context.Context, query string, args ...any) ([][]sql.NullString, error)
}

// RelationshipCreator materializes one relationship against the target schema.
type RelationshipCreator interface {
	CreateRelationship(ctx context.Context, r store.Relationship) error
}

// IndexCreator builds one secondary index against the target schema.
type IndexCreator interface {
	CreateIndex(ctx context.Context, ix store.Index) error
}

type pair struct{ left, right string }

// BuildRelationships reads the relationship master list (table pairs) and
// detail list (table pairs plus column pairs) and creates one relationship
// per declared pair. The master list is the deduplication key: when the
// detail metadata enumerates several column pairs for one table pair, only
// the first detail row produces a relationship. Missing metadata is a
// degraded result, not an error; relationship creation is skipped for the
// run and reported.
func BuildRelationships(ctx context.Context, q RowQuerier, c RelationshipCreator, log zerolog.Logger) (int, error) {
	log = log.With().Str("component", "relate").Logger()

	master, err := q.QueryRows(ctx, `select ltabphyname, rtabphyname from mdstatrshipmas`)
	if err != nil {
		if errors.Is(err, store.ErrNoTable) {
			log.Warn().Msg("missing mdstatrshipmas table, relationship classes not created")
			return 0, nil
		}
		return 0, errors.Wrap(err, "relate: reading relationship master list")
	}
	detail, err := q.QueryRows(ctx,
		`select ltabphyname, rtabphyname, ltabcolphyname, rtabcolphyname from mdstatrshipdet`)
	if err != nil {
		if errors.Is(err, store.ErrNoTable) {
			log.Warn().Msg("missing mdstatrshipdet table, relationship classes not created")
			return 0, nil
		}
		return 0, errors.Wrap(err, "relate: reading relationship detail list")
	}

	declared := make(map[pair]struct{}, len(master))
	for _, row := range master {
		declared[pair{row[0].String, row[1].String}] = struct{}{}
	}

	created := 0
	for _, row := range detail {
		p := pair{row[0].String, row[1].String}
		if _, ok := declared[p]; !ok {
			continue
		}
		rel := store.Relationship{
			LeftTable:   row[0].String, // dependent side, foreign key
			RightTable:  row[1].String, // referenced side, primary key
			LeftColumn:  row[2].String,
			RightColumn: row[3].String,
		}
		log.Debug().Str("left", rel.LeftTable).Str("right", rel.RightTable).Msg("creating relationship")
		if err := c.CreateRelationship(ctx, rel); err != nil {
			return created, errors.Wrapf(err, "relate: %s to %s on %s", rel.LeftTable, rel.RightTable, rel.LeftColumn)
		}
		created++
		delete(declared, p)
	}
	log.Info().Int("relationships", created).Msg("created table relationships on key fields")
	return created, nil
}

// LoadIndexList reads the consolidated index configuration for one schema
// generation. Any field already part of a relationship is indexed implicitly
// by the relationship itself, so this list only covers the rest. List shape:
// table, index, column sequence, column, unique (Yes/No).
func LoadIndexList(path string) ([]store.Index, error) {
	rows, err := extract.ReadConfigCSV("relate", path)
	if err != nil {
		return nil, err
	}
	list := make([]store.Index, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, errors.Errorf("relate: malformed index row %d in %s", i+1, path)
		}
		list = append(list, store.Index{
			Table:  row[0],
			Name:   row[1],
			Column: row[3],
			Unique: row[4] == "Yes",
		})
	}
	return list, nil
}

// BuildIndices creates every configured index. A failed index is reported
// and skipped; the run continues with the remainder.
func BuildIndices(ctx context.Context, c IndexCreator, list []store.Index, log zerolog.Logger) (created, failed int) {
	log = log.With().Str("component", "relate").Logger()
	for _, ix := range list {
		if err := c.CreateIndex(ctx, ix); err != nil {
			log.Warn().Err(err).
				Str("table", ix.Table).Str("index", ix.Name).Str("column", ix.Column).
				Msg("failed to create index")
			failed++
			continue
		}
		created++
	}
	log.Info().Int("created", created).Int("failed", failed).Msg("added attribute indices")
	return created, failed
}
