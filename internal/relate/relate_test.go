package relate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncss-tech/RSS-Export/internal/store"
)

type fakeQuerier struct {
	master [][]sql.NullString
	detail [][]sql.NullString
	err    error
}

func (f *fakeQuerier) QueryRows(_ context.Context, query string, _ ...any) ([][]sql.NullString, error) {
	if f.err != nil {
		return nil, f.err
	}
	if query == `select ltabphyname, rtabphyname from mdstatrshipmas` {
		return f.master, nil
	}
	return f.detail, nil
}

type fakeCreator struct {
	rels    []store.Relationship
	indices []store.Index
	failOn  string // index name that fails
}

func (f *fakeCreator) CreateRelationship(_ context.Context, r store.Relationship) error {
	f.rels = append(f.rels, r)
	return nil
}

func (f *fakeCreator) CreateIndex(_ context.Context, ix store.Index) error {
	if ix.Name == f.failOn {
		return fmt.Errorf("boom")
	}
	f.indices = append(f.indices, ix)
	return nil
}

func row(fields ...string) []sql.NullString {
	out := make([]sql.NullString, len(fields))
	for i, f := range fields {
		out[i] = sql.NullString{String: f, Valid: true}
	}
	return out
}

func TestBuildRelationshipsOnePerPair(t *testing.T) {
	q := &fakeQuerier{
		master: [][]sql.NullString{
			row("component", "mapunit"),
			row("chorizon", "component"),
		},
		// two detail rows for the same pair, only the first one counts
		detail: [][]sql.NullString{
			row("component", "mapunit", "mukey", "mukey"),
			row("component", "mapunit", "lkey", "lkey"),
			row("chorizon", "component", "cokey", "cokey"),
		},
	}
	c := &fakeCreator{}

	n, err := BuildRelationships(context.Background(), q, c, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, c.rels, 2)
	assert.Equal(t, "mukey", c.rels[0].LeftColumn)
	assert.Equal(t, "chorizon", c.rels[1].LeftTable)
}

func TestBuildRelationshipsSkipsUndeclaredPairs(t *testing.T) {
	q := &fakeQuerier{
		master: [][]sql.NullString{row("component", "mapunit")},
		detail: [][]sql.NullString{
			row("ghost", "mapunit", "mukey", "mukey"),
			row("component", "mapunit", "mukey", "mukey"),
		},
	}
	c := &fakeCreator{}

	n, err := BuildRelationships(context.Background(), q, c, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "component", c.rels[0].LeftTable)
}

func TestBuildRelationshipsMissingMetadataDegrades(t *testing.T) {
	q := &fakeQuerier{err: store.ErrNoTable}
	c := &fakeCreator{}

	n, err := BuildRelationships(context.Background(), q, c, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, c.rels)
}

func TestLoadIndexList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "md_index_insert2.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"tabphyname,idxphyname,seq,colphyname,unique\n"+
			"mapunit,UI_mapunit_mukey,1,mukey,Yes\n"+
			"component,DI_component_compname,1,compname,No\n"), 0o644))

	list, err := LoadIndexList(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, store.Index{Table: "mapunit", Name: "UI_mapunit_mukey", Column: "mukey", Unique: true}, list[0])
	assert.False(t, list[1].Unique)

	_, err = LoadIndexList(filepath.Join(dir, "absent.csv"))
	assert.Error(t, err)
}

func TestLoadIndexListMalformedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md_index_insert2.csv")
	require.NoError(t, os.WriteFile(path, []byte("h1,h2\nmapunit,short\n"), 0o644))
	_, err := LoadIndexList(path)
	assert.Error(t, err)
}

func TestBuildIndicesContinuesPastFailures(t *testing.T) {
	list := []store.Index{
		{Table: "mapunit", Name: "a", Column: "mukey"},
		{Table: "component", Name: "bad", Column: "cokey"},
		{Table: "chorizon", Name: "c", Column: "chkey"},
	}
	c := &fakeCreator{failOn: "bad"}

	created, failed := BuildIndices(context.Background(), c, list, zerolog.Nop())
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, failed)
	require.Len(t, c.indices, 2)
	assert.Equal(t, "c", c.indices[1].Name)
}
