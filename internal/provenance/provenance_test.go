package provenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	table string
	cols  []string
	rows  [][]any
}

func (f *fakeInserter) Insert(_ context.Context, table string, cols []string, rows [][]any) error {
	f.table = table
	f.cols = cols
	f.rows = rows
	return nil
}

func TestReadSSURGOVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.txt"), []byte("2.3.4|2025-10-01\n"), 0o644))
	assert.Equal(t, "2.3.4", ReadSSURGOVersion(dir))
}

func TestReadSSURGOVersionAbsent(t *testing.T) {
	assert.Equal(t, "NA", ReadSSURGOVersion(t.TempDir()))
}

func TestReadSSURGOVersionEmptyField(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.txt"), []byte("|x\n"), 0o644))
	assert.Equal(t, "NA", ReadSSURGOVersion(dir))
}

func TestRecord(t *testing.T) {
	ins := &fakeInserter{}
	info := Info{
		SSURGOVersion: "2.3.4",
		Generation:    "2.0",
		DBVersion:     "16.4",
		ToolVersion:   "1.2",
		RunID:         NewRunID(),
	}
	require.NoError(t, Record(context.Background(), ins, info))

	assert.Equal(t, "version", ins.table)
	assert.Equal(t, []string{"type", "name", "version"}, ins.cols)
	require.Len(t, ins.rows, 8)
	assert.Equal(t, []any{"Data Source", "SSURGO", "2.3.4"}, ins.rows[0])
	assert.Equal(t, []any{"Data Model", "gSSURGO", "2.0"}, ins.rows[1])
	assert.Equal(t, info.RunID, ins.rows[7][2])
}

func TestNewRunIDDistinct(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
