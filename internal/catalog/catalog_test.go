package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncss-tech/RSS-Export/internal/extract"
)

func writeTabular(t *testing.T, mstab, mstabcol string) string {
	t.Helper()
	dir := t.TempDir()
	if mstab != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mstab.txt"), []byte(mstab), 0o644))
	}
	if mstabcol != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mstabcol.txt"), []byte(mstabcol), 0o644))
	}
	return dir
}

func TestLoadSortsColumnsBySequence(t *testing.T) {
	// columns arrive out of order and with a non-contiguous sequence
	dir := writeTabular(t,
		"component|x|Component Data|x|comp\n",
		"component|40|compname\ncomponent|1|cokey\ncomponent|15|comppct\n",
	)

	cat, err := Load(dir)
	require.NoError(t, err)

	tab, err := cat.Get("component")
	require.NoError(t, err)
	assert.Equal(t, "comp", tab.Extract)
	assert.Equal(t, "Component Data", tab.Label)
	assert.Equal(t, []string{"cokey", "comppct", "compname"}, tab.ColumnNames())
}

func TestLoadIgnoresUnknownTables(t *testing.T) {
	dir := writeTabular(t,
		"mapunit|x|Map Unit|x|mapunit\n",
		"mapunit|1|mukey\nghost|1|gcol\n",
	)

	cat, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cat, 1)

	_, err = cat.Get("ghost")
	assert.Error(t, err)
}

func TestLoadMissingRegistryIsFatal(t *testing.T) {
	dir := writeTabular(t, "", "mapunit|1|mukey\n")
	_, err := Load(dir)
	assert.True(t, extract.IsMissing(err))

	dir = writeTabular(t, "mapunit|x|Map Unit|x|mapunit\n", "")
	_, err = Load(dir)
	assert.True(t, extract.IsMissing(err))
}

func TestLoadBadSequence(t *testing.T) {
	dir := writeTabular(t,
		"mapunit|x|Map Unit|x|mapunit\n",
		"mapunit|one|mukey\n",
	)
	_, err := Load(dir)
	assert.Error(t, err)
}
