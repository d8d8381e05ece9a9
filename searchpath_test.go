package mbscript

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPathOrder(t *testing.T) {
	sp := NewSearchPath(afero.NewMemMapFs(), "b")
	sp.Insert(0, "/script")
	sp.Extend("c", "d")
	sp.Insert(99, "z")
	sp.Insert(-3, "first")

	assert.Equal(t, []string{"first", "/script", "b", "c", "d", "z"}, sp.Dirs())
	assert.Equal(t, 6, sp.Len())
	assert.Equal(t, "first;/script;b;c;d;z", sp.String())

	dirs := sp.Dirs()
	dirs[0] = "mutated"
	assert.Equal(t, "first", sp.Dirs()[0])
}

func TestSearchPathFind(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/a/plant.yaml", []byte("name: a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/lib/b/plant.yaml", []byte("name: b"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/lib/b/util.go", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "local.yaml", nil, 0o644))

	sp := NewSearchPath(fs, "/missing", "/lib/a", "/lib/b", "")

	got, err := sp.Find("plant.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lib/a", "plant.yaml"), got)

	got, err = sp.Find("util.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lib/b", "util.go"), got)

	got, err = sp.Find("local.yaml")
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", got)

	got, err = sp.Find("/lib/b/plant.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/lib/b/plant.yaml", got)

	_, err = sp.Find("nope.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = sp.Find("")
	assert.ErrorIs(t, err, ErrNotFound)
}
