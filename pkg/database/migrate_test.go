package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_late.sql":   {Data: []byte("SELECT 10")},
		"m/002_second.sql": {Data: []byte("SELECT 2")},
		"m/001_first.sql":  {Data: []byte("SELECT 1")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].Version, got[1].Version, got[2].Version})
	assert.Equal(t, "SELECT 10", got[2].SQL)
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"m/abc_x.sql": {Data: []byte("")}}, "m")
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"m/001_a.sql": {Data: []byte("")},
		"m/001_b.sql": {Data: []byte("")},
	}, "m")
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestEmbeddedCentralMigrationsLoad(t *testing.T) {
	got, err := LoadMigrations(migrationsFS, "migrations")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].Version)
}
