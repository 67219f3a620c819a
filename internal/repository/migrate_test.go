package repository

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsync/migrations"
)

func TestMigrationNamesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql": {Data: []byte("select 1")},
		"001_a.sql": {Data: []byte("select 1")},
		"README.md": {Data: []byte("x")},
		"010_c.sql": {Data: []byte("select 1")},
		"sub/x.sql": {Data: []byte("select 1")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql", "010_c.sql"}, names)
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames(migrations.Files)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_conversation_snapshots.sql", names[0])
}
