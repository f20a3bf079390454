package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/config"
	"github.com/gridpull/gridpull/pkg/storage"
)

func TestNewWithMemoryStore(t *testing.T) {
	cfg := config.Default()

	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d)
	defer d.store.Close()

	assert.IsType(t, &storage.MemoryStore{}, d.store)
}

func TestNewWithSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Type = config.DBTypeSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "gridpull.db")

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.store.Close()

	assert.IsType(t, &storage.SQLiteStore{}, d.store)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Type = "postgres"

	_, err := New(cfg)
	assert.Error(t, err)
}
