package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, DBTypeMemory, cfg.Database.Type)
	assert.Equal(t, "least_loaded", cfg.TaskAssignment.Strategy)
	assert.Equal(t, 3, cfg.TaskAssignment.MaxRetries)
	assert.Equal(t, 300*time.Second, cfg.TaskAssignment.RetryDelayDuration())
	assert.Equal(t, 30*time.Second, cfg.WorkerManagement.HeartbeatIntervalDuration())
	assert.Equal(t, 90*time.Second, cfg.WorkerManagement.HeartbeatTimeoutDuration())
	assert.True(t, cfg.WorkerManagement.AutoRemoveOffline)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.json")
	body := `{
		"port": 9000,
		"database": {"type": "sqlite", "path": "/tmp/grid.db"},
		"task_assignment": {"strategy": "tags"},
		"worker_management": {"auto_remove_offline": false}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, DBTypeSQLite, cfg.Database.Type)
	assert.Equal(t, "/tmp/grid.db", cfg.Database.Path)
	assert.Equal(t, "tags", cfg.TaskAssignment.Strategy)
	assert.False(t, cfg.WorkerManagement.AutoRemoveOffline)
	// untouched keys keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 3, cfg.TaskAssignment.MaxRetries)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesDatabase(t *testing.T) {
	t.Setenv(EnvDBType, "sqlite")
	t.Setenv(EnvDBPath, "/var/lib/gridpull/state.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DBTypeSQLite, cfg.Database.Type)
	assert.Equal(t, "/var/lib/gridpull/state.db", cfg.Database.Path)
}

func TestEnvAliasNames(t *testing.T) {
	t.Setenv(EnvDBTypeAlias, "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DBTypeSQLite, cfg.Database.Type)
}

func TestUnknownDatabaseTypeRejected(t *testing.T) {
	t.Setenv(EnvDBType, "postgres")

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
