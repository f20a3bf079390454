package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/types"
)

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gridpull.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "gridpull.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	assert.NoError(t, err)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridpull.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	task, err := s.CreateTask("https://example.com/a.iso", map[string]any{"dir": "/downloads"}, types.PriorityUrgent)
	require.NoError(t, err)
	worker, err := s.RegisterWorker("dl-1", "10.0.0.1", 8080, map[string]any{"engine": "aria2"}, 3)
	require.NoError(t, err)
	require.NoError(t, s.AssignTask(task.ID, worker.ID))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusQueued, got.Status)
	assert.Equal(t, types.PriorityUrgent, got.Priority)
	assert.Equal(t, worker.ID, got.WorkerID)
	assert.Equal(t, "/downloads", got.Options["dir"])

	w, err := s.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.UsedSlots)
	assert.Equal(t, []string{task.ID}, w.CurrentTasks)
	assert.Equal(t, "aria2", w.Capabilities["engine"])
}
