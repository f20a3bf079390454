package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/types"
)

func TestMigrateMemoryToSQLite(t *testing.T) {
	src := NewMemoryStore()
	dst, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gridpull.db"))
	require.NoError(t, err)
	defer dst.Close()

	worker, err := src.RegisterWorker("dl-1", "10.0.0.1", 8080, map[string]any{"engine": "aria2"}, 2)
	require.NoError(t, err)

	active, err := src.CreateTask("https://example.com/active", nil, types.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, src.AssignTask(active.ID, worker.ID))
	_, err = src.UpdateTask(active.ID, types.TaskPatch{
		Status:    types.Ptr(types.TaskStatusDownloading),
		EngineGID: types.Ptr("gid-1234"),
		Progress:  types.Ptr(61.5),
	})
	require.NoError(t, err)

	done, err := src.CreateTask("https://example.com/done", nil, types.PriorityNormal)
	require.NoError(t, err)
	_, err = src.UpdateTask(done.ID, types.TaskPatch{Status: types.Ptr(types.TaskStatusCompleted)})
	require.NoError(t, err)

	stats, err := Migrate(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WorkersMigrated)
	assert.Equal(t, 2, stats.TasksMigrated)
	assert.Empty(t, stats.Errors)

	workers, err := dst.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.NotEqual(t, worker.ID, workers[0].ID, "destination mints fresh worker IDs")
	assert.Equal(t, "dl-1", workers[0].Hostname)
	assert.Equal(t, 1, workers[0].UsedSlots, "slot accounting is rebuilt from assignments")

	tasks, err := dst.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	migrated := tasks[0]
	assert.Equal(t, types.TaskStatusDownloading, migrated.Status)
	assert.Equal(t, workers[0].ID, migrated.WorkerID, "assignment follows the remapped worker ID")
	assert.Equal(t, "gid-1234", migrated.EngineGID)
	assert.Equal(t, 61.5, migrated.Progress)

	assert.Equal(t, types.TaskStatusCompleted, tasks[1].Status)
	assert.Empty(t, tasks[1].WorkerID)
}

func TestMigrateActiveTaskWithoutWorkerRestartsPending(t *testing.T) {
	src := NewMemoryStore()
	dst := NewMemoryStore()

	worker, err := src.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := src.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, src.AssignTask(task.ID, worker.ID))

	// drop the worker binding in a way the worker map never sees
	require.NoError(t, src.DeleteWorker(worker.ID))
	require.NoError(t, src.DeleteTask(task.ID))
	orphan, err := src.CreateTask("https://example.com/orphan", nil, types.PriorityNormal)
	require.NoError(t, err)
	_, err = src.UpdateTask(orphan.ID, types.TaskPatch{
		Status:   types.Ptr(types.TaskStatusQueued),
		WorkerID: types.Ptr("worker-gone"),
	})
	require.NoError(t, err)

	stats, err := Migrate(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TasksMigrated)

	tasks, err := dst.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskStatusPending, tasks[0].Status)
	assert.Empty(t, tasks[0].WorkerID)
}

func TestMigrateRebuildsBusyFromReplayedSlots(t *testing.T) {
	src := NewMemoryStore()
	dst := NewMemoryStore()

	worker, err := src.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := src.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, src.AssignTask(task.ID, worker.ID))

	_, err = Migrate(src, dst)
	require.NoError(t, err)

	workers, err := dst.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, types.WorkerStatusBusy, workers[0].Status, "replayed task fills the worker back up")
	assert.Equal(t, 1, workers[0].UsedSlots)
}

func TestMigrateBusyWorkerWithoutReplayedTasksGoesOnline(t *testing.T) {
	src := NewMemoryStore()
	dst := NewMemoryStore()

	worker, err := src.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := src.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, src.AssignTask(task.ID, worker.ID))

	// terminal status without an unassign leaves the source worker busy
	// while the task no longer replays on the destination
	_, err = src.UpdateTask(task.ID, types.TaskPatch{Status: types.Ptr(types.TaskStatusFailed)})
	require.NoError(t, err)

	_, err = Migrate(src, dst)
	require.NoError(t, err)

	workers, err := dst.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, types.WorkerStatusOnline, workers[0].Status, "busy without used slots would be incoherent")
	assert.Equal(t, 0, workers[0].UsedSlots)
}

func TestMigrateRoundTrip(t *testing.T) {
	src := NewMemoryStore()
	mid, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mid.db"))
	require.NoError(t, err)
	defer mid.Close()
	back := NewMemoryStore()

	for _, url := range []string{"https://a", "https://b", "https://c"} {
		_, err := src.CreateTask(url, nil, types.PriorityNormal)
		require.NoError(t, err)
	}

	_, err = Migrate(src, mid)
	require.NoError(t, err)
	_, err = Migrate(mid, back)
	require.NoError(t, err)

	tasks, err := back.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "https://a", tasks[0].URL)
}
