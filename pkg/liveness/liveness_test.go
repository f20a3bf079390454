package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

func testConfig() Config {
	return Config{
		CheckInterval:    30 * time.Second,
		HeartbeatTimeout: 90 * time.Second,
		AutoRemove:       true,
		OfflineThreshold: 300 * time.Second,
	}
}

func TestSweepLeavesHealthyWorkersAlone(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, nil, testConfig())

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 2)
	require.NoError(t, err)

	m.Sweep(time.Now().UTC().Add(60 * time.Second))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOnline, w.Status)
}

func TestSweepMarksStaleWorkerOfflineAndRequeues(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, nil, testConfig())

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 2)
	require.NoError(t, err)

	active, err := store.CreateTask("https://example.com/active", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(active.ID, worker.ID))
	_, err = store.UpdateTask(active.ID, types.TaskPatch{Status: types.Ptr(types.TaskStatusDownloading)})
	require.NoError(t, err)

	m.Sweep(time.Now().UTC().Add(2 * time.Minute))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOffline, w.Status)
	assert.Equal(t, 0, w.UsedSlots)

	got, err := store.GetTask(active.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status, "in-flight work returns to the queue")
	assert.Empty(t, got.WorkerID)
}

func TestSweepBusyWorkerPastTimeoutGoesOffline(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, nil, testConfig())

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorkerStatusBusy, w.Status)

	m.Sweep(time.Now().UTC().Add(2 * time.Minute))

	w, err = store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOffline, w.Status)
}

func TestSweepRemovesLongOfflineWorker(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, nil, testConfig())

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)

	// first sweep: offline; second sweep past the threshold: removed
	m.Sweep(time.Now().UTC().Add(2 * time.Minute))
	m.Sweep(time.Now().UTC().Add(10 * time.Minute))

	_, err = store.GetWorker(worker.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepKeepsOfflineWorkerWhenAutoRemoveDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testConfig()
	cfg.AutoRemove = false
	m := New(store, nil, cfg)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)

	m.Sweep(time.Now().UTC().Add(2 * time.Minute))
	m.Sweep(time.Now().UTC().Add(10 * time.Minute))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOffline, w.Status)
}

func TestSweepPreservesTerminalTaskStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	m := New(store, nil, testConfig())

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))
	_, err = store.UpdateTask(task.ID, types.TaskPatch{Status: types.Ptr(types.TaskStatusCompleted)})
	require.NoError(t, err)

	m.Sweep(time.Now().UTC().Add(2 * time.Minute))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status, "finished work is not requeued")
	assert.Empty(t, got.WorkerID)
}
