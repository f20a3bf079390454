package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

type countingKicker struct{ kicks int }

func (k *countingKicker) Kick() { k.kicks++ }

func testConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: 5 * time.Minute}
}

func failTask(t *testing.T, store storage.Store, url string, retryCount int) *types.Task {
	t.Helper()
	var options map[string]any
	if retryCount > 0 {
		options = map[string]any{types.OptionRetryCount: retryCount}
	}
	task, err := store.CreateTask(url, options, types.PriorityNormal)
	require.NoError(t, err)
	_, err = store.UpdateTask(task.ID, types.TaskPatch{
		Status:       types.Ptr(types.TaskStatusFailed),
		ErrorMessage: types.Ptr("download error"),
		EngineGID:    types.Ptr("gid-dead"),
	})
	require.NoError(t, err)
	return task
}

func TestPassRequeuesAfterDelay(t *testing.T) {
	store := storage.NewMemoryStore()
	kicker := &countingKicker{}
	c := New(store, nil, kicker, testConfig())

	task := failTask(t, store, "https://example.com/a", 0)

	c.Pass(time.Now().UTC().Add(10 * time.Minute))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount())
	assert.Empty(t, got.WorkerID)
	assert.Empty(t, got.EngineGID, "stale engine handle is cleared")
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, kicker.kicks)
}

func TestPassRespectsDelay(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, nil, nil, testConfig())

	task := failTask(t, store, "https://example.com/a", 0)

	c.Pass(time.Now().UTC().Add(time.Minute))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status, "task rests until the delay elapses")
	assert.Equal(t, 0, got.RetryCount())
}

func TestPassStopsAtMaxRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	kicker := &countingKicker{}
	c := New(store, nil, kicker, testConfig())

	task := failTask(t, store, "https://example.com/a", 3)

	c.Pass(time.Now().UTC().Add(time.Hour))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status, "exhausted task stays failed")
	assert.Equal(t, 3, got.RetryCount())
	assert.Zero(t, kicker.kicks)
}

func TestPassCountsAttemptsAcrossSweeps(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := Config{MaxRetries: 2, RetryDelay: time.Minute}
	c := New(store, nil, nil, cfg)

	task := failTask(t, store, "https://example.com/a", 0)

	for attempt := 1; attempt <= 2; attempt++ {
		c.Pass(time.Now().UTC().Add(time.Hour))

		got, err := store.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount())

		// the download fails again
		_, err = store.UpdateTask(task.ID, types.TaskPatch{Status: types.Ptr(types.TaskStatusFailed)})
		require.NoError(t, err)
	}

	c.Pass(time.Now().UTC().Add(time.Hour))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount())
}

func TestPassIgnoresHealthyTasks(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, nil, nil, testConfig())

	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)

	c.Pass(time.Now().UTC().Add(time.Hour))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount())
}
