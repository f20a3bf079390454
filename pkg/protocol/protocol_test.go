package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

func newTestHandler(t *testing.T) (*Handler, storage.Store, *events.Broker) {
	t.Helper()
	store := storage.NewMemoryStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return NewHandler(store, broker), store, broker
}

func TestHandleHeartbeat(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 4)
	require.NoError(t, err)
	_, err = store.UpdateWorker(worker.ID, types.WorkerPatch{Status: types.Ptr(types.WorkerStatusOffline)})
	require.NoError(t, err)

	handler.Handle(worker.ID, []byte(`{
		"action": "heartbeat",
		"health_metrics": {"cpu_usage": 41.5, "success_count": 7}
	}`))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOnline, w.Status, "heartbeat revives an offline worker")
	assert.Equal(t, 41.5, w.HealthMetrics.CPUUsage)
	assert.EqualValues(t, 7, w.HealthMetrics.SuccessCount)
	assert.False(t, w.LastHeartbeat.IsZero())
}

func TestHandleTaskUpdateProgress(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))

	frame := map[string]any{
		"action":         "task_update",
		"task_id":        task.ID,
		"status":         "downloading",
		"progress":       48.5,
		"download_speed": 1048576,
		"aria2_gid":      "2089b05ecca3d829",
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	handler.Handle(worker.ID, raw)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDownloading, got.Status)
	assert.Equal(t, 48.5, got.Progress)
	assert.EqualValues(t, 1048576, got.DownloadSpeed)
	assert.Equal(t, "2089b05ecca3d829", got.EngineGID)
	assert.Equal(t, worker.ID, got.WorkerID, "non-terminal update keeps the assignment")
}

func TestHandleTaskUpdateTerminalReleasesSlot(t *testing.T) {
	handler, store, broker := newTestHandler(t)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))

	handler.Handle(worker.ID, []byte(`{
		"action": "task_update",
		"task_id": "`+task.ID+`",
		"status": "completed",
		"progress": 100,
		"result": {"path": "/downloads/a"}
	}`))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.WorkerID, "terminal status clears the binding")
	assert.Equal(t, "/downloads/a", got.Result["path"])

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, w.UsedSlots)

	event := <-sub
	assert.Equal(t, events.EventTaskCompleted, event.Type)
	assert.Equal(t, task.ID, event.Metadata["task_id"])
}

func TestHandleTaskUpdateFailedKeepsErrorMessage(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)
	task, err := store.CreateTask("https://example.com/a", nil, types.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))

	handler.Handle(worker.ID, []byte(`{
		"action": "task_update",
		"task_id": "`+task.ID+`",
		"status": "failed",
		"error_message": "connection reset by peer"
	}`))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Equal(t, "connection reset by peer", got.ErrorMessage)
	assert.Empty(t, got.WorkerID)
}

func TestHandleMalformedAndUnknownFrames(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 1)
	require.NoError(t, err)

	// neither frame may panic or mutate state
	handler.Handle(worker.ID, []byte(`{"action": "heartbeat"`))
	handler.Handle(worker.ID, []byte(`{"action": "self_destruct"}`))
	handler.Handle(worker.ID, []byte(`{"action": "task_update"}`))
	handler.Handle(worker.ID, []byte(`{"action": "task_update", "task_id": "task-nope", "status": "completed"}`))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, w.UsedSlots)
}

func TestHandleWorkerUpdate(t *testing.T) {
	handler, store, _ := newTestHandler(t)

	worker, err := store.RegisterWorker("dl-1", "10.0.0.1", 8080, nil, 2)
	require.NoError(t, err)

	handler.Handle(worker.ID, []byte(`{
		"action": "worker_update",
		"total_slots": 8,
		"capabilities": {"engine": "aria2", "version": "1.37"}
	}`))

	w, err := store.GetWorker(worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, w.TotalSlots)
	assert.Equal(t, "aria2", w.Capabilities["engine"])
}

func TestOutboundFrames(t *testing.T) {
	task := &types.Task{ID: "task-1", URL: "https://example.com/a", Status: types.TaskStatusQueued}

	raw, err := AddTaskFrame(task)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ActionAddTask, decoded["action"])
	assert.Equal(t, "task-1", decoded["task"].(map[string]any)["id"])

	raw, err = CancelTaskFrame("task-1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ActionCancelTask, decoded["action"])
	assert.Equal(t, "task-1", decoded["task_id"])

	raw, err = InitialTasksFrame(nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ActionInitialTasks, decoded["action"])
	assert.NotNil(t, decoded["tasks"], "empty snapshot still encodes a list")
}
