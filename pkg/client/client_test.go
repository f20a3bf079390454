package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpull/gridpull/pkg/api"
	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/registry"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

type nopKicker struct{}

func (nopKicker) Kick() {}

func newTestServer(t *testing.T, cfg api.Config) (*httptest.Server, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	reg := registry.New(store, broker)
	handler := protocol.NewHandler(store, broker)

	srv := httptest.NewServer(api.NewServer(cfg, store, reg, broker, handler, nopKicker{}).Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func TestTaskLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, api.Config{})
	c := New(srv.URL, "")
	ctx := context.Background()

	task, err := c.CreateTask(ctx, "https://example.com/file.iso", map[string]any{"dir": "/downloads"}, "high")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, types.PriorityHigh, task.Priority)

	got, err := c.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	tasks, err := c.ListTasks(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, c.DeleteTask(ctx, task.ID))

	_, err = c.GetTask(ctx, task.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRequeueTask(t *testing.T) {
	srv, store := newTestServer(t, api.Config{})
	c := New(srv.URL, "")
	ctx := context.Background()

	task, err := store.CreateTask("https://example.com/a.bin", nil, types.PriorityNormal)
	require.NoError(t, err)
	worker, err := store.RegisterWorker("w1", "10.0.0.1", 9000, nil, 2)
	require.NoError(t, err)
	require.NoError(t, store.AssignTask(task.ID, worker.ID))

	requeued, err := c.RequeueTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, requeued.Status)
	assert.Empty(t, requeued.WorkerID)
}

func TestWorkerEndpoints(t *testing.T) {
	srv, store := newTestServer(t, api.Config{})
	c := New(srv.URL, "")
	ctx := context.Background()

	worker, err := store.RegisterWorker("dl-host", "10.0.0.2", 9000, nil, 5)
	require.NoError(t, err)

	workers, err := c.ListWorkers(ctx, "")
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "dl-host", workers[0].Hostname)

	got, err := c.GetWorker(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.ID, got.ID)

	require.NoError(t, c.DeleteWorker(ctx, worker.ID))

	workers, err = c.ListWorkers(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestStatusSnapshot(t *testing.T) {
	srv, store := newTestServer(t, api.Config{})
	c := New(srv.URL, "")
	ctx := context.Background()

	_, err := store.RegisterWorker("w1", "10.0.0.3", 9000, nil, 4)
	require.NoError(t, err)
	_, err = store.CreateTask("https://example.com/b.bin", nil, types.PriorityNormal)
	require.NoError(t, err)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveWorkers)
	assert.Equal(t, 1, status.TotalTasks)
	assert.Equal(t, 1, status.TasksByStatus[types.TaskStatusPending])
}

func TestAPIKeyHeader(t *testing.T) {
	srv, _ := newTestServer(t, api.Config{
		APIKeyRequired: true,
		APIKeys:        []string{"sekrit"},
	})
	ctx := context.Background()

	_, err := New(srv.URL, "").ListTasks(ctx, "")
	assert.Error(t, err)

	_, err = New(srv.URL, "sekrit").ListTasks(ctx, "")
	assert.NoError(t, err)
}

func TestErrorMessageSurfaced(t *testing.T) {
	srv, _ := newTestServer(t, api.Config{})
	c := New(srv.URL, "")

	_, err := c.CreateTask(context.Background(), "ftp://example.com/file", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}
