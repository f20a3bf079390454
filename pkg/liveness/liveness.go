package liveness

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// Config tunes the monitor
type Config struct {
	// CheckInterval is the sweep period, normally the fleet's
	// heartbeat interval
	CheckInterval time.Duration

	// HeartbeatTimeout marks a worker offline once its last heartbeat
	// is older than this
	HeartbeatTimeout time.Duration

	// AutoRemove deletes offline workers after OfflineThreshold
	AutoRemove       bool
	OfflineThreshold time.Duration
}

// Monitor sweeps the worker fleet for stale heartbeats. A worker past
// the timeout goes offline and its active tasks return to pending; a
// worker offline past the threshold is removed entirely when auto
// removal is on.
type Monitor struct {
	store  storage.Store
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a monitor
func New(store storage.Store, broker *events.Broker, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &Monitor{
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("liveness"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(time.Now().UTC())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep runs one liveness check against the given clock reading
func (m *Monitor) Sweep(now time.Time) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list workers")
		return
	}

	for _, w := range workers {
		switch w.Status {
		case types.WorkerStatusOffline:
			if m.cfg.AutoRemove && now.Sub(w.LastHeartbeat) > m.cfg.OfflineThreshold {
				m.remove(w)
			}
		default:
			if now.Sub(w.LastHeartbeat) > m.cfg.HeartbeatTimeout {
				m.markOffline(w)
			}
		}
	}
}

// markOffline transitions the worker to offline and requeues its active
// tasks so the scheduler can place them elsewhere
func (m *Monitor) markOffline(w *types.Worker) {
	offline := types.WorkerStatusOffline
	if _, err := m.store.UpdateWorker(w.ID, types.WorkerPatch{Status: &offline}); err != nil {
		m.logger.Error().Str("worker_id", w.ID).Err(err).Msg("failed to mark worker offline")
		return
	}

	requeued := m.requeueTasks(w.ID)

	if m.broker != nil {
		m.broker.PublishType(events.EventWorkerOffline, "worker missed heartbeats", map[string]string{
			"worker_id": w.ID,
			"hostname":  w.Hostname,
		})
	}
	m.logger.Warn().
		Str("worker_id", w.ID).
		Time("last_heartbeat", w.LastHeartbeat).
		Int("tasks_requeued", requeued).
		Msg("worker offline")
}

// remove deletes a worker that stayed offline past the threshold
func (m *Monitor) remove(w *types.Worker) {
	// any tasks still bound to the worker go back to the queue first
	m.requeueTasks(w.ID)

	if err := m.store.DeleteWorker(w.ID); err != nil {
		m.logger.Error().Str("worker_id", w.ID).Err(err).Msg("failed to remove worker")
		return
	}

	if m.broker != nil {
		m.broker.PublishType(events.EventWorkerRemoved, "offline worker removed", map[string]string{
			"worker_id": w.ID,
			"hostname":  w.Hostname,
		})
	}
	m.logger.Info().Str("worker_id", w.ID).Msg("offline worker removed")
}

// requeueTasks unbinds every task assigned to the worker and returns
// non-terminal ones to pending. Terminal tasks only lose the binding.
func (m *Monitor) requeueTasks(workerID string) int {
	tasks, err := m.store.ListTasksByWorker(workerID)
	if err != nil {
		m.logger.Error().Str("worker_id", workerID).Err(err).Msg("failed to list worker tasks")
		return 0
	}

	requeued := 0
	for _, task := range tasks {
		if err := m.store.UnassignTask(task.ID); err != nil {
			m.logger.Error().Str("task_id", task.ID).Err(err).Msg("failed to unassign task")
			continue
		}
		if task.Status.Final() {
			continue
		}
		pending := types.TaskStatusPending
		if _, err := m.store.UpdateTask(task.ID, types.TaskPatch{Status: &pending}); err != nil {
			m.logger.Error().Str("task_id", task.ID).Err(err).Msg("failed to requeue task")
			continue
		}
		requeued++
	}
	return requeued
}
