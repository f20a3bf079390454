package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/metrics"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// Conn is one worker control channel. Send must be safe for concurrent
// use; WSConn serializes writes with a mutex.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Registry tracks which workers currently hold an open control channel
// and pushes dispatcher-to-worker frames to them. At most one connection
// per worker ID is mapped; a reconnect evicts the previous channel.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// New creates an empty registry
func New(store storage.Store, broker *events.Broker) *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		store:  store,
		broker: broker,
		logger: log.WithComponent("registry"),
	}
}

// Attach maps a connection to a registered worker. The worker must
// already exist in the store; connecting with an unknown ID is refused.
// On success the worker's heartbeat is refreshed and the snapshot of its
// assigned tasks is sent as the first frame.
func (r *Registry) Attach(workerID string, conn Conn) error {
	if _, err := r.store.GetWorker(workerID); err != nil {
		return fmt.Errorf("refusing channel: %w", err)
	}
	if err := r.store.UpdateWorkerHeartbeat(workerID, time.Now().UTC()); err != nil {
		return err
	}

	snapshot, err := r.store.ListTasksByWorker(workerID)
	if err != nil {
		return err
	}
	frame, err := protocol.InitialTasksFrame(snapshot)
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		return fmt.Errorf("failed to send initial snapshot: %w", err)
	}

	r.mu.Lock()
	if old, ok := r.conns[workerID]; ok {
		r.logger.Warn().Str("worker_id", workerID).Msg("evicting previous channel")
		_ = old.Close()
	}
	r.conns[workerID] = conn
	count := len(r.conns)
	r.mu.Unlock()

	metrics.WorkersConnected.Set(float64(count))
	if r.broker != nil {
		r.broker.PublishType(events.EventWorkerConnected, "worker channel opened",
			map[string]string{"worker_id": workerID})
	}
	r.logger.Info().Str("worker_id", workerID).Int("tasks", len(snapshot)).Msg("worker channel attached")
	return nil
}

// Detach unmaps the connection if it is still the one on record and
// marks the worker offline. A detach racing a newer attach is a no-op,
// so reconnects do not knock the fresh channel offline.
func (r *Registry) Detach(workerID string, conn Conn) {
	r.mu.Lock()
	current, ok := r.conns[workerID]
	if !ok || current != conn {
		r.mu.Unlock()
		return
	}
	delete(r.conns, workerID)
	count := len(r.conns)
	r.mu.Unlock()

	metrics.WorkersConnected.Set(float64(count))

	offline := types.WorkerStatusOffline
	if _, err := r.store.UpdateWorker(workerID, types.WorkerPatch{Status: &offline}); err != nil {
		r.logger.Warn().Str("worker_id", workerID).Err(err).Msg("failed to mark worker offline")
	}
	if r.broker != nil {
		r.broker.PublishType(events.EventWorkerDisconnected, "worker channel closed",
			map[string]string{"worker_id": workerID})
	}
	r.logger.Info().Str("worker_id", workerID).Msg("worker channel detached")
}

// Send pushes one frame to the worker's channel. Absent or broken
// channels are logged no-ops; the caller never fails because a worker
// dropped off.
func (r *Registry) Send(workerID string, frame []byte) {
	r.mu.RLock()
	conn, ok := r.conns[workerID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("worker_id", workerID).Msg("no channel for worker, frame dropped")
		return
	}
	if err := conn.Send(frame); err != nil {
		r.logger.Warn().Str("worker_id", workerID).Err(err).Msg("failed to send frame")
	}
}

// Connected reports whether the worker currently holds a channel
func (r *Registry) Connected(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[workerID]
	return ok
}

// ConnectedIDs returns the IDs of all workers with an open channel
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of open channels
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
