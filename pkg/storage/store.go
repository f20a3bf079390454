package storage

import (
	"errors"
	"time"

	"github.com/gridpull/gridpull/pkg/types"
)

var (
	// ErrNotFound is returned when a task or worker does not exist
	ErrNotFound = errors.New("not found")

	// ErrNoCapacity is returned when an assignment targets a worker
	// with no free slots
	ErrNoCapacity = errors.New("worker has no free slots")

	// ErrInvalidStatus is returned when an update carries an unknown
	// status value
	ErrInvalidStatus = errors.New("invalid status")
)

// Store is the persistence interface for tasks and workers. Both backends
// implement the same slot-accounting rules: AssignTask and UnassignTask
// are the only operations that move used_slots, and they keep the task's
// worker_id and the worker's current_tasks list in step.
type Store interface {
	// Task operations
	CreateTask(url string, options map[string]any, priority types.TaskPriority) (*types.Task, error)
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error)
	ListTasksByWorker(workerID string) ([]*types.Task, error)
	UpdateTask(id string, patch types.TaskPatch) (*types.Task, error)
	DeleteTask(id string) error

	// Worker operations
	RegisterWorker(hostname, address string, port int, capabilities map[string]any, totalSlots int) (*types.Worker, error)
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	ListWorkersByStatus(status types.WorkerStatus) ([]*types.Worker, error)
	AvailableWorkers() ([]*types.Worker, error)
	UpdateWorker(id string, patch types.WorkerPatch) (*types.Worker, error)
	UpdateWorkerHeartbeat(id string, at time.Time) error
	DeleteWorker(id string) error

	// Assignment, atomic per backend
	AssignTask(taskID, workerID string) error
	UnassignTask(taskID string) error

	// Aggregates for the status endpoint
	TaskCountsByStatus() (map[types.TaskStatus]int, error)
	WorkerCountsByStatus() (map[types.WorkerStatus]int, error)
	SystemLoad() (float64, error)

	Close() error
}
