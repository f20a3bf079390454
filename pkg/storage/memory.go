package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridpull/gridpull/pkg/types"
)

// MemoryStore keeps all state in process memory. Listings preserve
// insertion order so scheduling ties break deterministically. Every
// returned task and worker is a copy; callers mutate through patches.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]*types.Task
	taskOrder   []string
	workers     map[string]*types.Worker
	workerOrder []string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*types.Task),
		workers: make(map[string]*types.Worker),
	}
}

// CreateTask creates a pending task
func (s *MemoryStore) CreateTask(url string, options map[string]any, priority types.TaskPriority) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	task := &types.Task{
		ID:        "task-" + uuid.New().String(),
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    types.TaskStatusPending,
		Priority:  priority,
		Options:   cloneMap(options),
	}
	s.tasks[task.ID] = task
	s.taskOrder = append(s.taskOrder, task.ID)
	return cloneTask(task), nil
}

// GetTask returns the task with the given ID
func (s *MemoryStore) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(task), nil
}

// ListTasks returns all tasks in creation order
func (s *MemoryStore) ListTasks() ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, cloneTask(s.tasks[id]))
	}
	return out, nil
}

// ListTasksByStatus returns tasks with the given status in creation order
func (s *MemoryStore) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// ListTasksByWorker returns tasks currently assigned to the worker
func (s *MemoryStore) ListTasksByWorker(workerID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.WorkerID == workerID {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// UpdateTask applies a partial update to a task
func (s *MemoryStore) UpdateTask(id string, patch types.TaskPatch) (*types.Task, error) {
	if patch.Status != nil && !types.ValidTaskStatus(string(*patch.Status)) {
		return nil, fmt.Errorf("task status %q: %w", *patch.Status, ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	patch.Apply(task, time.Now().UTC())
	return cloneTask(task), nil
}

// DeleteTask removes a task. The caller is responsible for unassigning
// active tasks first so slot accounting stays correct.
func (s *MemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.tasks, id)
	s.taskOrder = removeString(s.taskOrder, id)
	return nil
}

// RegisterWorker creates an online worker with no assigned tasks
func (s *MemoryStore) RegisterWorker(hostname, address string, port int, capabilities map[string]any, totalSlots int) (*types.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	worker := &types.Worker{
		ID:            "worker-" + uuid.New().String(),
		Hostname:      hostname,
		Address:       address,
		Port:          port,
		Status:        types.WorkerStatusOnline,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Capabilities:  cloneMap(capabilities),
		CurrentTasks:  []string{},
		TotalSlots:    totalSlots,
	}
	s.workers[worker.ID] = worker
	s.workerOrder = append(s.workerOrder, worker.ID)
	return cloneWorker(worker), nil
}

// GetWorker returns the worker with the given ID
func (s *MemoryStore) GetWorker(id string) (*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	worker, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	return cloneWorker(worker), nil
}

// ListWorkers returns all workers in registration order
func (s *MemoryStore) ListWorkers() ([]*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Worker, 0, len(s.workerOrder))
	for _, id := range s.workerOrder {
		out = append(out, cloneWorker(s.workers[id]))
	}
	return out, nil
}

// ListWorkersByStatus returns workers with the given status
func (s *MemoryStore) ListWorkersByStatus(status types.WorkerStatus) ([]*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Worker
	for _, id := range s.workerOrder {
		if w := s.workers[id]; w.Status == status {
			out = append(out, cloneWorker(w))
		}
	}
	return out, nil
}

// AvailableWorkers returns online workers with at least one free slot
func (s *MemoryStore) AvailableWorkers() ([]*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Worker
	for _, id := range s.workerOrder {
		if w := s.workers[id]; w.Status == types.WorkerStatusOnline && w.AvailableSlots() > 0 {
			out = append(out, cloneWorker(w))
		}
	}
	return out, nil
}

// UpdateWorker applies a partial update to a worker
func (s *MemoryStore) UpdateWorker(id string, patch types.WorkerPatch) (*types.Worker, error) {
	if patch.Status != nil && !types.ValidWorkerStatus(string(*patch.Status)) {
		return nil, fmt.Errorf("worker status %q: %w", *patch.Status, ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	patch.Apply(worker)
	return cloneWorker(worker), nil
}

// UpdateWorkerHeartbeat records a heartbeat and revives offline workers
func (s *MemoryStore) UpdateWorkerHeartbeat(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	worker.LastHeartbeat = at
	if worker.Status == types.WorkerStatusOffline {
		worker.Status = types.WorkerStatusOnline
	}
	return nil
}

// DeleteWorker removes a worker. Tasks still referencing it must be
// unassigned by the caller first.
func (s *MemoryStore) DeleteWorker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	delete(s.workers, id)
	s.workerOrder = removeString(s.workerOrder, id)
	return nil
}

// AssignTask binds a task to a worker and consumes one slot. The task
// moves to queued; the worker becomes busy when its last slot fills.
func (s *MemoryStore) AssignTask(taskID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	worker, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}
	if worker.AvailableSlots() <= 0 {
		return fmt.Errorf("worker %s: %w", workerID, ErrNoCapacity)
	}

	task.Status = types.TaskStatusQueued
	task.WorkerID = workerID
	task.UpdatedAt = time.Now().UTC()

	worker.UsedSlots++
	worker.CurrentTasks = append(worker.CurrentTasks, taskID)
	if worker.AvailableSlots() == 0 && worker.Status == types.WorkerStatusOnline {
		worker.Status = types.WorkerStatusBusy
	}
	return nil
}

// UnassignTask releases a task's slot and clears its worker binding.
// Unassigning a task that has no worker is a no-op.
func (s *MemoryStore) UnassignTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if task.WorkerID == "" {
		return nil
	}

	if worker, ok := s.workers[task.WorkerID]; ok {
		if worker.UsedSlots > 0 {
			worker.UsedSlots--
		}
		worker.CurrentTasks = removeString(worker.CurrentTasks, taskID)
		if worker.Status == types.WorkerStatusBusy && worker.AvailableSlots() > 0 {
			worker.Status = types.WorkerStatusOnline
		}
	}

	task.WorkerID = ""
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// TaskCountsByStatus returns the number of tasks per status
func (s *MemoryStore) TaskCountsByStatus() (map[types.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// WorkerCountsByStatus returns the number of workers per status
func (s *MemoryStore) WorkerCountsByStatus() (map[types.WorkerStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.WorkerStatus]int)
	for _, w := range s.workers {
		counts[w.Status]++
	}
	return counts, nil
}

// SystemLoad returns the fleet-wide slot utilization in [0, 100]
func (s *MemoryStore) SystemLoad() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used, total int
	for _, w := range s.workers {
		used += w.UsedSlots
		total += w.TotalSlots
	}
	if total == 0 {
		return 0, nil
	}
	return float64(used) / float64(total) * 100.0, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

func cloneTask(t *types.Task) *types.Task {
	c := *t
	c.Options = cloneMap(t.Options)
	c.Result = cloneMap(t.Result)
	return &c
}

func cloneWorker(w *types.Worker) *types.Worker {
	c := *w
	c.Capabilities = cloneMap(w.Capabilities)
	c.CurrentTasks = append([]string(nil), w.CurrentTasks...)
	c.ErrorHistory = append([]string(nil), w.ErrorHistory...)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
