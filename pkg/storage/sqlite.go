package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridpull/gridpull/pkg/types"
)

// SQLiteStore persists tasks and workers in a local SQLite database.
// Structured attributes (options, capabilities, metrics) are stored as
// JSON text columns so the schema stays stable as the payloads evolve.
type SQLiteStore struct {
	db *gorm.DB
}

type taskRow struct {
	ID            string    `gorm:"primaryKey"`
	URL           string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
	Status        string `gorm:"index"`
	Priority      int
	WorkerID      string `gorm:"index"`
	EngineGID     string
	Options       string
	Progress      float64
	DownloadSpeed int64
	ErrorMessage  string
	Result        string
}

func (taskRow) TableName() string { return "tasks" }

type workerRow struct {
	ID               string `gorm:"primaryKey"`
	Hostname         string
	Address          string
	Port             int
	Status           string `gorm:"index"`
	ConnectedAt      time.Time
	LastHeartbeat    time.Time
	Capabilities     string
	CurrentTasks     string
	TotalSlots       int
	UsedSlots        int
	HealthMetrics    string
	ErrorHistory     string
	PerformanceStats string
}

func (workerRow) TableName() string { return "workers" }

// NewSQLiteStore opens (and if needed creates) the database at path and
// runs migrations. WAL mode keeps readers unblocked during assignment
// transactions.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&taskRow{}, &workerRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateTask creates a pending task
func (s *SQLiteStore) CreateTask(url string, options map[string]any, priority types.TaskPriority) (*types.Task, error) {
	now := time.Now().UTC()
	task := &types.Task{
		ID:        "task-" + uuid.New().String(),
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    types.TaskStatusPending,
		Priority:  priority,
		Options:   options,
	}
	if err := s.db.Create(taskToRow(task)).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// GetTask returns the task with the given ID
func (s *SQLiteStore) GetTask(id string) (*types.Task, error) {
	var row taskRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return rowToTask(&row), nil
}

// ListTasks returns all tasks in creation order
func (s *SQLiteStore) ListTasks() ([]*types.Task, error) {
	return s.queryTasks(s.db)
}

// ListTasksByStatus returns tasks with the given status in creation order
func (s *SQLiteStore) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	return s.queryTasks(s.db.Where("status = ?", string(status)))
}

// ListTasksByWorker returns tasks currently assigned to the worker
func (s *SQLiteStore) ListTasksByWorker(workerID string) ([]*types.Task, error) {
	return s.queryTasks(s.db.Where("worker_id = ?", workerID))
}

func (s *SQLiteStore) queryTasks(q *gorm.DB) ([]*types.Task, error) {
	var rows []taskRow
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	out := make([]*types.Task, 0, len(rows))
	for i := range rows {
		out = append(out, rowToTask(&rows[i]))
	}
	return out, nil
}

// UpdateTask applies a partial update to a task
func (s *SQLiteStore) UpdateTask(id string, patch types.TaskPatch) (*types.Task, error) {
	if patch.Status != nil && !types.ValidTaskStatus(string(*patch.Status)) {
		return nil, fmt.Errorf("task status %q: %w", *patch.Status, ErrInvalidStatus)
	}

	var task *types.Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("task %s: %w", id, ErrNotFound)
			}
			return err
		}
		task = rowToTask(&row)
		patch.Apply(task, time.Now().UTC())
		return tx.Save(taskToRow(task)).Error
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task
func (s *SQLiteStore) DeleteTask(id string) error {
	res := s.db.Delete(&taskRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// RegisterWorker creates an online worker with no assigned tasks
func (s *SQLiteStore) RegisterWorker(hostname, address string, port int, capabilities map[string]any, totalSlots int) (*types.Worker, error) {
	now := time.Now().UTC()
	worker := &types.Worker{
		ID:            "worker-" + uuid.New().String(),
		Hostname:      hostname,
		Address:       address,
		Port:          port,
		Status:        types.WorkerStatusOnline,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Capabilities:  capabilities,
		CurrentTasks:  []string{},
		TotalSlots:    totalSlots,
	}
	if err := s.db.Create(workerToRow(worker)).Error; err != nil {
		return nil, fmt.Errorf("failed to register worker: %w", err)
	}
	return worker, nil
}

// GetWorker returns the worker with the given ID
func (s *SQLiteStore) GetWorker(id string) (*types.Worker, error) {
	var row workerRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get worker %s: %w", id, err)
	}
	return rowToWorker(&row), nil
}

// ListWorkers returns all workers in registration order
func (s *SQLiteStore) ListWorkers() ([]*types.Worker, error) {
	return s.queryWorkers(s.db)
}

// ListWorkersByStatus returns workers with the given status
func (s *SQLiteStore) ListWorkersByStatus(status types.WorkerStatus) ([]*types.Worker, error) {
	return s.queryWorkers(s.db.Where("status = ?", string(status)))
}

// AvailableWorkers returns online workers with at least one free slot
func (s *SQLiteStore) AvailableWorkers() ([]*types.Worker, error) {
	return s.queryWorkers(s.db.Where("status = ? AND used_slots < total_slots", string(types.WorkerStatusOnline)))
}

func (s *SQLiteStore) queryWorkers(q *gorm.DB) ([]*types.Worker, error) {
	var rows []workerRow
	if err := q.Order("connected_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	out := make([]*types.Worker, 0, len(rows))
	for i := range rows {
		out = append(out, rowToWorker(&rows[i]))
	}
	return out, nil
}

// UpdateWorker applies a partial update to a worker
func (s *SQLiteStore) UpdateWorker(id string, patch types.WorkerPatch) (*types.Worker, error) {
	if patch.Status != nil && !types.ValidWorkerStatus(string(*patch.Status)) {
		return nil, fmt.Errorf("worker status %q: %w", *patch.Status, ErrInvalidStatus)
	}

	var worker *types.Worker
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row workerRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("worker %s: %w", id, ErrNotFound)
			}
			return err
		}
		worker = rowToWorker(&row)
		patch.Apply(worker)
		return tx.Save(workerToRow(worker)).Error
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// UpdateWorkerHeartbeat records a heartbeat and revives offline workers
func (s *SQLiteStore) UpdateWorkerHeartbeat(id string, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row workerRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("worker %s: %w", id, ErrNotFound)
			}
			return err
		}
		updates := map[string]any{"last_heartbeat": at}
		if row.Status == string(types.WorkerStatusOffline) {
			updates["status"] = string(types.WorkerStatusOnline)
		}
		return tx.Model(&workerRow{}).Where("id = ?", id).Updates(updates).Error
	})
}

// DeleteWorker removes a worker
func (s *SQLiteStore) DeleteWorker(id string) error {
	res := s.db.Delete(&workerRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete worker %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	return nil
}

// AssignTask binds a task to a worker and consumes one slot in a single
// transaction. The guarded slot increment makes concurrent assignments
// against the same worker safe: whoever loses the race gets ErrNoCapacity.
func (s *SQLiteStore) AssignTask(taskID, workerID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var task taskRow
		if err := tx.First(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return err
		}
		var worker workerRow
		if err := tx.First(&worker, "id = ?", workerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
			}
			return err
		}

		res := tx.Model(&workerRow{}).
			Where("id = ? AND used_slots < total_slots", workerID).
			Update("used_slots", gorm.Expr("used_slots + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("worker %s: %w", workerID, ErrNoCapacity)
		}

		current := decodeStringSlice(worker.CurrentTasks)
		current = append(current, taskID)
		updates := map[string]any{"current_tasks": encodeStringSlice(current)}
		if worker.UsedSlots+1 >= worker.TotalSlots && worker.Status == string(types.WorkerStatusOnline) {
			updates["status"] = string(types.WorkerStatusBusy)
		}
		if err := tx.Model(&workerRow{}).Where("id = ?", workerID).Updates(updates).Error; err != nil {
			return err
		}

		return tx.Model(&taskRow{}).Where("id = ?", taskID).Updates(map[string]any{
			"status":     string(types.TaskStatusQueued),
			"worker_id":  workerID,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

// UnassignTask releases a task's slot and clears its worker binding.
// Unassigning a task that has no worker is a no-op.
func (s *SQLiteStore) UnassignTask(taskID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var task taskRow
		if err := tx.First(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return err
		}
		if task.WorkerID == "" {
			return nil
		}

		var worker workerRow
		err := tx.First(&worker, "id = ?", task.WorkerID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// worker already removed, just detach the task
		case err != nil:
			return err
		default:
			used := worker.UsedSlots
			if used > 0 {
				used--
			}
			current := removeString(decodeStringSlice(worker.CurrentTasks), taskID)
			updates := map[string]any{
				"used_slots":    used,
				"current_tasks": encodeStringSlice(current),
			}
			if worker.Status == string(types.WorkerStatusBusy) && used < worker.TotalSlots {
				updates["status"] = string(types.WorkerStatusOnline)
			}
			if err := tx.Model(&workerRow{}).Where("id = ?", worker.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		return tx.Model(&taskRow{}).Where("id = ?", taskID).Updates(map[string]any{
			"worker_id":  "",
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

// TaskCountsByStatus returns the number of tasks per status
func (s *SQLiteStore) TaskCountsByStatus() (map[types.TaskStatus]int, error) {
	var rows []statusCount
	if err := s.db.Model(&taskRow{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	counts := make(map[types.TaskStatus]int, len(rows))
	for _, r := range rows {
		counts[types.TaskStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// WorkerCountsByStatus returns the number of workers per status
func (s *SQLiteStore) WorkerCountsByStatus() (map[types.WorkerStatus]int, error) {
	var rows []statusCount
	if err := s.db.Model(&workerRow{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count workers: %w", err)
	}
	counts := make(map[types.WorkerStatus]int, len(rows))
	for _, r := range rows {
		counts[types.WorkerStatus(r.Status)] = r.Count
	}
	return counts, nil
}

type statusCount struct {
	Status string
	Count  int
}

// SystemLoad returns the fleet-wide slot utilization in [0, 100]
func (s *SQLiteStore) SystemLoad() (float64, error) {
	var agg struct {
		Used  int
		Total int
	}
	err := s.db.Model(&workerRow{}).
		Select("coalesce(sum(used_slots), 0) as used, coalesce(sum(total_slots), 0) as total").
		Scan(&agg).Error
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate load: %w", err)
	}
	if agg.Total == 0 {
		return 0, nil
	}
	return float64(agg.Used) / float64(agg.Total) * 100.0, nil
}

// Close closes the underlying database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func taskToRow(t *types.Task) *taskRow {
	return &taskRow{
		ID:            t.ID,
		URL:           t.URL,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		Status:        string(t.Status),
		Priority:      int(t.Priority),
		WorkerID:      t.WorkerID,
		EngineGID:     t.EngineGID,
		Options:       encodeMap(t.Options),
		Progress:      t.Progress,
		DownloadSpeed: t.DownloadSpeed,
		ErrorMessage:  t.ErrorMessage,
		Result:        encodeMap(t.Result),
	}
}

func rowToTask(r *taskRow) *types.Task {
	return &types.Task{
		ID:            r.ID,
		URL:           r.URL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Status:        types.TaskStatus(r.Status),
		Priority:      types.TaskPriority(r.Priority),
		WorkerID:      r.WorkerID,
		EngineGID:     r.EngineGID,
		Options:       decodeMap(r.Options),
		Progress:      r.Progress,
		DownloadSpeed: r.DownloadSpeed,
		ErrorMessage:  r.ErrorMessage,
		Result:        decodeMap(r.Result),
	}
}

func workerToRow(w *types.Worker) *workerRow {
	return &workerRow{
		ID:               w.ID,
		Hostname:         w.Hostname,
		Address:          w.Address,
		Port:             w.Port,
		Status:           string(w.Status),
		ConnectedAt:      w.ConnectedAt,
		LastHeartbeat:    w.LastHeartbeat,
		Capabilities:     encodeMap(w.Capabilities),
		CurrentTasks:     encodeStringSlice(w.CurrentTasks),
		TotalSlots:       w.TotalSlots,
		UsedSlots:        w.UsedSlots,
		HealthMetrics:    encodeJSON(w.HealthMetrics),
		ErrorHistory:     encodeStringSlice(w.ErrorHistory),
		PerformanceStats: encodeJSON(w.PerformanceStats),
	}
}

func rowToWorker(r *workerRow) *types.Worker {
	w := &types.Worker{
		ID:            r.ID,
		Hostname:      r.Hostname,
		Address:       r.Address,
		Port:          r.Port,
		Status:        types.WorkerStatus(r.Status),
		ConnectedAt:   r.ConnectedAt,
		LastHeartbeat: r.LastHeartbeat,
		Capabilities:  decodeMap(r.Capabilities),
		CurrentTasks:  decodeStringSlice(r.CurrentTasks),
		TotalSlots:    r.TotalSlots,
		UsedSlots:     r.UsedSlots,
		ErrorHistory:  decodeStringSlice(r.ErrorHistory),
	}
	if w.CurrentTasks == nil {
		w.CurrentTasks = []string{}
	}
	decodeJSON(r.HealthMetrics, &w.HealthMetrics)
	decodeJSON(r.PerformanceStats, &w.PerformanceStats)
	return w
}

func encodeMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	return encodeJSON(m)
}

func decodeMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func encodeStringSlice(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return encodeJSON(v)
}

func decodeStringSlice(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeJSON(s string, out any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}
