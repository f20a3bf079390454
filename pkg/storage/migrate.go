package storage

import (
	"fmt"

	"github.com/gridpull/gridpull/pkg/types"
)

// MigrateStats summarizes a store-to-store migration
type MigrateStats struct {
	WorkersMigrated int      `json:"workers_migrated"`
	TasksMigrated   int      `json:"tasks_migrated"`
	Errors          []string `json:"errors,omitempty"`
}

// Migrate copies all workers and tasks from src into dst. Both stores
// mint their own IDs, so workers are copied first and task assignments
// are remapped to the new worker IDs. Slot accounting on dst is rebuilt
// through AssignTask for tasks that were active at migration time, never
// copied raw. Per-record failures are collected, not fatal.
func Migrate(src, dst Store) (*MigrateStats, error) {
	stats := &MigrateStats{}

	workers, err := src.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to read workers from source: %w", err)
	}
	workerIDs := make(map[string]string, len(workers))

	for _, w := range workers {
		migrated, err := dst.RegisterWorker(w.Hostname, w.Address, w.Port, w.Capabilities, w.TotalSlots)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("worker %s: %v", w.ID, err))
			continue
		}
		// busy is a function of the replayed slot count, not a copied
		// field; AssignTask below restores it when the tasks fill the
		// worker back up
		status := w.Status
		if status == types.WorkerStatusBusy {
			status = types.WorkerStatusOnline
		}
		_, err = dst.UpdateWorker(migrated.ID, types.WorkerPatch{
			Status:           types.Ptr(status),
			ConnectedAt:      types.Ptr(w.ConnectedAt),
			LastHeartbeat:    types.Ptr(w.LastHeartbeat),
			HealthMetrics:    types.Ptr(w.HealthMetrics),
			ErrorHistory:     types.Ptr(w.ErrorHistory),
			PerformanceStats: types.Ptr(w.PerformanceStats),
		})
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("worker %s: %v", w.ID, err))
			continue
		}
		workerIDs[w.ID] = migrated.ID
		stats.WorkersMigrated++
	}

	tasks, err := src.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks from source: %w", err)
	}

	for _, t := range tasks {
		migrated, err := dst.CreateTask(t.URL, t.Options, t.Priority)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}

		assigned := false
		if t.Status.Active() {
			if newWorker, ok := workerIDs[t.WorkerID]; ok {
				if err := dst.AssignTask(migrated.ID, newWorker); err != nil {
					stats.Errors = append(stats.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
				} else {
					assigned = true
				}
			}
		}

		patch := types.TaskPatch{
			EngineGID:     types.Ptr(t.EngineGID),
			Progress:      types.Ptr(t.Progress),
			DownloadSpeed: types.Ptr(t.DownloadSpeed),
			ErrorMessage:  types.Ptr(t.ErrorMessage),
			Result:        t.Result,
		}
		switch {
		case assigned:
			// AssignTask already set queued; restore downloading if that
			// is where the task was
			patch.Status = types.Ptr(t.Status)
		case t.Status.Active():
			// active tasks whose worker did not migrate restart from pending
			patch.Status = types.Ptr(types.TaskStatusPending)
			patch.WorkerID = types.Ptr("")
		default:
			patch.Status = types.Ptr(t.Status)
			// terminal tasks keep their worker reference for history,
			// remapped when the worker migrated too
			if mapped, ok := workerIDs[t.WorkerID]; ok {
				patch.WorkerID = types.Ptr(mapped)
			} else {
				patch.WorkerID = types.Ptr("")
			}
		}
		if _, err := dst.UpdateTask(migrated.ID, patch); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}
		stats.TasksMigrated++
	}

	return stats, nil
}
