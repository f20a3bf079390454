package types

import "time"

// TaskPatch is a partial update of a task. Nil fields are left untouched;
// non-nil fields overwrite, including pointers to zero values, which clear
// the attribute. Maps replace the stored map wholesale.
type TaskPatch struct {
	Status        *TaskStatus
	Priority      *TaskPriority
	WorkerID      *string
	EngineGID     *string
	Options       map[string]any
	Progress      *float64
	DownloadSpeed *int64
	ErrorMessage  *string
	Result        map[string]any
}

// Apply mutates t in place and bumps UpdatedAt
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.WorkerID != nil {
		t.WorkerID = *p.WorkerID
	}
	if p.EngineGID != nil {
		t.EngineGID = *p.EngineGID
	}
	if p.Options != nil {
		t.Options = p.Options
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.DownloadSpeed != nil {
		t.DownloadSpeed = *p.DownloadSpeed
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = *p.ErrorMessage
	}
	if p.Result != nil {
		t.Result = p.Result
	}
	t.UpdatedAt = now
}

// WorkerPatch is a partial update of a worker, with the same nil semantics
// as TaskPatch
type WorkerPatch struct {
	Status           *WorkerStatus
	ConnectedAt      *time.Time
	LastHeartbeat    *time.Time
	Capabilities     map[string]any
	CurrentTasks     *[]string
	TotalSlots       *int
	UsedSlots        *int
	HealthMetrics    *HealthMetrics
	ErrorHistory     *[]string
	PerformanceStats *PerformanceStats
}

// Apply mutates w in place
func (p WorkerPatch) Apply(w *Worker) {
	if p.Status != nil {
		w.Status = *p.Status
	}
	if p.ConnectedAt != nil {
		w.ConnectedAt = *p.ConnectedAt
	}
	if p.LastHeartbeat != nil {
		w.LastHeartbeat = *p.LastHeartbeat
	}
	if p.Capabilities != nil {
		w.Capabilities = p.Capabilities
	}
	if p.CurrentTasks != nil {
		w.CurrentTasks = *p.CurrentTasks
	}
	if p.TotalSlots != nil {
		w.TotalSlots = *p.TotalSlots
	}
	if p.UsedSlots != nil {
		w.UsedSlots = *p.UsedSlots
	}
	if p.HealthMetrics != nil {
		w.HealthMetrics = *p.HealthMetrics
	}
	if p.ErrorHistory != nil {
		w.ErrorHistory = *p.ErrorHistory
	}
	if p.PerformanceStats != nil {
		w.PerformanceStats = *p.PerformanceStats
	}
}

// Ptr returns a pointer to v, for building patches inline
func Ptr[T any](v T) *T { return &v }
