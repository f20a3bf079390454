package types

import (
	"strconv"
	"time"
)

// TaskStatus represents the lifecycle state of a download task
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCanceled    TaskStatus = "canceled"
)

// ValidTaskStatus reports whether s is a known task status
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusQueued, TaskStatusDownloading,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// Final reports whether a worker reporting this status releases its slot.
// Failed tasks are final for slot accounting even though the retry
// controller may later return them to pending.
func (s TaskStatus) Final() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// Active reports whether the task occupies a worker slot
func (s TaskStatus) Active() bool {
	return s == TaskStatusQueued || s == TaskStatusDownloading
}

// TaskPriority orders pending tasks for assignment
type TaskPriority int

const (
	PriorityLow    TaskPriority = 1
	PriorityNormal TaskPriority = 2
	PriorityHigh   TaskPriority = 3
	PriorityUrgent TaskPriority = 4
)

// ParsePriority maps the API's priority names to their ordinals.
// Unknown or empty names fall back to normal.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// WorkerStatus represents the current state of a worker node
type WorkerStatus string

const (
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusError   WorkerStatus = "error"
)

// ValidWorkerStatus reports whether s is a known worker status
func ValidWorkerStatus(s string) bool {
	switch WorkerStatus(s) {
	case WorkerStatusOnline, WorkerStatusBusy, WorkerStatusOffline, WorkerStatusError:
		return true
	}
	return false
}

// Reserved option keys recognized by the scheduler and retry controller.
// All other keys pass through to the worker's download engine unchanged.
const (
	OptionRetryCount = "retry_count"
	OptionTags       = "tags"
)

// Task represents a single URL-download job
type Task struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Status        TaskStatus     `json:"status"`
	Priority      TaskPriority   `json:"priority"`
	WorkerID      string         `json:"worker_id,omitempty"`
	EngineGID     string         `json:"engine_gid,omitempty"`
	Options       map[string]any `json:"options"`
	Progress      float64        `json:"progress"`
	DownloadSpeed int64          `json:"download_speed,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// RetryCount returns the accumulated retry count from the task options.
// The count survives JSON round-trips, where numbers decode as float64.
func (t *Task) RetryCount() int {
	if t.Options == nil {
		return 0
	}
	switch v := t.Options[OptionRetryCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Tags returns the task's affinity tags, normalized to string values
func (t *Task) Tags() map[string]string {
	if t.Options == nil {
		return nil
	}
	return normalizeTags(t.Options[OptionTags])
}

// HealthMetrics is the worker-reported resource snapshot
type HealthMetrics struct {
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
	DiskUsage    float64 `json:"disk_usage"`
	NetworkRx    int64   `json:"network_rx"`
	NetworkTx    int64   `json:"network_tx"`
	ErrorCount   int64   `json:"error_count"`
	SuccessCount int64   `json:"success_count"`
	Uptime       int64   `json:"uptime"`
}

// PerformanceStats aggregates a worker's download history
type PerformanceStats struct {
	AvgDownloadSpeed     int64 `json:"avg_download_speed"`
	PeakDownloadSpeed    int64 `json:"peak_download_speed"`
	TotalBytesDownloaded int64 `json:"total_bytes_downloaded"`
	CompletedTasks       int64 `json:"completed_tasks"`
	FailedTasks          int64 `json:"failed_tasks"`
}

// Worker represents a download node fronting a local engine
type Worker struct {
	ID               string           `json:"id"`
	Hostname         string           `json:"hostname"`
	Address          string           `json:"address"`
	Port             int              `json:"port"`
	Status           WorkerStatus     `json:"status"`
	ConnectedAt      time.Time        `json:"connected_at"`
	LastHeartbeat    time.Time        `json:"last_heartbeat"`
	Capabilities     map[string]any   `json:"capabilities"`
	CurrentTasks     []string         `json:"current_tasks"`
	TotalSlots       int              `json:"total_slots"`
	UsedSlots        int              `json:"used_slots"`
	HealthMetrics    HealthMetrics    `json:"health_metrics"`
	ErrorHistory     []string         `json:"error_history,omitempty"`
	PerformanceStats PerformanceStats `json:"performance_stats"`
}

// AvailableSlots returns the number of free download slots
func (w *Worker) AvailableSlots() int {
	free := w.TotalSlots - w.UsedSlots
	if free < 0 {
		return 0
	}
	return free
}

// LoadPercentage returns the worker load in [0, 100]. A worker with no
// slots is considered fully loaded.
func (w *Worker) LoadPercentage() float64 {
	if w.TotalSlots == 0 {
		return 100.0
	}
	return float64(w.UsedSlots) / float64(w.TotalSlots) * 100.0
}

// HealthScore condenses the health metrics into a [0, 100] score:
// 25% each for inverted CPU, memory and disk usage, 25% success rate.
func (w *Worker) HealthScore() float64 {
	m := w.HealthMetrics
	score := 0.25*(100-clampPct(m.CPUUsage)) +
		0.25*(100-clampPct(m.MemoryUsage)) +
		0.25*(100-clampPct(m.DiskUsage))

	total := m.SuccessCount + m.ErrorCount
	if total == 0 {
		score += 25.0
	} else {
		score += 25.0 * float64(m.SuccessCount) / float64(total)
	}
	return score
}

// Tags returns the worker's capability tags, normalized to string values
func (w *Worker) Tags() map[string]string {
	if w.Capabilities == nil {
		return nil
	}
	return normalizeTags(w.Capabilities[OptionTags])
}

// MatchesTags reports whether every task tag is present on the worker
// with an equal value
func (w *Worker) MatchesTags(tags map[string]string) bool {
	if len(tags) == 0 {
		return true
	}
	own := w.Tags()
	for k, v := range tags {
		if own[k] != v {
			return false
		}
	}
	return true
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// normalizeTags accepts the tag shapes that survive JSON decoding
// (map[string]string or map[string]any) and flattens values to strings
func normalizeTags(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			} else {
				out[k] = stringify(val)
			}
		}
		return out
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		// JSON numbers; render integers without a fraction
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
