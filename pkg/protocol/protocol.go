package protocol

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// Frame actions on the worker control channel
const (
	// worker to dispatcher
	ActionHeartbeat    = "heartbeat"
	ActionTaskUpdate   = "task_update"
	ActionWorkerUpdate = "worker_update"

	// dispatcher to worker
	ActionInitialTasks = "initial_tasks"
	ActionAddTask      = "add_task"
	ActionCancelTask   = "cancel_task"
	ActionPauseTask    = "pause_task"
	ActionResumeTask   = "resume_task"
)

// inboundFrame is the union of all worker-to-dispatcher payloads. The
// aria2_gid key is the worker engine's download handle.
type inboundFrame struct {
	Action string `json:"action"`

	// heartbeat and worker_update
	Status           string                  `json:"status,omitempty"`
	UsedSlots        *int                    `json:"used_slots,omitempty"`
	TotalSlots       *int                    `json:"total_slots,omitempty"`
	Capabilities     map[string]any          `json:"capabilities,omitempty"`
	HealthMetrics    *types.HealthMetrics    `json:"health_metrics,omitempty"`
	PerformanceStats *types.PerformanceStats `json:"performance_stats,omitempty"`

	// task_update, sharing the status key with heartbeat
	TaskID        string         `json:"task_id,omitempty"`
	Progress      *float64       `json:"progress,omitempty"`
	DownloadSpeed *int64         `json:"download_speed,omitempty"`
	EngineGID     *string        `json:"aria2_gid,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// Handler applies worker-to-dispatcher frames to the store. Malformed
// JSON and unknown actions are logged and dropped; the connection is
// never torn down over a bad frame.
type Handler struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewHandler creates a frame handler
func NewHandler(store storage.Store, broker *events.Broker) *Handler {
	return &Handler{
		store:  store,
		broker: broker,
		logger: log.WithComponent("protocol"),
	}
}

// Handle dispatches one raw frame received from the given worker
func (h *Handler) Handle(workerID string, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Warn().Str("worker_id", workerID).Err(err).Msg("malformed frame dropped")
		return
	}

	switch frame.Action {
	case ActionHeartbeat:
		h.handleHeartbeat(workerID, &frame)
	case ActionTaskUpdate:
		h.handleTaskUpdate(workerID, &frame)
	case ActionWorkerUpdate:
		h.handleWorkerUpdate(workerID, &frame)
	default:
		h.logger.Warn().Str("worker_id", workerID).Str("action", frame.Action).Msg("unknown action dropped")
	}
}

func (h *Handler) handleHeartbeat(workerID string, frame *inboundFrame) {
	if err := h.store.UpdateWorkerHeartbeat(workerID, time.Now().UTC()); err != nil {
		h.logger.Warn().Str("worker_id", workerID).Err(err).Msg("heartbeat for unknown worker")
		return
	}

	patch := types.WorkerPatch{
		UsedSlots:        frame.UsedSlots,
		HealthMetrics:    frame.HealthMetrics,
		PerformanceStats: frame.PerformanceStats,
	}
	if frame.Status != "" && types.ValidWorkerStatus(frame.Status) {
		patch.Status = types.Ptr(types.WorkerStatus(frame.Status))
	}
	if patch.Status == nil && patch.UsedSlots == nil &&
		patch.HealthMetrics == nil && patch.PerformanceStats == nil {
		return
	}
	if _, err := h.store.UpdateWorker(workerID, patch); err != nil {
		h.logger.Error().Str("worker_id", workerID).Err(err).Msg("failed to apply heartbeat fields")
	}
}

func (h *Handler) handleTaskUpdate(workerID string, frame *inboundFrame) {
	if frame.TaskID == "" {
		h.logger.Warn().Str("worker_id", workerID).Msg("task_update without task_id dropped")
		return
	}

	patch := types.TaskPatch{
		Progress:      frame.Progress,
		DownloadSpeed: frame.DownloadSpeed,
		EngineGID:     frame.EngineGID,
		ErrorMessage:  frame.ErrorMessage,
		Result:        frame.Result,
	}
	var status types.TaskStatus
	if frame.Status != "" {
		if !types.ValidTaskStatus(frame.Status) {
			h.logger.Warn().
				Str("worker_id", workerID).
				Str("task_id", frame.TaskID).
				Str("status", frame.Status).
				Msg("task_update with invalid status dropped")
			return
		}
		status = types.TaskStatus(frame.Status)
		patch.Status = types.Ptr(status)
	}

	task, err := h.store.UpdateTask(frame.TaskID, patch)
	if err != nil {
		h.logger.Warn().
			Str("worker_id", workerID).
			Str("task_id", frame.TaskID).
			Err(err).
			Msg("task_update for unknown task dropped")
		return
	}

	// a terminal status releases the worker's slot after the patch is
	// recorded, so a crash between the two leaves the binding visible
	if status.Final() {
		if err := h.store.UnassignTask(frame.TaskID); err != nil {
			h.logger.Error().Str("task_id", frame.TaskID).Err(err).Msg("failed to release slot")
		}
		h.publishTerminal(workerID, task, status)
	}
}

func (h *Handler) handleWorkerUpdate(workerID string, frame *inboundFrame) {
	patch := types.WorkerPatch{
		TotalSlots:   frame.TotalSlots,
		UsedSlots:    frame.UsedSlots,
		Capabilities: frame.Capabilities,
	}
	if _, err := h.store.UpdateWorker(workerID, patch); err != nil {
		h.logger.Warn().Str("worker_id", workerID).Err(err).Msg("worker_update dropped")
	}
}

func (h *Handler) publishTerminal(workerID string, task *types.Task, status types.TaskStatus) {
	if h.broker == nil {
		return
	}
	meta := map[string]string{"task_id": task.ID, "worker_id": workerID}
	switch status {
	case types.TaskStatusCompleted:
		h.broker.PublishType(events.EventTaskCompleted, "task completed", meta)
	case types.TaskStatusFailed:
		meta["error"] = task.ErrorMessage
		h.broker.PublishType(events.EventTaskFailed, "task failed", meta)
	case types.TaskStatusCanceled:
		h.broker.PublishType(events.EventTaskCanceled, "task canceled", meta)
	}
}
