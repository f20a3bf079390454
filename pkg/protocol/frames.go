package protocol

import (
	"encoding/json"

	"github.com/gridpull/gridpull/pkg/types"
)

// Dispatcher-to-worker frames. Constructors return the encoded frame so
// callers hand the bytes straight to the registry.

type taskFrame struct {
	Action string      `json:"action"`
	Task   *types.Task `json:"task"`
}

type taskListFrame struct {
	Action string        `json:"action"`
	Tasks  []*types.Task `json:"tasks"`
}

type taskIDFrame struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

// InitialTasksFrame carries the worker's assigned-task snapshot, sent
// once right after the channel is accepted
func InitialTasksFrame(tasks []*types.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []*types.Task{}
	}
	return json.Marshal(taskListFrame{Action: ActionInitialTasks, Tasks: tasks})
}

// AddTaskFrame tells the worker to start downloading the task
func AddTaskFrame(task *types.Task) ([]byte, error) {
	return json.Marshal(taskFrame{Action: ActionAddTask, Task: task})
}

// CancelTaskFrame tells the worker to abort the task's download
func CancelTaskFrame(taskID string) ([]byte, error) {
	return json.Marshal(taskIDFrame{Action: ActionCancelTask, TaskID: taskID})
}

// PauseTaskFrame tells the worker to pause the task's download
func PauseTaskFrame(taskID string) ([]byte, error) {
	return json.Marshal(taskIDFrame{Action: ActionPauseTask, TaskID: taskID})
}

// ResumeTaskFrame tells the worker to resume a paused download
func ResumeTaskFrame(taskID string) ([]byte, error) {
	return json.Marshal(taskIDFrame{Action: ActionResumeTask, TaskID: taskID})
}
