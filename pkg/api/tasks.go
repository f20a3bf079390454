package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/types"
)

type taskCreateRequest struct {
	URL      string         `json:"url"`
	Options  map[string]any `json:"options"`
	Priority string         `json:"priority"`
}

type taskUpdateRequest struct {
	Status        *string        `json:"status"`
	Priority      *string        `json:"priority"`
	Progress      *float64       `json:"progress"`
	DownloadSpeed *int64         `json:"download_speed"`
	ErrorMessage  *string        `json:"error_message"`
	Options       map[string]any `json:"options"`
	Result        map[string]any `json:"result"`
}

// validDownloadURL accepts absolute http and https URLs only
func validDownloadURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validDownloadURL(req.URL) {
		respondError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}

	task, err := s.store.CreateTask(req.URL, req.Options, types.ParsePriority(req.Priority))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if s.broker != nil {
		s.broker.PublishType(events.EventTaskCreated, "task created", map[string]string{
			"task_id": task.ID,
			"url":     task.URL,
		})
	}
	s.kick()
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" {
		if !types.ValidTaskStatus(status) {
			respondError(w, http.StatusBadRequest, "unknown task status")
			return
		}
		tasks, err := s.store.ListTasksByStatus(types.TaskStatus(status))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, tasks)
		return
	}

	tasks, err := s.store.ListTasks()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req taskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := types.TaskPatch{
		Progress:      req.Progress,
		DownloadSpeed: req.DownloadSpeed,
		ErrorMessage:  req.ErrorMessage,
		Options:       req.Options,
		Result:        req.Result,
	}
	if req.Status != nil {
		if !types.ValidTaskStatus(*req.Status) {
			respondError(w, http.StatusBadRequest, "unknown task status")
			return
		}
		status := types.TaskStatus(*req.Status)
		patch.Status = &status

		// a manual requeue of an assigned task releases the slot; the
		// retry counter is untouched on purpose
		if status == types.TaskStatusPending {
			if err := s.store.UnassignTask(id); err != nil {
				respondStoreError(w, err)
				return
			}
		}
	}
	if req.Priority != nil {
		patch.Priority = types.Ptr(types.ParsePriority(*req.Priority))
	}

	task, err := s.store.UpdateTask(id, patch)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if patch.Status != nil && *patch.Status == types.TaskStatusPending {
		s.kick()
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.store.GetTask(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	// an in-flight download is canceled on the worker before the record
	// disappears
	if task.Status.Active() && task.WorkerID != "" {
		if frame, err := protocol.CancelTaskFrame(task.ID); err == nil {
			s.registry.Send(task.WorkerID, frame)
		}
		if err := s.store.UnassignTask(task.ID); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	if err := s.store.DeleteTask(id); err != nil {
		respondStoreError(w, err)
		return
	}

	if s.broker != nil {
		s.broker.PublishType(events.EventTaskCanceled, "task deleted", map[string]string{"task_id": id})
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "task deleted"})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.forwardTaskControl(w, r, protocol.PauseTaskFrame, "pause requested")
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.forwardTaskControl(w, r, protocol.ResumeTaskFrame, "resume requested")
}

// forwardTaskControl pushes a pause or resume frame to the task's worker
func (s *Server) forwardTaskControl(w http.ResponseWriter, r *http.Request, frame func(string) ([]byte, error), msg string) {
	task, err := s.store.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if task.WorkerID == "" {
		respondError(w, http.StatusBadRequest, "task is not assigned to a worker")
		return
	}

	data, err := frame(task.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.Send(task.WorkerID, data)
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}
