package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/types"
)

// defaultTotalSlots matches the aria2 default for concurrent downloads
const defaultTotalSlots = 5

type workerRegisterRequest struct {
	Hostname     string         `json:"hostname"`
	Address      string         `json:"address"`
	Port         int            `json:"port"`
	Capabilities map[string]any `json:"capabilities"`
	TotalSlots   *int           `json:"total_slots"`
}

type workerUpdateRequest struct {
	Status       *string        `json:"status"`
	UsedSlots    *int           `json:"used_slots"`
	TotalSlots   *int           `json:"total_slots"`
	Capabilities map[string]any `json:"capabilities"`
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req workerRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Hostname == "" || req.Address == "" {
		respondError(w, http.StatusBadRequest, "hostname and address are required")
		return
	}
	slots := defaultTotalSlots
	if req.TotalSlots != nil {
		if *req.TotalSlots < 0 {
			respondError(w, http.StatusBadRequest, "total_slots must not be negative")
			return
		}
		slots = *req.TotalSlots
	}

	worker, err := s.store.RegisterWorker(req.Hostname, req.Address, req.Port, req.Capabilities, slots)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if s.broker != nil {
		s.broker.PublishType(events.EventWorkerRegistered, "worker registered", map[string]string{
			"worker_id": worker.ID,
			"hostname":  worker.Hostname,
		})
	}
	s.kick()
	respondJSON(w, http.StatusOK, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" {
		if !types.ValidWorkerStatus(status) {
			respondError(w, http.StatusBadRequest, "unknown worker status")
			return
		}
		workers, err := s.store.ListWorkersByStatus(types.WorkerStatus(status))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, workers)
		return
	}

	workers, err := s.store.ListWorkers()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.store.GetWorker(chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, worker)
}

func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	var req workerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := types.WorkerPatch{
		UsedSlots:    req.UsedSlots,
		TotalSlots:   req.TotalSlots,
		Capabilities: req.Capabilities,
	}
	if req.Status != nil {
		if !types.ValidWorkerStatus(*req.Status) {
			respondError(w, http.StatusBadRequest, "unknown worker status")
			return
		}
		status := types.WorkerStatus(*req.Status)
		patch.Status = &status
	}

	worker, err := s.store.UpdateWorker(chi.URLParam(r, "id"), patch)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, worker)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetWorker(id); err != nil {
		respondStoreError(w, err)
		return
	}

	// orphaned work goes back to the queue before the worker record
	// disappears
	tasks, err := s.store.ListTasksByWorker(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for _, task := range tasks {
		if err := s.store.UnassignTask(task.ID); err != nil {
			respondStoreError(w, err)
			return
		}
		if task.Status.Final() {
			continue
		}
		pending := types.TaskStatusPending
		if _, err := s.store.UpdateTask(task.ID, types.TaskPatch{Status: &pending}); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	if err := s.store.DeleteWorker(id); err != nil {
		respondStoreError(w, err)
		return
	}

	if s.broker != nil {
		s.broker.PublishType(events.EventWorkerRemoved, "worker removed", map[string]string{"worker_id": id})
	}
	s.kick()
	respondJSON(w, http.StatusOK, map[string]string{"message": "worker removed"})
}
