package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridpull/gridpull/pkg/types"
)

// systemStatus is the snapshot served by /status
type systemStatus struct {
	ActiveWorkers    int                        `json:"active_workers"`
	ConnectedWorkers int                        `json:"connected_workers"`
	TotalTasks       int                        `json:"total_tasks"`
	TasksByStatus    map[types.TaskStatus]int   `json:"tasks_by_status"`
	WorkersByStatus  map[types.WorkerStatus]int `json:"workers_by_status"`
	SystemLoad       float64                    `json:"system_load"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskCounts, err := s.store.TaskCountsByStatus()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	workerCounts, err := s.store.WorkerCountsByStatus()
	if err != nil {
		respondStoreError(w, err)
		return
	}
	load, err := s.store.SystemLoad()
	if err != nil {
		respondStoreError(w, err)
		return
	}

	total := 0
	for _, n := range taskCounts {
		total += n
	}

	respondJSON(w, http.StatusOK, systemStatus{
		ActiveWorkers:    workerCounts[types.WorkerStatusOnline] + workerCounts[types.WorkerStatusBusy],
		ConnectedWorkers: s.registry.Count(),
		TotalTasks:       total,
		TasksByStatus:    taskCounts,
		WorkersByStatus:  workerCounts,
		SystemLoad:       load,
	})
}

// handleEvents streams dispatcher events as server-sent events until the
// client disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		respondError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	// comment lines keep intermediaries from closing an idle stream
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
