package metrics

import (
	"time"

	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// knownTaskStatuses keeps stale label values at zero after the last task
// in a state disappears
var knownTaskStatuses = []types.TaskStatus{
	types.TaskStatusPending,
	types.TaskStatusQueued,
	types.TaskStatusDownloading,
	types.TaskStatusCompleted,
	types.TaskStatusFailed,
	types.TaskStatusCanceled,
}

var knownWorkerStatuses = []types.WorkerStatus{
	types.WorkerStatusOnline,
	types.WorkerStatusBusy,
	types.WorkerStatusOffline,
	types.WorkerStatusError,
}

// Collector periodically refreshes the gauge metrics from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if counts, err := c.store.TaskCountsByStatus(); err == nil {
		for _, status := range knownTaskStatuses {
			TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}

	if counts, err := c.store.WorkerCountsByStatus(); err == nil {
		for _, status := range knownWorkerStatuses {
			WorkersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}

	if load, err := c.store.SystemLoad(); err == nil {
		SystemLoad.Set(load)
	}
}
