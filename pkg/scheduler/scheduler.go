package scheduler

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/metrics"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/registry"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// Strategy selects a worker for a pending task
type Strategy string

const (
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyRandom      Strategy = "random"
	StrategyTags        Strategy = "tags"
)

// ParseStrategy maps a config string to a Strategy, defaulting to
// least_loaded for unknown names
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyRandom, StrategyTags:
		return Strategy(s)
	default:
		return StrategyLeastLoaded
	}
}

// DefaultInterval is the scheduling pass period
const DefaultInterval = 5 * time.Second

// Scheduler assigns pending tasks to available workers on a fixed
// period. Kick requests an immediate pass, used by the API when a task
// arrives so a fresh submission does not wait out the ticker.
type Scheduler struct {
	store    storage.Store
	registry *registry.Registry
	broker   *events.Broker
	strategy Strategy
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex // serializes scheduling passes
	kickCh chan struct{}
	stopCh chan struct{}
}

// New creates a scheduler. A zero interval falls back to DefaultInterval.
func New(store storage.Store, reg *registry.Registry, broker *events.Broker, strategy Strategy, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:    store,
		registry: reg,
		broker:   broker,
		strategy: strategy,
		interval: interval,
		logger:   log.WithComponent("scheduler"),
		kickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduling loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Kick requests an immediate scheduling pass. Safe to call from any
// goroutine; a pass already requested absorbs further kicks.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Schedule()
		case <-s.kickCh:
			s.Schedule()
		case <-s.stopCh:
			return
		}
	}
}

// candidate tracks a worker's remaining slots within one pass, so a
// pass never over-assigns a worker the store has not yet caught up on
type candidate struct {
	worker *types.Worker
	free   int
}

// Schedule runs one scheduling pass
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	pending, err := s.store.ListTasksByStatus(types.TaskStatusPending)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending tasks")
		return
	}
	if len(pending) == 0 {
		return
	}

	// highest priority first, oldest first within a priority
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	workers, err := s.store.AvailableWorkers()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list available workers")
		return
	}
	candidates := make([]*candidate, 0, len(workers))
	for _, w := range workers {
		candidates = append(candidates, &candidate{worker: w, free: w.AvailableSlots()})
	}

	for _, task := range pending {
		if len(candidates) == 0 {
			break
		}
		idx := s.pick(candidates, task)
		if idx < 0 {
			continue
		}
		picked := candidates[idx]

		if err := s.assign(task, picked.worker); err != nil {
			s.logger.Warn().
				Str("task_id", task.ID).
				Str("worker_id", picked.worker.ID).
				Err(err).
				Msg("assignment failed")
			// the store's view won; drop the candidate for this pass
			candidates = append(candidates[:idx], candidates[idx+1:]...)
			continue
		}

		picked.free--
		if picked.free <= 0 {
			candidates = append(candidates[:idx], candidates[idx+1:]...)
		}
	}
}

// pick returns the index of the chosen candidate, or -1 when no worker
// fits the task
func (s *Scheduler) pick(candidates []*candidate, task *types.Task) int {
	switch s.strategy {
	case StrategyRoundRobin:
		// first candidate in store order; workers rotate out of the head
		// slot as the pass fills them up
		return 0
	case StrategyRandom:
		return rand.Intn(len(candidates))
	case StrategyTags:
		return s.pickByTags(candidates, task)
	default:
		return leastLoaded(candidates, nil)
	}
}

// pickByTags restricts candidates to workers carrying all of the task's
// tags and picks the least loaded among them. A task with no tags, or
// whose tags no candidate carries, falls back to least_loaded over all
// candidates.
func (s *Scheduler) pickByTags(candidates []*candidate, task *types.Task) int {
	if tags := task.Tags(); len(tags) > 0 {
		idx := leastLoaded(candidates, func(c *candidate) bool {
			return c.worker.MatchesTags(tags)
		})
		if idx >= 0 {
			return idx
		}
	}
	return leastLoaded(candidates, nil)
}

// leastLoaded returns the index of the admissible candidate with the
// lowest in-pass load. Ties keep the earliest candidate, which follows
// store listing order.
func leastLoaded(candidates []*candidate, admit func(*candidate) bool) int {
	best := -1
	bestLoad := 0.0
	for i, c := range candidates {
		if admit != nil && !admit(c) {
			continue
		}
		load := passLoad(c)
		if best < 0 || load < bestLoad {
			best = i
			bestLoad = load
		}
	}
	return best
}

// passLoad is the candidate's load including assignments made earlier in
// the same pass
func passLoad(c *candidate) float64 {
	total := c.worker.TotalSlots
	if total == 0 {
		return 100.0
	}
	used := total - c.free
	return float64(used) / float64(total) * 100.0
}

func (s *Scheduler) assign(task *types.Task, worker *types.Worker) error {
	if err := s.store.AssignTask(task.ID, worker.ID); err != nil {
		return err
	}

	// re-read so the pushed frame carries the queued status and binding
	assigned, err := s.store.GetTask(task.ID)
	if err != nil {
		return err
	}
	frame, err := protocol.AddTaskFrame(assigned)
	if err != nil {
		return err
	}
	s.registry.Send(worker.ID, frame)

	metrics.TasksAssigned.Inc()
	if s.broker != nil {
		s.broker.PublishType(events.EventTaskAssigned, "task assigned", map[string]string{
			"task_id":   task.ID,
			"worker_id": worker.ID,
		})
	}
	s.logger.Info().
		Str("task_id", task.ID).
		Str("worker_id", worker.ID).
		Str("strategy", string(s.strategy)).
		Msg("task assigned")
	return nil
}
