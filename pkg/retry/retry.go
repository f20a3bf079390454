package retry

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/metrics"
	"github.com/gridpull/gridpull/pkg/storage"
	"github.com/gridpull/gridpull/pkg/types"
)

// DefaultInterval is the pump period between retry passes
const DefaultInterval = 60 * time.Second

// Kicker wakes the scheduler after a pass requeues tasks
type Kicker interface {
	Kick()
}

// Config tunes the controller
type Config struct {
	// MaxRetries caps automatic retries per task; tasks at the cap stay
	// failed until requeued by hand
	MaxRetries int

	// RetryDelay is the minimum time a task rests in failed before it
	// is retried
	RetryDelay time.Duration

	// Interval is the pump period, DefaultInterval when zero
	Interval time.Duration
}

// Controller returns failed tasks to the pending queue with backoff.
// The retry count lives in the task's options under retry_count, so it
// survives every store backend and travels with the task.
type Controller struct {
	store  storage.Store
	broker *events.Broker
	kicker Kicker
	cfg    Config
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a retry controller. kicker may be nil.
func New(store storage.Store, broker *events.Broker, kicker Kicker, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Controller{
		store:  store,
		broker: broker,
		kicker: kicker,
		cfg:    cfg,
		logger: log.WithComponent("retry"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the retry loop
func (c *Controller) Start() {
	go c.run()
}

// Stop stops the retry loop
func (c *Controller) Stop() {
	close(c.stopCh)
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Pass(time.Now().UTC())
		case <-c.stopCh:
			return
		}
	}
}

// Pass runs one retry sweep against the given clock reading
func (c *Controller) Pass(now time.Time) {
	failed, err := c.store.ListTasksByStatus(types.TaskStatusFailed)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list failed tasks")
		return
	}

	retried := 0
	for _, task := range failed {
		count := task.RetryCount()
		if count >= c.cfg.MaxRetries {
			continue
		}
		if now.Sub(task.UpdatedAt) < c.cfg.RetryDelay {
			continue
		}

		options := task.Options
		if options == nil {
			options = make(map[string]any)
		}
		options[types.OptionRetryCount] = count + 1

		_, err := c.store.UpdateTask(task.ID, types.TaskPatch{
			Status:       types.Ptr(types.TaskStatusPending),
			WorkerID:     types.Ptr(""),
			EngineGID:    types.Ptr(""),
			ErrorMessage: types.Ptr(""),
			Options:      options,
		})
		if err != nil {
			c.logger.Error().Str("task_id", task.ID).Err(err).Msg("failed to requeue task")
			continue
		}

		retried++
		metrics.TasksRetried.Inc()
		if c.broker != nil {
			c.broker.PublishType(events.EventTaskRetried, "task requeued for retry", map[string]string{
				"task_id": task.ID,
			})
		}
		c.logger.Info().
			Str("task_id", task.ID).
			Int("attempt", count+1).
			Int("max_retries", c.cfg.MaxRetries).
			Msg("task requeued for retry")
	}

	if retried > 0 && c.kicker != nil {
		c.kicker.Kick()
	}
}
