package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/api"
	"github.com/gridpull/gridpull/pkg/config"
	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/liveness"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/metrics"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/registry"
	"github.com/gridpull/gridpull/pkg/retry"
	"github.com/gridpull/gridpull/pkg/scheduler"
	"github.com/gridpull/gridpull/pkg/storage"
)

// shutdownTimeout bounds how long in-flight API requests may drain
const shutdownTimeout = 10 * time.Second

// Dispatcher is the composition root: it owns the store, the event
// broker, the three pumps and the API server, and runs them as one
// process.
type Dispatcher struct {
	cfg       config.Config
	store     storage.Store
	broker    *events.Broker
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	liveness  *liveness.Monitor
	retry     *retry.Controller
	collector *metrics.Collector
	api       *api.Server
	logger    zerolog.Logger
}

// New builds a dispatcher from configuration
func New(cfg config.Config) (*Dispatcher, error) {
	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	reg := registry.New(store, broker)
	handler := protocol.NewHandler(store, broker)

	sched := scheduler.New(store, reg, broker,
		scheduler.ParseStrategy(cfg.TaskAssignment.Strategy), scheduler.DefaultInterval)

	mon := liveness.New(store, broker, liveness.Config{
		CheckInterval:    cfg.WorkerManagement.HeartbeatIntervalDuration(),
		HeartbeatTimeout: cfg.WorkerManagement.HeartbeatTimeoutDuration(),
		AutoRemove:       cfg.WorkerManagement.AutoRemoveOffline,
		OfflineThreshold: cfg.WorkerManagement.OfflineThresholdDuration(),
	})

	retryCtl := retry.New(store, broker, sched, retry.Config{
		MaxRetries: cfg.TaskAssignment.MaxRetries,
		RetryDelay: cfg.TaskAssignment.RetryDelayDuration(),
	})

	apiServer := api.NewServer(api.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		APIKeyRequired: cfg.Security.APIKeyRequired,
		APIKeys:        cfg.Security.APIKeys,
	}, store, reg, broker, handler, sched)

	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		broker:    broker,
		registry:  reg,
		scheduler: sched,
		liveness:  mon,
		retry:     retryCtl,
		collector: metrics.NewCollector(store),
		api:       apiServer,
		logger:    log.WithComponent("dispatcher"),
	}, nil
}

func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.DBTypeSQLite:
		return storage.NewSQLiteStore(cfg.Path)
	case config.DBTypeMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

// Run starts every component and blocks until ctx is canceled or the
// API listener fails. Shutdown order is the reverse of startup: the
// listener drains first so no new work arrives while the pumps stop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Str("db_type", d.cfg.Database.Type).
		Str("strategy", d.cfg.TaskAssignment.Strategy).
		Msg("dispatcher starting")

	d.broker.Start()
	d.collector.Start()
	d.scheduler.Start()
	d.liveness.Start()
	d.retry.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.api.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.api.Shutdown(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("api shutdown failed")
	}

	d.retry.Stop()
	d.liveness.Stop()
	d.scheduler.Stop()
	d.collector.Stop()
	d.broker.Stop()

	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("store close failed")
	}

	d.logger.Info().Msg("dispatcher stopped")
	return runErr
}
