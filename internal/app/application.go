// Package app assembles every EASM service into a single lifecycle-managed
// process, matching the teacher's internal/app.Application idiom: one
// struct holding the wired dependency graph, a Start/Stop pair driving the
// system.Service contract, and no global state.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	core "github.com/riftwatch/easm/internal/app/core/service"
	"github.com/riftwatch/easm/internal/app/system"
	"github.com/riftwatch/easm/internal/config"
	"github.com/riftwatch/easm/internal/platform/database"
	"github.com/riftwatch/easm/internal/platform/migrations"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/services/alerting"
	"github.com/riftwatch/easm/services/dagengine"
	"github.com/riftwatch/easm/services/dagscheduler"
	"github.com/riftwatch/easm/services/eventrouter"
	"github.com/riftwatch/easm/services/fingerprint"
	"github.com/riftwatch/easm/services/ratelimiter"
	"github.com/riftwatch/easm/services/riskengine"
	"github.com/riftwatch/easm/services/scanrunner"
	"github.com/riftwatch/easm/services/taskqueue"
	"github.com/riftwatch/easm/storage"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/riftwatch/easm/storage/postgres"
)

func idgen() string { return uuid.NewString() }

// Application wires every domain service, the shared task-queue worker
// pool, and the storage backend into one dependency graph, and drives them
// through the system.Service lifecycle (spec §5's process boundary).
type Application struct {
	Config *config.Config
	Log    *logger.Logger

	DB     *sql.DB
	Redis  *redis.Client
	Stores *storage.Stores

	Queue        *taskqueue.Queue
	Pool         *taskqueue.Pool
	Limiter      *ratelimiter.Limiter
	DAGExecutor  *dagengine.Executor
	EventRouter  *eventrouter.Router
	Risk         *riskengine.Calculator
	Alerter      *alerting.Alerter
	Notifier     *alerting.Notifier
	ScanRunner   *scanrunner.Runner
	Fingerprint  *fingerprint.Engine
	DAGScheduler *dagscheduler.Scheduler

	services []system.Service
}

// New builds the full dependency graph from cfg. It connects to Postgres and
// applies embedded migrations when cfg.DatabaseURL is set; otherwise it falls
// back to the in-memory store, matching the teacher's dependency-free local
// dev path.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	a := &Application{Config: cfg, Log: log}

	stores, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	a.Stores = stores

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = redisClient

	a.Queue = taskqueue.New()
	a.Pool = taskqueue.NewPool(a.Queue, log)
	a.Limiter = ratelimiter.New(redisClient, log)
	a.Fingerprint = fingerprint.New(fingerprint.DefaultRules())

	a.DAGExecutor = dagengine.New(a.Stores.DAGs, a.Stores.Scans, a.Queue, idgen, log)
	a.EventRouter = eventrouter.New(a.Stores.Triggers, a.Stores.DAGs, a.DAGExecutor, log)
	a.Risk = riskengine.New(a.Stores.Risk, a.Stores.Assets, idgen, log)
	a.Notifier = alerting.NewNotifier(a.Stores.Alerts, log)
	a.Alerter = alerting.NewAlerter(a.Stores.Alerts, a.Notifier, idgen, log)
	a.ScanRunner = scanrunner.New(a.Stores.Scans, a.Stores.Assets, a.Stores.DAGs, a.Limiter, a.DAGExecutor, a.Fingerprint, idgen, log, cfg.ScreenshotDir)
	a.ScanRunner.RegisterHandlers(a.Pool)
	a.DAGScheduler = dagscheduler.New(a.Stores.Projects, a.Stores.DAGs, a.DAGExecutor, log)

	a.services = []system.Service{
		&poolService{pool: a.Pool, size: cfg.WorkerPoolSize},
		a.DAGScheduler,
	}

	return a, nil
}

// Attach registers an additional lifecycle-managed component, such as the
// HTTP adapter, which lives outside this package to avoid an import cycle
// back into it.
func (a *Application) Attach(svc system.Service) {
	a.services = append(a.services, svc)
}

func (a *Application) openStorage(ctx context.Context) (*storage.Stores, error) {
	if a.Config.DatabaseURL == "" {
		return memory.NewStores(), nil
	}

	db, err := database.Open(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	a.DB = db
	return postgres.NewStores(db), nil
}

func newRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Start brings up every lifecycle-managed component in order. A failure
// stops whatever was already started before returning.
func (a *Application) Start(ctx context.Context) error {
	started := make([]system.Service, 0, len(a.services))
	for _, svc := range a.services {
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}
	return nil
}

// Stop tears down every component in reverse start order, then closes the
// shared Redis and Postgres connections.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(a.services) - 1; i >= 0; i-- {
		if err := a.services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// poolService adapts *taskqueue.Pool to the system.Service contract.
type poolService struct {
	pool *taskqueue.Pool
	size int
}

func (s *poolService) Name() string { return "taskqueue-pool" }

func (s *poolService) Start(ctx context.Context) error {
	n := s.size
	if n <= 0 {
		n = 8
	}
	s.pool.Start(ctx, n)
	return nil
}

func (s *poolService) Stop(ctx context.Context) error {
	s.pool.Stop()
	return nil
}

func (s *poolService) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "taskqueue-pool",
		Domain: "scan-orchestration",
		Layer:  core.LayerEngine,
	}.WithCapabilities("scan-dispatch", "dag-dispatch")
}
