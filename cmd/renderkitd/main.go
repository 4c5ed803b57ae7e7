package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/renderkit/renderkit/pkg/artifact"
	"github.com/renderkit/renderkit/pkg/automation"
	"github.com/renderkit/renderkit/pkg/broadcast"
	"github.com/renderkit/renderkit/pkg/config"
	"github.com/renderkit/renderkit/pkg/credits"
	"github.com/renderkit/renderkit/pkg/environment"
	"github.com/renderkit/renderkit/pkg/httpserver"
	"github.com/renderkit/renderkit/pkg/logger"
	"github.com/renderkit/renderkit/pkg/pg"
	"github.com/renderkit/renderkit/pkg/queue"
	"github.com/renderkit/renderkit/pkg/queue/postgres"
	"github.com/renderkit/renderkit/pkg/queue/sqlite"
	"github.com/renderkit/renderkit/pkg/redis"
	"github.com/renderkit/renderkit/pkg/render"
	"github.com/renderkit/renderkit/pkg/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("renderkitd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A .env file is a development convenience; absence is not an error.
	_ = config.LoadEnv()

	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := environment.Parse(cfg.Environment)
	ctx = environment.WithContext(ctx, env)
	log := newLogger(env, cfg.ServiceName)
	slog.SetDefault(log)

	back, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer back.close()

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		return err
	}

	ev, err := openEvents(ctx, cfg)
	if err != nil {
		return err
	}
	defer ev.close()
	events := ev.broadcaster

	var qcfg queue.Config
	if err := config.Load(&qcfg); err != nil {
		return fmt.Errorf("load queue config: %w", err)
	}

	sender := webhook.NewSender()

	enq, err := queue.NewEnqueuer(back.jobs, queue.WithEnqueuerEvents(events))
	if err != nil {
		return fmt.Errorf("build enqueuer: %w", err)
	}

	renderHandler, err := render.NewHandler(render.NewMemoryEngine(), back.ledger, artifacts,
		render.WithCostPerFrame(cfg.CostPerFrame),
		render.WithWebhookSender(sender),
		render.WithNotifySecret(cfg.NotifySecret),
	)
	if err != nil {
		return fmt.Errorf("build render handler: %w", err)
	}

	renderAction, err := render.NewEnqueueRenderAction(enq)
	if err != nil {
		return fmt.Errorf("build render action: %w", err)
	}
	autoHandlers, err := automation.NewHandlers(log, automation.NewWebhookAction(sender), renderAction)
	if err != nil {
		return fmt.Errorf("build automation handlers: %w", err)
	}

	worker, err := queue.NewWorker(back.jobs,
		queue.WithQueues(queue.DefaultQueueName, queue.QueueRenders, queue.QueueAutomation),
		queue.WithPollInterval(qcfg.PollInterval),
		queue.WithConcurrency(qcfg.Concurrency),
		queue.WithRetryPolicy(qcfg.RetryPolicy()),
		queue.WithWorkerLogger(log),
		queue.WithWorkerEvents(events),
	)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	if err := worker.RegisterHandler(renderHandler); err != nil {
		return fmt.Errorf("register render handler: %w", err)
	}
	if err := worker.RegisterHandlers(autoHandlers...); err != nil {
		return fmt.Errorf("register automation handlers: %w", err)
	}

	monitor, err := queue.NewMonitor(back.jobs,
		queue.WithStalledAfter(qcfg.StalledAfter),
		queue.WithMonitorRetryPolicy(qcfg.RetryPolicy()),
		queue.WithMonitorLogger(log),
		queue.WithMonitorEvents(events),
	)
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}

	mgr, err := queue.NewManager(back.jobs,
		queue.WithManagerLogger(log),
		queue.WithManagerEvents(events),
	)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	runner, err := automation.NewRunner(back.execs, enq,
		automation.WithRunnerEvents(events),
		automation.WithRunnerLogger(log),
	)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	sched, err := automation.NewScheduler(runner,
		automation.WithSchedulerInterval(cfg.SchedulerInterval),
		automation.WithSchedulerLogger(log),
	)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	scheduled := 0
	if cfg.AutomationsPath != "" {
		defs, err := loadAutomations(cfg.AutomationsPath)
		if err != nil {
			return err
		}
		scheduled, err = registerScheduled(sched, defs, log)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "automations loaded",
			slog.Int("defined", len(defs)),
			slog.Int("scheduled", scheduled),
		)
	}

	var ocfg httpserver.Config
	if err := config.Load(&ocfg); err != nil {
		return fmt.Errorf("load ops listener config: %w", err)
	}
	ops := httpserver.NewFromConfig(ocfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("ops listener started", slog.String("addr", ocfg.Addr))
		}),
	)

	ready := []func(context.Context) error{back.health}
	if ev.health != nil {
		ready = append(ready, ev.health)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	g.Go(monitor.Run(gctx, cfg.MonitorInterval))
	g.Go(runner.Run(gctx))
	g.Go(func() error {
		return ops.Run(gctx, opsRouter(gctx, log, mgr, ready...))
	})
	// The scheduler refuses to run with nothing registered.
	if scheduled > 0 {
		g.Go(sched.Run(gctx))
	}
	if back.purge != nil {
		g.Go(back.purge(gctx))
	}

	log.InfoContext(ctx, "renderkitd running",
		slog.String("storage", cfg.StorageDriver),
		slog.String("artifacts", cfg.ArtifactDriver),
		slog.String("events", cfg.EventsDriver),
	)

	// Periodic tasks report the context error on shutdown; only real
	// failures should escape.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.InfoContext(ctx, "renderkitd stopped")
	return nil
}

func newLogger(env environment.Environment, service string) *slog.Logger {
	mode := logger.WithDevelopment(service)
	if env.IsProduction() {
		mode = logger.WithProduction(service)
	}
	return logger.New(mode, logger.WithContextExtractors(environment.LoggerExtractor()))
}

// jobStorage is the full repository surface the queue components share. Both
// storage drivers satisfy it with a single value.
type jobStorage interface {
	queue.EnqueuerRepository
	queue.WorkerRepository
	queue.ManagerRepository
	queue.MonitorRepository
}

// backends bundles everything the storage driver decides in one place.
type backends struct {
	jobs   jobStorage
	ledger render.CreditLedger
	execs  automation.ExecutionStore
	health func(ctx context.Context) error
	purge  func(ctx context.Context) func() error // nil when the driver needs no purge task
	close  func()
}

func openBackends(ctx context.Context, cfg Config, log *slog.Logger) (*backends, error) {
	switch cfg.StorageDriver {
	case "sqlite", "":
		var scfg sqlite.Config
		if err := config.Load(&scfg); err != nil {
			return nil, fmt.Errorf("load sqlite config: %w", err)
		}
		store, err := sqlite.Open(scfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		ledger, err := credits.NewSQLiteLedger(store.DB())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open credit ledger: %w", err)
		}
		execs, err := automation.NewSQLiteExecutionStore(store.DB())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open execution store: %w", err)
		}
		return &backends{
			jobs:   store,
			ledger: ledger,
			execs:  execs,
			health: store.Healthcheck(),
			purge: func(ctx context.Context) func() error {
				return execs.Purge(ctx, cfg.ExecutionRetention, cfg.ExecutionPurgeInterval)
			},
			close: func() {
				if err := store.Close(); err != nil {
					log.Error("closing sqlite storage", slog.Any("error", err))
				}
			},
		}, nil

	case "postgres":
		var pcfg pg.Config
		if err := config.Load(&pcfg); err != nil {
			return nil, fmt.Errorf("load postgres config: %w", err)
		}
		pool, err := pg.Connect(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool, pcfg, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		ledger, err := credits.NewPostgresLedger(pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("open credit ledger: %w", err)
		}
		// Execution records live in a bounded in-memory store here. The jobs
		// they mirror are durable, so a restart costs only execution history,
		// and the scheduler's deterministic idempotency keys still suppress
		// duplicate firings.
		return &backends{
			jobs:   postgres.New(pool),
			ledger: ledger,
			execs:  automation.NewMemoryExecutionStore(cfg.ExecutionCacheSize, cfg.ExecutionCacheTTL),
			health: pg.Healthcheck(pool),
			close:  pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func openArtifacts(ctx context.Context, cfg Config) (render.ArtifactStore, error) {
	switch cfg.ArtifactDriver {
	case "local", "":
		return artifact.NewLocalStorage(cfg.ArtifactDir, cfg.ArtifactBaseURL)
	case "s3":
		var scfg artifact.S3Config
		if err := config.Load(&scfg); err != nil {
			return nil, fmt.Errorf("load s3 config: %w", err)
		}
		return artifact.NewS3Storage(ctx, scfg)
	default:
		return nil, fmt.Errorf("unknown artifact driver %q", cfg.ArtifactDriver)
	}
}

// eventsBackend bundles the broadcaster with what its driver drags along.
type eventsBackend struct {
	broadcaster queue.EventBroadcaster
	health      func(ctx context.Context) error // nil for in-process events
	close       func()
}

func openEvents(ctx context.Context, cfg Config) (*eventsBackend, error) {
	switch cfg.EventsDriver {
	case "memory", "":
		b := queue.NewMemoryEventBroadcaster()
		return &eventsBackend{
			broadcaster: b,
			close:       func() { _ = b.Close() },
		}, nil

	case "redis":
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return nil, fmt.Errorf("load redis config: %w", err)
		}
		client, err := redis.Connect(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b, err := broadcast.NewRedisBroadcaster[queue.Event](client, cfg.EventsChannel)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build event broadcaster: %w", err)
		}
		return &eventsBackend{
			broadcaster: b,
			health:      redis.Healthcheck(client),
			close: func() {
				_ = b.Close()
				_ = client.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}
