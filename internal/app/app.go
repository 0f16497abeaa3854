// Package app assembles a load run from configuration: the backend under
// test, the metrics pipeline, the virtual user population and the status
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/studyup-loadgen/config"
	"github.com/alem-hub/studyup-loadgen/internal/application/loadtest"
	"github.com/alem-hub/studyup-loadgen/internal/application/metrics"
	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/auth"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/backend/memory"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/backend/resilient"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/messaging"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/persistence/postgres"
	redisstore "github.com/alem-hub/studyup-loadgen/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/reporting"
	httpapi "github.com/alem-hub/studyup-loadgen/internal/interface/http"
	"github.com/alem-hub/studyup-loadgen/internal/interface/http/handlers"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// App is one configured run.
type App struct {
	cfg    *config.Config
	runID  string
	logger *zap.Logger

	sink       *metrics.Sink
	bus        *messaging.Bus
	console    *reporting.Console
	controller *loadtest.Controller
	server     *httpapi.Server
	health     *handlers.CompositeHealthChecker

	redis   *goredis.Client
	closers []func() error
}

// New connects to everything cfg names. On error every resource opened so
// far is released.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	runUUID := uuid.New()
	runID := runUUID.String()

	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: log.With(logger.RunID(runID)),
		health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	// ─── 1. BACKEND ──────────────────────────────────────────────────────────
	client, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Backend.RetryAttempts > 1 || cfg.Backend.BreakerThreshold > 0 {
		wrapped := resilient.Wrap(cfg.Backend.Kind, client, resilient.Config{
			Attempts:         cfg.Backend.RetryAttempts,
			BreakerThreshold: cfg.Backend.BreakerThreshold,
			BreakerCooldown:  cfg.Backend.BreakerCooldown,
		}, a.logger)
		a.health.AddCheck("breaker", handlers.NewBreakerCheck(wrapped.BreakerState))
		client = wrapped
	}

	// ─── 2. REPORTERS ────────────────────────────────────────────────────────
	// The sink is created first so the console and gauges can read it; the
	// bus is attached once every reporter exists.
	bus := &lateBus{}
	a.sink = metrics.NewSink(metrics.WithPublisher(bus))
	a.console = reporting.NewConsole(a.sink, a.logger, cfg.Reporting.ConsoleInterval)

	reporters := []messaging.Reporter{a.console}

	var prom *reporting.Prometheus
	if cfg.Reporting.Prometheus {
		prom = reporting.NewPrometheus(reporting.WithRuntimeCollectors())
		prom.ObserveDrops(a.sink.Dropped)
		reporters = append(reporters, prom)
	}

	if cfg.Reporting.MQTTBroker != "" {
		mqttCfg := reporting.DefaultMQTTConfig()
		mqttCfg.Broker = cfg.Reporting.MQTTBroker
		mqttCfg.Topic = cfg.Reporting.MQTTTopic
		mqttCfg.ClientID = cfg.Reporting.MQTTClientID
		m, err := reporting.DialMQTT(mqttCfg)
		if err != nil {
			return nil, fmt.Errorf("connect mqtt reporter: %w", err)
		}
		// The bus closes the reporter after draining.
		reporters = append(reporters, m)
	}

	if cfg.Reporting.RedisChannel != "" {
		rc, err := a.redisClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect redis reporter: %w", err)
		}
		reporters = append(reporters, reporting.NewRedisPubSub(rc, cfg.Reporting.RedisChannel))
	}

	a.bus = messaging.NewBus(messaging.Config{
		BufferSize:    cfg.Reporting.BufferSize,
		BatchSize:     cfg.Reporting.BatchSize,
		FlushInterval: cfg.Reporting.FlushInterval,
		Logger:        a.logger,
	}, reporters...)
	bus.attach(a.bus)

	for _, r := range reporters {
		a.logger.Debug("reporter enabled", logger.Reporter(r.Name()))
	}

	// ─── 3. POPULATION ───────────────────────────────────────────────────────
	scheduler, err := loadtest.NewScheduler(loadtest.WeightsFromMap(cfg.Load.TaskWeights))
	if err != nil {
		return nil, err
	}
	a.controller, err = loadtest.NewController(client, scheduler, a.sink, a.logger, loadtest.ControllerConfig{
		Population:      cfg.Load.Population,
		RampUpPerSecond: cfg.Load.RampUpPerSecond,
		Duration:        cfg.Load.Duration,
		Iterations:      cfg.Load.Iterations,
		User: loadtest.UserConfig{
			WaitMin:      cfg.Load.WaitMin,
			WaitMax:      cfg.Load.WaitMax,
			TaskTimeout:  cfg.Load.TaskTimeout,
			Seed:         cfg.Load.Seed,
			IdentitySalt: uint64(runUUID.ID()),
		},
	})
	if err != nil {
		return nil, err
	}
	if prom != nil {
		prom.ObservePopulation(a.controller.Active)
	}

	// ─── 4. STATUS SERVER ────────────────────────────────────────────────────
	if cfg.HTTP.Enabled {
		srvCfg := httpapi.DefaultConfig()
		srvCfg.Host = cfg.HTTP.Host
		srvCfg.Port = cfg.HTTP.Port

		deps := httpapi.Dependencies{
			Stats:      a.sink,
			Population: a.controller,
			Health:     a.health,
			RunID:      runID,
			Logger:     a.logger,
		}
		if prom != nil {
			deps.Metrics = prom.Handler()
		}
		a.server = httpapi.NewServer(srvCfg, deps)
	}

	a.logger.Info("load run configured",
		zap.String("backend", cfg.Backend.Kind),
		logger.Population(cfg.Load.Population),
		zap.Int("spawn_rate", cfg.Load.RampUpPerSecond),
		zap.Duration("duration", cfg.Load.Duration),
		zap.Int("iterations", cfg.Load.Iterations),
		zap.Any("task_weights", cfg.Load.TaskWeights),
	)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (backend.Client, error) {
	cfg := a.cfg
	hasher := auth.NewHasher(cfg.Backend.BcryptCost)

	switch cfg.Backend.Kind {
	case config.BackendPostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			if st, err := conn.Stats(); err == nil {
				a.logger.Info("postgres pool usage",
					zap.Int32("max_conns", st.MaxConns),
					zap.Int64("acquires", st.AcquireCount),
					zap.Int64("empty_acquires", st.EmptyAcquireCount),
					zap.Duration("acquire_wait", st.AcquireDuration),
				)
			}
			conn.Close()
			return nil
		})
		if cfg.Database.Migrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		a.health.AddCheck("postgres", handlers.NewPingCheck(conn))
		return postgres.NewStore(conn, hasher), nil

	case config.BackendRedis:
		rc, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisstore.NewStore(rc, hasher, cfg.Redis.KeyPrefix), nil

	default:
		opts := []memory.Option{
			memory.WithLatency(cfg.Backend.LatencyMin, cfg.Backend.LatencyMax),
			memory.WithFailureRate(cfg.Backend.FailureRate),
			memory.WithHasher(hasher),
		}
		if cfg.Load.Seed != 0 {
			opts = append(opts, memory.WithSeed(cfg.Load.Seed))
		}
		return memory.New(opts...), nil
	}
}

// redisClient connects once and shares the client between the redis
// backend and the pub/sub reporter.
func (a *App) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	rcfg := redisstore.DefaultConfig()
	rcfg.Addr = a.cfg.Redis.Addr
	rcfg.Password = a.cfg.Redis.Password
	rcfg.DB = a.cfg.Redis.DB
	rcfg.PoolSize = a.cfg.Redis.PoolSize
	rcfg.KeyPrefix = a.cfg.Redis.KeyPrefix

	rc, err := redisstore.Connect(ctx, rcfg)
	if err != nil {
		return nil, err
	}
	a.redis = rc
	a.closers = append(a.closers, rc.Close)
	a.health.AddCheck("redis", func(ctx context.Context) error {
		return rc.Ping(ctx).Err()
	})
	return rc, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run drives the population until ctx is done, the duration elapses or
// every user finished its iterations, then logs the final summary. A
// failing status server aborts the run.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	if a.server != nil {
		errCh := a.server.StartAsync()
		g.Go(func() error {
			select {
			case err := <-errCh:
				return err
			case <-runDone:
				return nil
			}
		})
	}

	consoleCtx, stopConsole := context.WithCancel(gctx)
	g.Go(func() error {
		a.console.Run(consoleCtx)
		return nil
	})

	g.Go(func() error {
		defer stopConsole()
		defer close(runDone)
		return a.controller.Run(gctx)
	})

	err := g.Wait()
	a.console.Summary("final")
	return err
}

// Close stops the status server, flushes the reporters and releases the
// backend connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil && a.server.IsRunning() {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunID identifies this run in logs and on the status server.
func (a *App) RunID() string { return a.runID }

// Stats returns the aggregated statistics.
func (a *App) Stats() *metrics.Sink { return a.sink }

// Controller returns the population controller.
func (a *App) Controller() *loadtest.Controller { return a.controller }

// Health runs every registered health check.
func (a *App) Health(ctx context.Context) handlers.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.health.Check(ctx)
}

// lateBus lets the sink be built before the bus it publishes to. Events
// recorded before attach are aggregated but not published.
type lateBus struct {
	bus *messaging.Bus
}

func (l *lateBus) attach(b *messaging.Bus) { l.bus = b }

func (l *lateBus) Publish(event metric.Event) bool {
	if l.bus == nil {
		return false
	}
	return l.bus.Publish(event)
}
