package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alem-hub/studyup-loadgen/config"
	"github.com/alem-hub/studyup-loadgen/internal/app"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// runFlags mirror the most common settings. A flag only overrides the
// environment and scenario when it was set explicitly.
type runFlags struct {
	scenario   string
	users      int
	spawnRate  int
	waitMin    time.Duration
	waitMax    time.Duration
	duration   time.Duration
	iterations int
	backend    string
	weights    string
	seed       uint64
	logLevel   string
	logFormat  string
	httpPort   int
	noHTTP     bool
}

// Spawn virtual users and drive load until interrupted, the duration
// elapses or every user finished its iterations.
func runCmd() *cobra.Command {
	return newRunCmd(&runFlags{})
}

func newRunCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the configured backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.scenario, "config", "c", "", "YAML scenario file overlaid on the environment")
	fs.IntVarP(&f.users, "users", "u", 0, "Target number of concurrent virtual users")
	fs.IntVarP(&f.spawnRate, "spawn-rate", "r", 0, "Users spawned per second")
	fs.DurationVar(&f.waitMin, "wait-min", 0, "Minimum pause between iterations")
	fs.DurationVar(&f.waitMax, "wait-max", 0, "Maximum pause between iterations")
	fs.DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	fs.IntVarP(&f.iterations, "iterations", "i", 0, "Run exactly this many iterations per user without pacing")
	fs.StringVarP(&f.backend, "backend", "b", "", "Backend under test: memory, postgres or redis")
	fs.StringVarP(&f.weights, "weights", "w", "", "Task weights, e.g. CreateSubject=3,AddGrade=2,ListSubjects=1")
	fs.Uint64Var(&f.seed, "seed", 0, "Seed for reproducible runs (0 = random)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json or console")
	fs.IntVar(&f.httpPort, "http-port", 0, "Port of the status server")
	fs.BoolVar(&f.noHTTP, "no-http", false, "Disable the status server")

	return cmd
}

// loadConfig layers environment, scenario file and flags, then validates.
func loadConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	if f.scenario != "" {
		s, err := config.LoadScenario(f.scenario)
		if err != nil {
			return nil, err
		}
		s.Apply(cfg)
	}

	changed := cmd.Flags().Changed
	if changed("users") {
		cfg.Load.Population = f.users
	}
	if changed("spawn-rate") {
		cfg.Load.RampUpPerSecond = f.spawnRate
	}
	if changed("wait-min") {
		cfg.Load.WaitMin = f.waitMin
	}
	if changed("wait-max") {
		cfg.Load.WaitMax = f.waitMax
	}
	if changed("duration") {
		cfg.Load.Duration = f.duration
	}
	if changed("iterations") {
		cfg.Load.Iterations = f.iterations
	}
	if changed("backend") {
		cfg.Backend.Kind = f.backend
	}
	if changed("weights") {
		w, err := config.ParseWeights(f.weights)
		if err != nil {
			return nil, fmt.Errorf("--weights: %w", err)
		}
		cfg.Load.TaskWeights = w
	}
	if changed("seed") {
		cfg.Load.Seed = f.seed
	}
	if changed("log-level") {
		cfg.Observability.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.Observability.LogFormat = f.logFormat
	}
	if changed("http-port") {
		cfg.HTTP.Port = f.httpPort
	}
	if f.noHTTP {
		cfg.HTTP.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	// ─── 1. LOGGING ──────────────────────────────────────────────────────────
	level, err := logger.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Observability.LogFormat)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{
		Level:     level,
		Format:    format,
		Output:    cmd.ErrOrStderr(),
		AddCaller: cfg.IsDevelopment(),
	}).With(zap.String("app", cfg.App.Name), zap.String("version", Version))
	defer func() { _ = log.Sync() }()

	// ─── 2. SIGNALS ──────────────────────────────────────────────────────────
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignal)
	go func() {
		select {
		case <-ctx.Done():
		case sig := <-stopSignal:
			log.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		}
	}()

	// ─── 3. WIRING ───────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", logger.Err(err))
		return err
	}

	// ─── 4. RUN ──────────────────────────────────────────────────────────────
	runErr := a.Run(ctx)

	// ─── 5. GRACEFUL SHUTDOWN ────────────────────────────────────────────────
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.Close(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", logger.Err(err))
	}

	if runErr != nil {
		log.Error("run failed", logger.Err(runErr))
		return runErr
	}
	log.Info("shutdown completed successfully")
	return nil
}
