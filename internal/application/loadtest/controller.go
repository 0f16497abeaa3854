package loadtest

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("loadtest: controller already started")

// ControllerConfig describes a run.
type ControllerConfig struct {
	// Population is the target number of concurrent virtual users.
	Population int

	// RampUpPerSecond is how many users are spawned per second.
	RampUpPerSecond int

	// Duration bounds the run (0 = until cancelled).
	Duration time.Duration

	// Iterations, when positive, makes every user run exactly that many
	// iterations without pacing and then stop.
	Iterations int

	// User is applied to every spawned user. User.Seed is the base seed;
	// user n gets Seed+n. A zero base seed is replaced by a random one.
	User UserConfig
}

// Validate checks the configuration.
func (c ControllerConfig) Validate() error {
	if c.Population < 0 {
		return shared.ConfigurationError("controller", "population cannot be negative")
	}
	if c.RampUpPerSecond <= 0 {
		return shared.ConfigurationError("controller", "ramp-up rate must be positive")
	}
	if c.User.WaitMin < 0 || c.User.WaitMax < c.User.WaitMin {
		return shared.ConfigurationError("controller", "wait bounds must satisfy 0 <= min <= max")
	}
	if c.Duration < 0 || c.Iterations < 0 {
		return shared.ConfigurationError("controller", "duration and iterations cannot be negative")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTROLLER
// ══════════════════════════════════════════════════════════════════════════════

// Controller owns the population of virtual users and the backend handle
// they share. It is the coordination root of a run.
type Controller struct {
	client    backend.Client
	scheduler *Scheduler
	recorder  Recorder
	base      *zap.Logger
	logger    *zap.Logger
	config    ControllerConfig

	limiter *rate.Limiter

	mu      sync.Mutex
	target  int
	nextID  int
	started bool
	users   []*handle
	group   errgroup.Group

	resized chan struct{}
	stopCh  chan struct{}
	stop    sync.Once
}

// handle tracks one spawned user and its private cancellation.
type handle struct {
	user   *VirtualUser
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (h *handle) retire() {
	h.once.Do(h.cancel)
}

// NewController validates the configuration and the scheduler's task set.
// Configuration errors are reported here, never mid-run.
func NewController(client backend.Client, scheduler *Scheduler, recorder Recorder, log *zap.Logger, cfg ControllerConfig) (*Controller, error) {
	if client == nil {
		return nil, shared.ConfigurationError("controller", "backend client is required")
	}
	if scheduler == nil {
		return nil, shared.ConfigurationError("controller", "scheduler is required")
	}
	if recorder == nil {
		return nil, shared.ConfigurationError("controller", "recorder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateTasks(scheduler); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.User.Seed == 0 {
		cfg.User.Seed = rand.Uint64()
	}

	return &Controller{
		client:    client,
		scheduler: scheduler,
		recorder:  recorder,
		base:      log,
		logger:    log.With(logger.Component("controller")),
		config:    cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RampUpPerSecond), 1),
		target:    cfg.Population,
		resized:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}, nil
}

// Run spawns users at the ramp-up rate up to the target population and
// blocks until ctx is done, the configured duration elapses, Stop is called
// or (in iteration mode) every user finished. It then retires every user
// once and waits for in-flight tasks to drain.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.config.Duration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.config.Duration)
		defer cancelTimeout()
	}

	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info("run started",
		logger.Population(c.config.Population),
		zap.Int("ramp_up_per_second", c.config.RampUpPerSecond),
		zap.Duration("duration", c.config.Duration),
	)
	start := time.Now()

	c.rampLoop(runCtx)

	c.retireAll()
	_ = c.group.Wait()

	c.logger.Info("run finished",
		zap.Int("users_spawned", c.Spawned()),
		logger.Latency(time.Since(start)),
	)
	return nil
}

// rampLoop spawns users until the run ends. In iteration mode it returns
// once the full population has been spawned and has finished.
func (c *Controller) rampLoop(ctx context.Context) {
	for {
		if c.Active() < c.Target() {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			if c.Active() < c.Target() {
				c.spawn(ctx)
			}
			continue
		}

		if c.config.Iterations > 0 {
			c.waitIterationUsers(ctx)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.resized:
		}
	}
}

// waitIterationUsers blocks until every spawned user finished its fixed
// iteration budget or ctx is done.
func (c *Controller) waitIterationUsers(ctx context.Context) {
	c.mu.Lock()
	handles := make([]*handle, len(c.users))
	copy(handles, c.users)
	c.mu.Unlock()

	for _, h := range handles {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
		}
	}
}

func (c *Controller) spawn(parent context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	cfg := c.config.User
	cfg.Seed += uint64(id)

	user := NewVirtualUser(id, c.client, c.scheduler, c.recorder, c.base, cfg)
	userCtx, cancel := context.WithCancel(parent)
	h := &handle{user: user, cancel: cancel, done: make(chan struct{})}
	c.users = append(c.users, h)

	iterations := c.config.Iterations
	c.group.Go(func() error {
		defer close(h.done)
		defer h.retire()
		if iterations > 0 {
			user.RunIterations(userCtx, iterations)
			user.state.Store(int32(UserStopped))
			return nil
		}
		user.Run(userCtx)
		return nil
	})

	c.logger.Debug("user spawned", logger.VirtualUserID(id), zap.Int("active", len(c.users)))
}

// SetPopulation changes the target population. Shrinking retires the most
// recently spawned users immediately; growing lets the ramp loop spawn.
func (c *Controller) SetPopulation(n int) error {
	if n < 0 {
		return shared.ConfigurationError("controller", "population cannot be negative")
	}

	c.mu.Lock()
	c.target = n
	var retired []*handle
	if len(c.users) > n {
		retired = c.users[n:]
		c.users = c.users[:n:n]
	}
	c.mu.Unlock()

	for _, h := range retired {
		h.retire()
	}

	select {
	case c.resized <- struct{}{}:
	default:
	}

	c.logger.Info("population changed", logger.Population(n), zap.Int("retired", len(retired)))
	return nil
}

// Stop ends the run. Safe to call more than once.
func (c *Controller) Stop() {
	c.stop.Do(func() { close(c.stopCh) })
}

// Target returns the target population.
func (c *Controller) Target() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Active returns the number of users currently owned by the controller.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// Spawned returns how many users were spawned since the run started.
func (c *Controller) Spawned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

// Users returns the currently owned users.
func (c *Controller) Users() []*VirtualUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*VirtualUser, 0, len(c.users))
	for _, h := range c.users {
		out = append(out, h.user)
	}
	return out
}

func (c *Controller) retireAll() {
	c.mu.Lock()
	handles := make([]*handle, len(c.users))
	copy(handles, c.users)
	c.mu.Unlock()

	for _, h := range handles {
		h.retire()
	}
}
