// Package loadtest is the load-generation engine: virtual users, the
// weighted task scheduler that drives them and the controller that owns
// their lifetime.
package loadtest

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/internal/domain/study"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// UserState is the lifecycle state of a virtual user.
type UserState int32

const (
	UserCreated UserState = iota
	UserRegistering
	UserActive
	UserStopped
)

// String returns the lower-case state name.
func (s UserState) String() string {
	switch s {
	case UserCreated:
		return "created"
	case UserRegistering:
		return "registering"
	case UserActive:
		return "active"
	case UserStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VIRTUAL USER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultTaskTimeout bounds one backend call once cancellation has been
// requested, so a hung backend cannot block shutdown forever.
const DefaultTaskTimeout = 30 * time.Second

// ListPayloadPerItem is the estimated size of one listed document.
const ListPayloadPerItem = 100

// UserConfig tunes a single virtual user.
type UserConfig struct {
	// WaitMin and WaitMax are the inclusive pacing bounds between iterations.
	// Both zero means no pause at all.
	WaitMin time.Duration
	WaitMax time.Duration

	// TaskTimeout bounds every backend call (0 = DefaultTaskTimeout).
	TaskTimeout time.Duration

	// Seed makes identity, record generation and task choice reproducible.
	Seed uint64

	// IdentitySalt is mixed into the generated email only, so a seeded run
	// against a persistent store does not collide with an earlier run's
	// accounts.
	IdentitySalt uint64
}

// VirtualUser is one simulated student. Its identity and subject ids are
// private; only the Recorder is shared with other users.
type VirtualUser struct {
	id        int
	client    backend.Client
	scheduler *Scheduler
	recorder  Recorder
	logger    *zap.Logger

	gen *study.Generator
	rng *rand.Rand

	waitMin     time.Duration
	waitMax     time.Duration
	taskTimeout time.Duration

	state      atomic.Int32
	iterations atomic.Int64

	mu         sync.RWMutex
	identity   study.Identity
	subjectIDs []string
}

// NewVirtualUser creates a user in the Created state. client is the
// controller-owned handle shared by every user.
func NewVirtualUser(id int, client backend.Client, scheduler *Scheduler, recorder Recorder, log *zap.Logger, cfg UserConfig) *VirtualUser {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.WaitMin = max(cfg.WaitMin, 0)
	if cfg.WaitMax < cfg.WaitMin {
		cfg.WaitMax = cfg.WaitMin
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	return &VirtualUser{
		id:          id,
		client:      client,
		scheduler:   scheduler,
		recorder:    recorder,
		logger:      log.With(logger.Component("virtual_user"), logger.VirtualUserID(id)),
		gen:         study.NewGenerator(cfg.Seed, study.WithIdentitySalt(cfg.IdentitySalt)),
		rng:         rand.New(rand.NewPCG(cfg.Seed, uint64(id))),
		waitMin:     cfg.WaitMin,
		waitMax:     cfg.WaitMax,
		taskTimeout: cfg.TaskTimeout,
	}
}

// ID returns the controller-assigned user number.
func (u *VirtualUser) ID() int { return u.id }

// State returns the current lifecycle state.
func (u *VirtualUser) State() UserState {
	return UserState(u.state.Load())
}

// Identity returns the registered identity.
func (u *VirtualUser) Identity() study.Identity {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.identity
}

// SubjectIDs returns a copy of the ids of subjects this user created.
func (u *VirtualUser) SubjectIDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, len(u.subjectIDs))
	copy(out, u.subjectIDs)
	return out
}

// Iterations returns how many task iterations have completed.
func (u *VirtualUser) Iterations() int64 {
	return u.iterations.Load()
}

// Start registers the user. A failed registration still leaves the user
// Active; without a user id every later iteration is a no-op.
func (u *VirtualUser) Start(ctx context.Context) {
	if !u.state.CompareAndSwap(int32(UserCreated), int32(UserRegistering)) {
		return
	}

	email := u.gen.Email()
	taskCtx, cancel := u.taskContext(ctx)
	var account backend.Account
	err := measure(taskCtx, u.recorder, metric.CategoryAuth, metric.NameCreateUser, "",
		func(ctx context.Context) (int, error) {
			var err error
			account, err = u.client.CreateAccount(ctx, email, study.DefaultPassword, true)
			return 0, err
		})
	cancel()

	u.mu.Lock()
	u.identity = study.Identity{Email: email}
	if err == nil {
		u.identity.UserID = account.UserID
	}
	u.mu.Unlock()

	if err != nil {
		u.logger.Warn("account creation failed", logger.Email(email), logger.Err(err))
	} else {
		u.logger.Debug("account created", logger.Email(email), logger.UserID(account.UserID))
	}

	u.state.Store(int32(UserActive))
}

// Run registers the user and loops {wait, pick task, run task} until ctx
// is cancelled. Cancellation is checked between iterations; an in-flight
// task finishes before Run returns.
func (u *VirtualUser) Run(ctx context.Context) {
	defer u.state.Store(int32(UserStopped))

	u.Start(ctx)
	for {
		if !u.wait(ctx) {
			return
		}
		u.iterate(ctx)
	}
}

// RunIterations registers the user if needed and runs exactly n iterations
// without pacing waits. It stops early when ctx is cancelled.
func (u *VirtualUser) RunIterations(ctx context.Context, n int) {
	u.Start(ctx)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		u.iterate(ctx)
	}
}

// iterate runs one scheduled task, or nothing when the user never got an id.
func (u *VirtualUser) iterate(ctx context.Context) {
	defer u.iterations.Add(1)

	if !u.Identity().Registered() {
		return
	}
	u.runTask(ctx, u.scheduler.SelectWith(u.rng))
}

// wait sleeps a random duration within [waitMin, waitMax]. It returns false
// when ctx is cancelled first.
func (u *VirtualUser) wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	d := u.waitMin
	if span := u.waitMax - u.waitMin; span > 0 {
		d += time.Duration(u.rng.Int64N(int64(span) + 1))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// taskContext detaches a backend call from the user's cancellation so an
// in-flight task runs to completion, bounded by the task timeout.
func (u *VirtualUser) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), u.taskTimeout)
}
