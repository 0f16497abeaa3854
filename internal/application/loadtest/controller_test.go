package loadtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

func fastUser() UserConfig {
	return UserConfig{WaitMin: time.Millisecond, WaitMax: 2 * time.Millisecond, Seed: 99}
}

func newTestController(t *testing.T, client *fakeClient, events *eventLog, cfg ControllerConfig) *Controller {
	t.Helper()
	c, err := NewController(client, mustScheduler(t, DefaultWeights()), events, nil, cfg)
	require.NoError(t, err)
	return c
}

func runAsync(c *Controller) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not finish")
	}
}

func TestController_IterationMode(t *testing.T) {
	client := newFakeClient()
	events := &eventLog{}
	c := newTestController(t, client, events, ControllerConfig{
		Population:      5,
		RampUpPerSecond: 1000,
		Iterations:      3,
		User:            fastUser(),
	})

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 5, c.Spawned())
	assert.Equal(t, 5, client.accountCount())
	assert.Len(t, events.named(metric.NameCreateUser), 5)
	assert.Len(t, events.category(metric.CategoryStore), 15)
	for _, u := range c.Users() {
		assert.EqualValues(t, 3, u.Iterations())
		assert.Equal(t, UserStopped, u.State())
	}
}

func TestController_IterationModeWithEmptyPopulation(t *testing.T) {
	c := newTestController(t, newFakeClient(), &eventLog{}, ControllerConfig{
		Population:      0,
		RampUpPerSecond: 10,
		Iterations:      3,
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Zero(t, c.Spawned())
}

func TestController_DurationBoundsRun(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, &eventLog{}, ControllerConfig{
		Population:      3,
		RampUpPerSecond: 1000,
		Duration:        200 * time.Millisecond,
		User:            fastUser(),
	})

	start := time.Now()
	require.NoError(t, c.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	assert.Equal(t, 3, c.Spawned())
	for _, u := range c.Users() {
		assert.Equal(t, UserStopped, u.State())
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	client := newFakeClient()
	c := newTestController(t, client, &eventLog{}, ControllerConfig{
		Population:      4,
		RampUpPerSecond: 1000,
		User:            fastUser(),
	})

	errCh := runAsync(c)
	require.Eventually(t, func() bool { return c.Active() == 4 }, 2*time.Second, time.Millisecond)

	c.Stop()
	c.Stop()
	waitRun(t, errCh)

	assert.Equal(t, 4, c.Spawned())
	assert.Equal(t, 4, client.accountCount())
	for _, u := range c.Users() {
		assert.Equal(t, UserStopped, u.State())
	}
}

func TestController_RunOnlyOnce(t *testing.T) {
	c := newTestController(t, newFakeClient(), &eventLog{}, ControllerConfig{
		Population:      1,
		RampUpPerSecond: 1000,
		Iterations:      1,
		User:            fastUser(),
	})

	require.NoError(t, c.Run(context.Background()))
	assert.ErrorIs(t, c.Run(context.Background()), ErrAlreadyStarted)
}

func TestController_SetPopulation(t *testing.T) {
	c := newTestController(t, newFakeClient(), &eventLog{}, ControllerConfig{
		Population:      4,
		RampUpPerSecond: 1000,
		User:            fastUser(),
	})

	errCh := runAsync(c)
	require.Eventually(t, func() bool { return c.Active() == 4 }, 2*time.Second, time.Millisecond)
	before := c.Users()

	require.NoError(t, c.SetPopulation(2))
	assert.Equal(t, 2, c.Target())
	assert.Equal(t, 2, c.Active())
	for _, u := range before[2:] {
		u := u
		assert.Eventually(t, func() bool { return u.State() == UserStopped }, 2*time.Second, time.Millisecond)
	}

	require.NoError(t, c.SetPopulation(3))
	require.Eventually(t, func() bool { return c.Active() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 5, c.Spawned())

	assert.ErrorIs(t, c.SetPopulation(-1), shared.ErrConfiguration)

	c.Stop()
	waitRun(t, errCh)
}

func TestController_ContextCancellationEndsRun(t *testing.T) {
	c := newTestController(t, newFakeClient(), &eventLog{}, ControllerConfig{
		Population:      2,
		RampUpPerSecond: 1000,
		User:            fastUser(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Active() == 2 }, 2*time.Second, time.Millisecond)
	cancel()
	waitRun(t, errCh)
}

func TestNewController_RejectsInvalidConfiguration(t *testing.T) {
	sched := mustScheduler(t, DefaultWeights())
	unknown := mustScheduler(t, []WeightedTask{{"Dance", 1}})
	valid := ControllerConfig{Population: 1, RampUpPerSecond: 1}

	tests := []struct {
		name   string
		client *fakeClient
		sched  *Scheduler
		events Recorder
		cfg    ControllerConfig
	}{
		{"negative population", newFakeClient(), sched, &eventLog{}, ControllerConfig{Population: -1, RampUpPerSecond: 1}},
		{"zero ramp-up", newFakeClient(), sched, &eventLog{}, ControllerConfig{Population: 1}},
		{"inverted wait", newFakeClient(), sched, &eventLog{}, ControllerConfig{Population: 1, RampUpPerSecond: 1,
			User: UserConfig{WaitMin: 2 * time.Second, WaitMax: time.Second}}},
		{"negative duration", newFakeClient(), sched, &eventLog{}, ControllerConfig{Population: 1, RampUpPerSecond: 1, Duration: -time.Second}},
		{"unknown task", newFakeClient(), unknown, &eventLog{}, valid},
		{"missing scheduler", newFakeClient(), nil, &eventLog{}, valid},
		{"missing recorder", newFakeClient(), sched, nil, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewController(tt.client, tt.sched, tt.events, nil, tt.cfg)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, shared.IsConfigurationError(err))
		})
	}

	c, err := NewController(nil, sched, &eventLog{}, nil, valid)
	require.Error(t, err)
	assert.Nil(t, c)
}
