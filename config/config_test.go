package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Load.Population)
	assert.Equal(t, 1, cfg.Load.RampUpPerSecond)
	assert.Equal(t, time.Second, cfg.Load.WaitMin)
	assert.Equal(t, 3*time.Second, cfg.Load.WaitMax)
	assert.Equal(t, DefaultTaskWeights(), cfg.Load.TaskWeights)
	assert.Equal(t, BackendMemory, cfg.Backend.Kind)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LOADGEN_USERS", "250")
	t.Setenv("LOADGEN_SPAWN_RATE", "25")
	t.Setenv("LOADGEN_WAIT_MIN", "500ms")
	t.Setenv("LOADGEN_WAIT_MAX", "2s")
	t.Setenv("LOADGEN_TASK_WEIGHTS", "CreateSubject=5, AddGrade=0,ListSubjects=1")
	t.Setenv("LOADGEN_SEED", "42")
	t.Setenv("BACKEND_KIND", "Redis")
	t.Setenv("BACKEND_FAILURE_RATE", "0.1")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Load.Population)
	assert.Equal(t, 25, cfg.Load.RampUpPerSecond)
	assert.Equal(t, 500*time.Millisecond, cfg.Load.WaitMin)
	assert.Equal(t, map[string]int{"CreateSubject": 5, "AddGrade": 0, "ListSubjects": 1}, cfg.Load.TaskWeights)
	assert.Equal(t, uint64(42), cfg.Load.Seed)
	assert.Equal(t, BackendRedis, cfg.Backend.Kind)
	assert.InDelta(t, 0.1, cfg.Backend.FailureRate, 1e-9)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://broker:1883", cfg.Reporting.MQTTBroker)
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("BACKEND_KIND", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "loadgen")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://loadgen:secret@db:5432/postgres?sslmode=disable", cfg.Database.URL)
}

func TestLoad_MalformedWeights(t *testing.T) {
	t.Setenv("LOADGEN_TASK_WEIGHTS", "CreateSubject:3")
	_, err := Load()
	assert.True(t, shared.IsConfigurationError(err))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"wait max below min", func(c *Config) { c.Load.WaitMin, c.Load.WaitMax = 3*time.Second, time.Second }, "Load.WaitMax must be >= WaitMin"},
		{"negative population", func(c *Config) { c.Load.Population = -1 }, "Load.Population"},
		{"zero ramp", func(c *Config) { c.Load.RampUpPerSecond = 0 }, "Load.RampUpPerSecond"},
		{"all zero weights", func(c *Config) { c.Load.TaskWeights = map[string]int{"CreateSubject": 0} }, "at least one positive weight"},
		{"negative weight", func(c *Config) { c.Load.TaskWeights = map[string]int{"CreateSubject": -1} }, "TaskWeights"},
		{"no weights", func(c *Config) { c.Load.TaskWeights = nil }, "Load.TaskWeights is required"},
		{"unknown backend", func(c *Config) { c.Backend.Kind = "firestore" }, "Backend.Kind must be one of"},
		{"failure rate above one", func(c *Config) { c.Backend.FailureRate = 1.5 }, "Backend.FailureRate"},
		{"postgres without url", func(c *Config) { c.Backend.Kind = BackendPostgres; c.Database.URL = "" }, "DATABASE_URL is required"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, "Observability.LogLevel"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP.Port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, shared.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights("A=1,,B=2 ")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 1, "B": 2}, w)

	for _, bad := range []string{"", "A", "=3", "A=x"} {
		_, err := ParseWeights(bad)
		assert.Error(t, err, bad)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCENARIO
// ══════════════════════════════════════════════════════════════════════════════

func TestScenario_Apply(t *testing.T) {
	s, err := ParseScenario([]byte(`
population: 200
rampUpPerSecond: 10
waitMin: 250ms
waitMax: 1s
duration: 5m
taskWeights:
  CreateSubject: 1
  ListSubjects: 4
backend:
  kind: memory
  failureRate: 0.05
`))
	require.NoError(t, err)

	cfg, err := FromEnv()
	require.NoError(t, err)
	s.Apply(cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 200, cfg.Load.Population)
	assert.Equal(t, 10, cfg.Load.RampUpPerSecond)
	assert.Equal(t, 250*time.Millisecond, cfg.Load.WaitMin)
	assert.Equal(t, time.Second, cfg.Load.WaitMax)
	assert.Equal(t, 5*time.Minute, cfg.Load.Duration)
	assert.Equal(t, map[string]int{"CreateSubject": 1, "ListSubjects": 4}, cfg.Load.TaskWeights)
	assert.InDelta(t, 0.05, cfg.Backend.FailureRate, 1e-9)
	assert.Zero(t, cfg.Load.Iterations)
}

func TestScenario_ZeroWaitIsKept(t *testing.T) {
	s, err := ParseScenario([]byte("waitMin: 0s\nwaitMax: 0s\n"))
	require.NoError(t, err)

	cfg, err := FromEnv()
	require.NoError(t, err)
	s.Apply(cfg)
	require.NoError(t, cfg.Validate())

	assert.Zero(t, cfg.Load.WaitMin)
	assert.Zero(t, cfg.Load.WaitMax)
}

func TestScenario_EmptyKeepsEnvironment(t *testing.T) {
	s, err := ParseScenario(nil)
	require.NoError(t, err)

	cfg, err := FromEnv()
	require.NoError(t, err)
	before := cfg.Load
	s.Apply(cfg)
	assert.Equal(t, before, cfg.Load)
}

func TestScenario_UnknownKey(t *testing.T) {
	_, err := ParseScenario([]byte("users: 10\n"))
	assert.Error(t, err)
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("population: 3\n"), 0o600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	require.NotNil(t, s.Population)
	assert.Equal(t, 3, *s.Population)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, shared.IsConfigurationError(err))
}
