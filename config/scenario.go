package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

// Scenario is an optional YAML file describing a run. Only the keys that
// are present override the environment.
//
//	population: 200
//	rampUpPerSecond: 10
//	waitMin: 1s
//	waitMax: 3s
//	duration: 5m
//	taskWeights:
//	  CreateSubject: 3
//	  AddGrade: 2
//	  ListSubjects: 1
type Scenario struct {
	Population      *int           `yaml:"population"`
	RampUpPerSecond *int           `yaml:"rampUpPerSecond"`
	WaitMin         *time.Duration `yaml:"waitMin"`
	WaitMax         *time.Duration `yaml:"waitMax"`
	TaskWeights     map[string]int `yaml:"taskWeights"`
	Duration        *time.Duration `yaml:"duration"`
	Iterations      *int           `yaml:"iterations"`
	Seed            *uint64        `yaml:"seed"`

	Backend *ScenarioBackend `yaml:"backend"`
}

// ScenarioBackend overrides backend selection and emulator behaviour.
type ScenarioBackend struct {
	Kind        *string        `yaml:"kind"`
	LatencyMin  *time.Duration `yaml:"latencyMin"`
	LatencyMax  *time.Duration `yaml:"latencyMax"`
	FailureRate *float64       `yaml:"failureRate"`
}

// LoadScenario reads and decodes a scenario file. Unknown keys are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shared.ConfigurationError("scenario", fmt.Sprintf("read %s: %v", path, err))
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, shared.ConfigurationError("scenario", fmt.Sprintf("%s: %v", path, err))
	}
	return s, nil
}

// ParseScenario decodes scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &s, nil
}

// Apply overlays the scenario on cfg.
func (s *Scenario) Apply(cfg *Config) {
	l := &cfg.Load
	setIf(&l.Population, s.Population)
	setIf(&l.RampUpPerSecond, s.RampUpPerSecond)
	setIf(&l.WaitMin, s.WaitMin)
	setIf(&l.WaitMax, s.WaitMax)
	setIf(&l.Duration, s.Duration)
	setIf(&l.Iterations, s.Iterations)
	setIf(&l.Seed, s.Seed)
	if len(s.TaskWeights) > 0 {
		l.TaskWeights = s.TaskWeights
	}

	if b := s.Backend; b != nil {
		setIf(&cfg.Backend.Kind, b.Kind)
		setIf(&cfg.Backend.LatencyMin, b.LatencyMin)
		setIf(&cfg.Backend.LatencyMax, b.LatencyMax)
		setIf(&cfg.Backend.FailureRate, b.FailureRate)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
