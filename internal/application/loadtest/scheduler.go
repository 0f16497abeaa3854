package loadtest

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

// TaskID names a task a virtual user can run.
type TaskID string

const (
	TaskCreateSubject TaskID = "CreateSubject"
	TaskAddGrade      TaskID = "AddGrade"
	TaskListSubjects  TaskID = "ListSubjects"
)

// WeightedTask pairs a task with its relative frequency.
type WeightedTask struct {
	Task   TaskID
	Weight int
}

// DefaultWeights is the 3:2:1 mix of create, grade and list.
func DefaultWeights() []WeightedTask {
	return []WeightedTask{
		{Task: TaskCreateSubject, Weight: 3},
		{Task: TaskAddGrade, Weight: 2},
		{Task: TaskListSubjects, Weight: 1},
	}
}

// WeightsFromMap converts a task→weight mapping into a deterministic,
// name-ordered task list.
func WeightsFromMap(m map[string]int) []WeightedTask {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WeightedTask, 0, len(names))
	for _, name := range names {
		out = append(out, WeightedTask{Task: TaskID(name), Weight: m[name]})
	}
	return out
}

// Scheduler picks the next task for a virtual user by categorical sampling
// with replacement: each call is independent and returns a task with
// probability weight/sum(weights).
//
// A Scheduler is immutable after construction and safe for concurrent use.
type Scheduler struct {
	tasks      []TaskID
	cumulative []int
	total      int
}

// NewScheduler validates tasks and builds a scheduler. An empty list,
// a negative weight, a duplicate task or an all-zero weight vector is a
// configuration error.
func NewScheduler(tasks []WeightedTask) (*Scheduler, error) {
	if len(tasks) == 0 {
		return nil, shared.ConfigurationError("scheduler", "no tasks configured")
	}

	s := &Scheduler{}
	seen := make(map[TaskID]struct{}, len(tasks))
	for _, wt := range tasks {
		if wt.Task == "" {
			return nil, shared.ConfigurationError("scheduler", "task id cannot be empty")
		}
		if wt.Weight < 0 {
			return nil, shared.ConfigurationError("scheduler",
				fmt.Sprintf("task %s has negative weight %d", wt.Task, wt.Weight))
		}
		if _, dup := seen[wt.Task]; dup {
			return nil, shared.ConfigurationError("scheduler",
				fmt.Sprintf("task %s configured twice", wt.Task))
		}
		seen[wt.Task] = struct{}{}

		if wt.Weight == 0 {
			continue
		}
		s.total += wt.Weight
		s.tasks = append(s.tasks, wt.Task)
		s.cumulative = append(s.cumulative, s.total)
	}

	if s.total == 0 {
		return nil, shared.ConfigurationError("scheduler", "all task weights are zero")
	}
	return s, nil
}

// SelectNext picks a task using the process-wide random source.
func (s *Scheduler) SelectNext() TaskID {
	return s.pick(rand.IntN(s.total))
}

// SelectWith picks a task using the caller's random source. A *rand.Rand is
// not safe for concurrent use, so each virtual user passes its own.
func (s *Scheduler) SelectWith(rng *rand.Rand) TaskID {
	if rng == nil {
		return s.SelectNext()
	}
	return s.pick(rng.IntN(s.total))
}

// Tasks returns the selectable tasks in configuration order.
func (s *Scheduler) Tasks() []TaskID {
	out := make([]TaskID, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Probability returns the selection probability of task.
func (s *Scheduler) Probability(task TaskID) float64 {
	prev := 0
	for i, t := range s.tasks {
		if t == task {
			return float64(s.cumulative[i]-prev) / float64(s.total)
		}
		prev = s.cumulative[i]
	}
	return 0
}

// pick maps r in [0,total) onto the cumulative weight table.
func (s *Scheduler) pick(r int) TaskID {
	i := sort.SearchInts(s.cumulative, r+1)
	return s.tasks[i]
}
