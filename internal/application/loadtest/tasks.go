package loadtest

import (
	"context"
	"fmt"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/internal/domain/study"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// KnownTasks lists every task a virtual user can execute.
var KnownTasks = []TaskID{TaskCreateSubject, TaskAddGrade, TaskListSubjects}

// ValidateTasks fails with a configuration error when the scheduler can
// select a task no virtual user knows how to run.
func ValidateTasks(s *Scheduler) error {
	for _, task := range s.Tasks() {
		if !isKnownTask(task) {
			return shared.ConfigurationError("scheduler", fmt.Sprintf("unknown task %q", task))
		}
	}
	return nil
}

func isKnownTask(task TaskID) bool {
	for _, known := range KnownTasks {
		if task == known {
			return true
		}
	}
	return false
}

// runTask executes task inside the task boundary. Errors have already been
// turned into failed events by measure and are only logged here.
func (u *VirtualUser) runTask(ctx context.Context, task TaskID) {
	taskCtx, cancel := u.taskContext(ctx)
	defer cancel()

	var err error
	switch task {
	case TaskCreateSubject:
		err = u.createSubject(taskCtx)
	case TaskAddGrade:
		err = u.addGrade(taskCtx)
	case TaskListSubjects:
		err = u.listSubjects(taskCtx)
	default:
		u.logger.Error("unknown task selected", logger.TaskName(string(task)))
		return
	}

	if err != nil {
		u.logger.Debug("task failed", logger.TaskName(string(task)), logger.Err(err))
	}
}

// createSubject writes a new subject and remembers its id on success.
func (u *VirtualUser) createSubject(ctx context.Context) error {
	userID := u.Identity().UserID
	fields := u.gen.Subject().Fields()

	var subjectID string
	err := measure(ctx, u.recorder, metric.CategoryStore, metric.NameCreateSubject, userID,
		func(ctx context.Context) (int, error) {
			var err error
			subjectID, err = u.client.AddDocument(ctx, backend.SubjectsPath(userID), fields)
			return study.PayloadSize(fields), err
		})
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.subjectIDs = append(u.subjectIDs, subjectID)
	u.mu.Unlock()
	return nil
}

// addGrade attaches a grade to a random existing subject. Without subjects
// it creates one instead, so the iteration emits a single CreateSubject event.
func (u *VirtualUser) addGrade(ctx context.Context) error {
	u.mu.RLock()
	n := len(u.subjectIDs)
	var subjectID string
	if n > 0 {
		subjectID = u.subjectIDs[u.rng.IntN(n)]
	}
	u.mu.RUnlock()

	if n == 0 {
		return u.createSubject(ctx)
	}

	userID := u.Identity().UserID
	fields := u.gen.Grade().Fields()
	return measure(ctx, u.recorder, metric.CategoryStore, metric.NameAddGrade, userID,
		func(ctx context.Context) (int, error) {
			_, err := u.client.AddDocument(ctx, backend.GradesPath(userID, subjectID), fields)
			return study.PayloadSize(fields), err
		})
}

// listSubjects reads back every subject of the user and reports an
// estimated payload of ListPayloadPerItem bytes per document.
func (u *VirtualUser) listSubjects(ctx context.Context) error {
	userID := u.Identity().UserID
	return measure(ctx, u.recorder, metric.CategoryStore, metric.NameListSubjects, userID,
		func(ctx context.Context) (int, error) {
			count, err := backend.Count(u.client.ListDocuments(ctx, backend.SubjectsPath(userID)))
			return count * ListPayloadPerItem, err
		})
}
