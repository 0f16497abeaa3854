package loadtest

import (
	"context"
	"time"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

// Recorder receives the event of every completed operation.
type Recorder interface {
	Record(event metric.Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(metric.Event)

// Record calls f(event).
func (f RecorderFunc) Record(event metric.Event) { f(event) }

// operation is a timed backend call. It returns the payload size to report
// on success.
type operation func(ctx context.Context) (payloadSize int, err error)

// measure runs op, timing it from start to completion or failure, and emits
// exactly one event. A failure is captured into the event instead of being
// propagated; the payload size of a failed operation is reported as 0.
func measure(ctx context.Context, rec Recorder, category metric.Category, name, userID string, op operation) error {
	start := time.Now()
	payload, err := op(ctx)
	elapsed := time.Since(start)

	if err != nil {
		payload = 0
	}

	rec.Record(metric.Event{
		Category:    category,
		Name:        name,
		Duration:    elapsed,
		PayloadSize: payload,
		Err:         err,
		UserID:      userID,
		OccurredAt:  start.Add(elapsed),
	})
	return err
}
