// Package metric defines the record emitted for every completed operation
// of a virtual user.
package metric

import (
	"encoding/json"
	"time"
)

// Category groups operations by the backend capability they exercise.
type Category string

const (
	// CategoryAuth covers account registration.
	CategoryAuth Category = "AUTH"
	// CategoryStore covers document writes and reads.
	CategoryStore Category = "STORE"
)

// Operation names emitted by the load engine.
const (
	NameCreateUser    = "CreateUser"
	NameCreateSubject = "CreateSubject"
	NameAddGrade      = "AddGrade"
	NameListSubjects  = "ListSubjects"
)

// Event describes one completed operation, successful or not.
// Events are values; once built they are never mutated.
type Event struct {
	Category    Category
	Name        string
	Duration    time.Duration
	PayloadSize int
	Err         error
	UserID      string
	OccurredAt  time.Time
}

// Failed reports whether the operation ended with an error.
func (e Event) Failed() bool {
	return e.Err != nil
}

// DurationMillis returns the duration in whole milliseconds.
func (e Event) DurationMillis() int64 {
	if e.Duration < 0 {
		return 0
	}
	return e.Duration.Milliseconds()
}

// wireEvent is the serialized shape shared by the external reporters.
type wireEvent struct {
	Category       Category  `json:"category"`
	Name           string    `json:"name"`
	DurationMillis int64     `json:"duration_ms"`
	PayloadSize    int       `json:"payload_size"`
	Error          string    `json:"error,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// MarshalJSON renders the event with the error flattened to its message.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Category:       e.Category,
		Name:           e.Name,
		DurationMillis: e.DurationMillis(),
		PayloadSize:    e.PayloadSize,
		UserID:         e.UserID,
		OccurredAt:     e.OccurredAt.UTC(),
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}
