package metric

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSONFlattensError(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := Event{
		Category:    CategoryStore,
		Name:        NameAddGrade,
		Duration:    1500 * time.Microsecond,
		PayloadSize: 120,
		Err:         errors.New("deadline exceeded"),
		UserID:      "u-1",
		OccurredAt:  at,
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "STORE", decoded["category"])
	assert.Equal(t, "AddGrade", decoded["name"])
	assert.EqualValues(t, 1, decoded["duration_ms"])
	assert.Equal(t, "deadline exceeded", decoded["error"])
	assert.True(t, ev.Failed())
}

func TestEvent_DurationMillisNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), Event{Duration: -time.Second}.DurationMillis())
	assert.Equal(t, int64(2000), Event{Duration: 2 * time.Second}.DurationMillis())
}
