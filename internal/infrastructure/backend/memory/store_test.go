package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

func TestStore_CreateAccount(t *testing.T) {
	s := New()
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "alice@studyup.test", "Password123!", true)
	require.NoError(t, err)
	assert.NotEmpty(t, acc.UserID)
	assert.Equal(t, 1, s.Accounts())
	assert.True(t, s.VerifyPassword("alice@studyup.test", "Password123!"))
	assert.False(t, s.VerifyPassword("alice@studyup.test", "nope-nope"))

	_, err = s.CreateAccount(ctx, "alice@studyup.test", "Password123!", true)
	assert.ErrorIs(t, err, shared.ErrAccountCreation)

	_, err = s.CreateAccount(ctx, "broken", "Password123!", true)
	assert.ErrorIs(t, err, shared.ErrAccountCreation)

	_, err = s.CreateAccount(ctx, "bob@studyup.test", "123", true)
	assert.ErrorIs(t, err, shared.ErrAccountCreation)
}

func TestStore_AddAndListDocuments(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	path := backend.SubjectsPath("uid-1")

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.AddDocument(ctx, path, map[string]any{"n": i, "date": backend.ServerTimestamp})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var listed []string
	for doc, err := range s.ListDocuments(ctx, path) {
		require.NoError(t, err)
		listed = append(listed, doc.ID)
		assert.Equal(t, fixed, doc.Fields["date"])
	}
	assert.Equal(t, ids, listed)

	n, err := backend.Count(s.ListDocuments(ctx, backend.SubjectsPath("someone-else")))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_DoesNotAliasCallerFields(t *testing.T) {
	s := New()
	fields := map[string]any{"name": "Cálculo"}
	_, err := s.AddDocument(context.Background(), backend.SubjectsPath("u"), fields)
	require.NoError(t, err)

	fields["name"] = "changed"
	for doc, err := range s.ListDocuments(context.Background(), backend.SubjectsPath("u")) {
		require.NoError(t, err)
		assert.Equal(t, "Cálculo", doc.Fields["name"])
	}
}

func TestStore_RejectsInvalidPath(t *testing.T) {
	s := New()
	_, err := s.AddDocument(context.Background(), backend.CollectionPath{"users", "u"}, nil)
	assert.ErrorIs(t, err, shared.ErrWrite)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = backend.Count(s.ListDocuments(context.Background(), backend.CollectionPath{}))
	assert.ErrorIs(t, err, shared.ErrRead)
}

func TestStore_FailureInjection(t *testing.T) {
	s := New(WithFailureRate(1), WithSeed(1))
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "a@studyup.test", "Password123!", true)
	assert.ErrorIs(t, err, shared.ErrAccountCreation)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)

	_, err = s.AddDocument(ctx, backend.SubjectsPath("u"), map[string]any{})
	assert.ErrorIs(t, err, shared.ErrWrite)

	_, err = backend.Count(s.ListDocuments(ctx, backend.SubjectsPath("u")))
	assert.ErrorIs(t, err, shared.ErrRead)
}

func TestStore_LatencyHonoursContext(t *testing.T) {
	s := New(WithLatency(time.Second, time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.AddDocument(ctx, backend.SubjectsPath("u"), map[string]any{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := backend.SubjectsPath("shared")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := s.AddDocument(ctx, path, map[string]any{"j": j})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, s.Documents(path))
}
