package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantor/scheduler/errors"
	schedtest "github.com/quantor/scheduler/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(schedtest.CreateTestDB(t))
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", []byte(`{"user":"u1"}`), 3, time.Minute)
	require.NoError(t, err)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "notify", got.Type)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.JSONEq(t, `{"user":"u1"}`, string(got.Payload))
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkDispatched(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)

	before := time.Now().UTC()
	j, err := store.MarkDispatched(created.ID, 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusDispatched, j.Status)
	assert.Equal(t, 1, j.AttemptCount)
	require.NotNil(t, j.DispatchedAt)
	require.NotNil(t, j.AckDeadline)
	assert.WithinDuration(t, before.Add(30*time.Second), *j.AckDeadline, 2*time.Second)
}

func TestMarkDispatchedInvalidState(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)

	_, err = store.MarkDispatched(created.ID, time.Second)
	require.NoError(t, err)

	// Already dispatched: a second dispatch must be rejected
	_, err = store.MarkDispatched(created.ID, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = store.MarkDispatched("missing", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkDispatchedFromRetrying(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)

	_, err = store.MarkDispatched(created.ID, -time.Second) // already overdue
	require.NoError(t, err)

	j, err := store.MarkRetryOrExpire(created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, j.Status)
	assert.Nil(t, j.AckDeadline)

	j, err = store.MarkDispatched(created.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, j.Status)
	assert.Equal(t, 2, j.AttemptCount)
}

func TestMarkTerminalSuccess(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(created.ID, time.Minute)
	require.NoError(t, err)

	duration := int64(420)
	j, err := store.MarkTerminal(created.ID, StatusDispatched, OutcomeSuccess, []byte(`{"sent":1}`), "", &duration)
	require.NoError(t, err)

	assert.Equal(t, StatusAcknowledged, j.Status)
	assert.Equal(t, 1, j.AttemptCount)
	assert.Nil(t, j.AckDeadline)
	assert.JSONEq(t, `{"sent":1}`, string(j.Result))
	require.NotNil(t, j.DurationMs)
	assert.Equal(t, int64(420), *j.DurationMs)
}

func TestMarkTerminalFailure(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(created.ID, time.Minute)
	require.NoError(t, err)

	j, err := store.MarkTerminal(created.ID, StatusDispatched, OutcomeFailure, nil, "worker exploded", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "worker exploded", j.Error)
	assert.Nil(t, j.AckDeadline)
}

func TestMarkTerminalConflict(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(created.ID, -time.Second)
	require.NoError(t, err)

	// Checker commits retry first
	_, err = store.MarkRetryOrExpire(created.ID)
	require.NoError(t, err)

	// Late result loses the race and observes a conflict
	_, err = store.MarkTerminal(created.ID, StatusDispatched, OutcomeSuccess, nil, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// Row keeps the checker's decision
	j, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, j.Status)
}

func TestMarkRetryOrExpireConflict(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(created.ID, -time.Second)
	require.NoError(t, err)

	// Result commits first
	_, err = store.MarkTerminal(created.ID, StatusDispatched, OutcomeSuccess, nil, "", nil)
	require.NoError(t, err)

	// Checker loses and must discard
	_, err = store.MarkRetryOrExpire(created.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	j, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, j.Status)
}

func TestMarkRetryOrExpireExhaustsAttempts(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 2, time.Minute)
	require.NoError(t, err)

	// Attempt 1: overdue, attempts remain -> retrying
	_, err = store.MarkDispatched(created.ID, -time.Second)
	require.NoError(t, err)
	j, err := store.MarkRetryOrExpire(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, j.Status)

	// Attempt 2: overdue again, attempts exhausted -> expired
	_, err = store.MarkDispatched(created.ID, -time.Second)
	require.NoError(t, err)
	j, err = store.MarkRetryOrExpire(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, j.Status)
	assert.Equal(t, 2, j.AttemptCount)

	// Terminal rows are never dispatched again
	_, err = store.MarkDispatched(created.ID, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestFindOverdue(t *testing.T) {
	store := newTestStore(t)

	overdue, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(overdue.ID, -time.Minute)
	require.NoError(t, err)

	fresh, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(fresh.ID, time.Hour)
	require.NoError(t, err)

	pending, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)

	jobs, err := store.FindOverdue(time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, overdue.ID, jobs[0].ID)
	assert.NotEqual(t, pending.ID, jobs[0].ID)
}

func TestFindUnpublished(t *testing.T) {
	store := newTestStore(t)

	stale, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)

	dispatched, err := store.Create("notify", nil, 3, time.Minute)
	require.NoError(t, err)
	_, err = store.MarkDispatched(dispatched.ID, time.Hour)
	require.NoError(t, err)

	// Cutoff in the future: the stale pending row qualifies,
	// the dispatched row never does.
	jobs, err := store.FindUnpublished(time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.ID, jobs[0].ID)

	// Cutoff in the past: nothing is stale enough yet
	jobs, err = store.FindUnpublished(time.Now().Add(-time.Minute), 100)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListRecent(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.Create("notify", nil, 3, time.Minute)
		require.NoError(t, err)
	}

	jobs, err := store.ListRecent(3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestAttemptCountNeverDecreases(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("notify", nil, 5, time.Minute)
	require.NoError(t, err)

	last := 0
	for i := 0; i < 4; i++ {
		j, err := store.MarkDispatched(created.ID, -time.Second)
		require.NoError(t, err)
		assert.Greater(t, j.AttemptCount, last)
		last = j.AttemptCount

		j, err = store.MarkRetryOrExpire(created.ID)
		require.NoError(t, err)
		assert.Equal(t, last, j.AttemptCount)
	}
}
