package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id1, ts1, err := store.Append(ctx, audit.Record{EventType: "login", UserID: "u1"})
	require.NoError(t, err)
	id2, ts2, err := store.Append(ctx, audit.Record{EventType: "login", UserID: "u2"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.False(t, ts1.IsZero())
	assert.False(t, ts2.Before(ts1))
}

func TestQueryReturnsNewestFirst(t *testing.T) {
	store := NewInMemoryStore(WithClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	const n = 5
	for range n {
		_, _, err := store.Append(ctx, audit.Record{EventType: "login", UserID: "u1"})
		require.NoError(t, err)
	}

	records, err := store.Query(ctx, audit.RecordQuery{Limit: n})
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, rec := range records {
		assert.Equal(t, int64(n-i), rec.ID, "reverse insertion order")
	}
}

func TestQueryTieBreaksOnID(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewInMemoryStore(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for range 3 {
		_, _, err := store.Append(ctx, audit.Record{EventType: "login", UserID: "u1"})
		require.NoError(t, err)
	}

	records, err := store.Query(ctx, audit.RecordQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(3), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)
}

func TestQueryFiltersAreConjunctive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seed := []audit.Record{
		{EventType: "login", UserID: "u1"},
		{EventType: "login", UserID: "u2"},
		{EventType: "logout", UserID: "u1"},
	}
	for _, rec := range seed {
		_, _, err := store.Append(ctx, rec)
		require.NoError(t, err)
	}

	records, err := store.Query(ctx, audit.RecordQuery{EventType: "login", UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "login", records[0].EventType)
	assert.Equal(t, "u1", records[0].UserID)

	none, err := store.Query(ctx, audit.RecordQuery{EventType: "delete", Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFailWith(t *testing.T) {
	store := NewInMemoryStore()
	boom := errors.New("disk full")
	store.FailWith(boom)

	_, _, err := store.Append(context.Background(), audit.Record{EventType: "login", UserID: "u1"})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())

	store.FailWith(nil)
	_, _, err = store.Append(context.Background(), audit.Record{EventType: "login", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestSetAvailableStandsInForUnreachableDatabase(t *testing.T) {
	store := NewInMemoryStore()
	assert.Equal(t, "database", store.Name())
	require.NoError(t, store.Ping(context.Background()))

	store.SetAvailable(false)
	assert.False(t, store.Available())
	assert.ErrorIs(t, store.Ping(context.Background()), sentinel.ErrUnavailable)
}
