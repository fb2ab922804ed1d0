package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stowaway/internal/store"
)

// parkOne queues a write for "a" and fails it until it is parked.
func parkOne(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t, false, WithRetryPolicy(RetryPolicy{MaxRetries: 1, Base: time.Millisecond}))
	ctx := context.Background()

	require.NoError(t, f.engine.Write(ctx, task{ID: "a", V: 1}))
	f.remote.FailNext(1, errors.New("422 unprocessable"))

	res, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, res.Parked, 1)
	return f, res.Parked[0]
}

func TestFailedEntries(t *testing.T) {
	f, id := parkOne(t)

	failed, err := f.engine.FailedEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].Entry.ID)
	assert.Equal(t, "a", failed[0].Entry.EntityID)
	assert.Equal(t, 1, failed[0].Attempt.Attempts)
	assert.Equal(t, "422 unprocessable", failed[0].Attempt.LastError)
	assert.True(t, failed[0].Attempt.Parked)
}

func TestRetryEntry(t *testing.T) {
	f, id := parkOne(t)
	ctx := context.Background()

	require.NoError(t, f.engine.RetryEntry(ctx, id))
	assert.Equal(t, 1, f.pending())
	assert.Equal(t, 1, f.engine.State().PendingCount)

	res, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Sent)
	assert.Empty(t, f.entries())
}

func TestDiscardEntry(t *testing.T) {
	f, id := parkOne(t)
	ctx := context.Background()

	require.NoError(t, f.engine.DiscardEntry(ctx, id))
	assert.Empty(t, f.entries())

	_, ok, err := f.engine.Read(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "the local record is kept")
}

func TestParkedEntryHoldsLaterWrites(t *testing.T) {
	f, id := parkOne(t)
	ctx := context.Background()
	f.signal.Set(true)

	require.NoError(t, f.engine.Write(ctx, task{ID: "a", V: 2}))
	assert.Len(t, f.entries(), 2, "write is queued behind the parked entry")
	assert.Equal(t, 0, f.pending())

	res, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Entries, "held entries are not sent ahead of the parked one")
	assert.Len(t, f.remote.SyncBatches(), 1)

	require.NoError(t, f.engine.RetryEntry(ctx, id))
	assert.Equal(t, 2, f.pending())

	res, err = f.engine.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	batches := f.remote.SyncBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, []task{{ID: "a", V: 1}, {ID: "a", V: 2}}, batches[1])
	assert.Equal(t, []task{{ID: "a", V: 2}}, f.remote.Records())
	assert.Empty(t, f.entries())
}

func TestDiscardEntry_ReleasesHeldWrites(t *testing.T) {
	f, id := parkOne(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Write(ctx, task{ID: "a", V: 2}))
	assert.Equal(t, 0, f.pending())

	require.NoError(t, f.engine.DiscardEntry(ctx, id))
	assert.Equal(t, 1, f.pending())
	assert.Equal(t, 1, f.engine.State().PendingCount)

	res, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, []task{{ID: "a", V: 2}}, f.remote.Records())
}

func TestRetryEntry_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.RetryEntry(ctx, "sync-nope-1"), store.ErrNotFound)
	assert.ErrorIs(t, f.engine.DiscardEntry(ctx, "sync-nope-1"), store.ErrNotFound)

	require.NoError(t, f.engine.Write(ctx, task{ID: "a", V: 1}))
	id := f.entries()[0].ID
	assert.ErrorIs(t, f.engine.RetryEntry(ctx, id), ErrEntryNotParked)

	f.remote.FailNext(1, errors.New("boom"))
	_, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.DiscardEntry(ctx, id), ErrEntryNotParked, "failed but not yet parked")
}
