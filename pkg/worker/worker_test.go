package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/cspclient"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

func newTestWorker(t *testing.T, csp cspclient.Client, fake *clock.Fake) (*Worker, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	w := New(store, csp, nil, fake, Config{})
	return w, store
}

func TestRunSyncInsertsNewActiveSandboxes(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	csp := &cspclient.Fake{Active: []cspclient.ActiveSandbox{
		{SandboxID: "sb-1", ExternalID: "ext-1", Name: "sandbox-a"},
	}}
	w, store := newTestWorker(t, csp, fake)

	result, err := w.RunSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	sb, err := store.Get(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAvailable, sb.Status)
	assert.Equal(t, "ext-1", sb.ExternalID)
}

func TestRunSyncMarksMissingAsStale(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	csp := &cspclient.Fake{}
	w, store := newTestWorker(t, csp, fake)

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID:  "ext-1",
		ExternalID: "ext-1",
		Status:     types.StatusAvailable,
	}))

	result, err := w.RunSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.MarkedStale)

	sb, err := store.Get(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStale, sb.Status)
}

func TestRunCleanupDeletesAfterSuccessfulDestroy(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	csp := &cspclient.Fake{}
	w, store := newTestWorker(t, csp, fake)
	w.cfg = applyDefaults(Config{CleanupBatchSize: 2, CleanupBatchDelay: time.Millisecond})

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID:  "sb-1",
		ExternalID: "ext-1",
		Status:     types.StatusPendingDeletion,
	}))

	result, err := w.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = store.Get(context.Background(), "sb-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Contains(t, csp.Destroyed, "ext-1")
}

func TestRunCleanupRetriesBeforeMarkingDeletionFailed(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	csp := &cspclient.Fake{FailDestroy: map[string]error{"ext-1": errors.New("upstream down")}}
	w, store := newTestWorker(t, csp, fake)
	w.cfg = applyDefaults(Config{DeletionRetryMaxAttempts: 3})

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID:  "sb-1",
		ExternalID: "ext-1",
		Status:     types.StatusPendingDeletion,
	}))

	_, err := w.RunCleanup(context.Background())
	require.NoError(t, err)
	sb, err := store.Get(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingDeletion, sb.Status)
	assert.Equal(t, 1, sb.DeletionRetryCount)

	_, err = w.RunCleanup(context.Background())
	require.NoError(t, err)
	_, err = w.RunCleanup(context.Background())
	require.NoError(t, err)
	sb, err = store.Get(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeletionFailed, sb.Status)
	assert.Equal(t, 3, sb.DeletionRetryCount)
}

func TestRunAutoExpiryMarksExpiredAllocations(t *testing.T) {
	fake := clock.NewFake(time.Unix(10000, 0))
	w, store := newTestWorker(t, &cspclient.Fake{}, fake)
	w.cfg = applyDefaults(Config{GracePeriod: 0})

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID:        "sb-1",
		Status:           types.StatusAllocated,
		AllocatedTo:      "lab-1",
		AllocatedAt:      1000,
		LabDurationHours: 1,
	}))

	result, err := w.RunAutoExpiry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Marked)

	sb, err := store.Get(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingDeletion, sb.Status)
}

func TestRunAutoExpirySkipsUnexpired(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	w, store := newTestWorker(t, &cspclient.Fake{}, fake)

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID:        "sb-1",
		Status:           types.StatusAllocated,
		AllocatedTo:      "lab-1",
		AllocatedAt:      1000,
		LabDurationHours: 4,
	}))

	_, err := w.RunAutoExpiry(context.Background())
	require.NoError(t, err)

	sb, err := store.Get(context.Background(), "sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAllocated, sb.Status)
}

func TestRunStaleDeleteRemovesAfterGrace(t *testing.T) {
	fake := clock.NewFake(time.Unix(100000, 0))
	w, store := newTestWorker(t, &cspclient.Fake{}, fake)
	w.cfg = applyDefaults(Config{StaleGrace: time.Hour})

	require.NoError(t, store.Put(context.Background(), &types.Sandbox{
		SandboxID: "sb-1",
		Status:    types.StatusStale,
		UpdatedAt: 0,
	}))

	result, err := w.RunStaleDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = store.Get(context.Background(), "sb-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStatusTrackerRecordsOutcome(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	w, _ := newTestWorker(t, &cspclient.Fake{}, fake)

	w.status.record("sync", fake.Now(), nil)
	w.status.record("cleanup", fake.Now(), errors.New("boom"))

	snapshot := w.Status()
	byName := make(map[string]LoopStatus)
	for _, s := range snapshot {
		byName[s.Name] = s
	}

	assert.Equal(t, int64(1), byName["sync"].RunCount)
	assert.Equal(t, int64(0), byName["sync"].ErrorCount)
	assert.Equal(t, "boom", byName["cleanup"].LastError)
}
