package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
	"github.com/instruqt/sandbox-broker/pkg/worker"
)

type fakeLoops struct {
	syncCalled     bool
	staleDeleteArg time.Duration
}

func (f *fakeLoops) RunSync(context.Context) (worker.SyncResult, error) {
	f.syncCalled = true
	return worker.SyncResult{Synced: 1}, nil
}
func (f *fakeLoops) RunCleanup(context.Context) (worker.CleanupResult, error) {
	return worker.CleanupResult{Deleted: 1}, nil
}
func (f *fakeLoops) RunAutoExpiry(context.Context) (worker.AutoExpiryResult, error) {
	return worker.AutoExpiryResult{Marked: 1}, nil
}
func (f *fakeLoops) RunStaleDeleteWithGrace(ctx context.Context, grace time.Duration) (worker.StaleDeleteResult, error) {
	f.staleDeleteArg = grace
	return worker.StaleDeleteResult{Deleted: 1}, nil
}
func (f *fakeLoops) Status() []worker.LoopStatus { return nil }

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "1", Status: types.StatusAvailable}))
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "2", Status: types.StatusAllocated}))

	svc := New(store, &fakeLoops{})
	got, err := svc.List(ctx, types.StatusAvailable, 0, "")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.Empty(t, got.NextCursor)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: id, Status: types.StatusAvailable}))
	}

	svc := New(store, &fakeLoops{})
	got, err := svc.List(ctx, types.StatusAvailable, 2, "")
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, got.Items[1].SandboxID, got.NextCursor)
}

func TestStatsTalliesDeletionFailed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "1", Status: types.StatusDeletionFailed}))
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "2", Status: types.StatusAvailable}))

	svc := New(store, &fakeLoops{})
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.DeletionFailed)
	assert.Equal(t, 1, stats.Available)
}

func TestBulkDeleteDryRunTouchesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "1", Status: types.StatusPendingDeletion}))

	svc := New(store, &fakeLoops{})
	result, err := svc.BulkDelete(ctx, types.StatusPendingDeletion, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Zero(t, result.Deleted)

	_, err = store.Get(ctx, "1")
	assert.NoError(t, err)
}

func TestBulkDeleteActuallyDeletes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "1", Status: types.StatusPendingDeletion}))

	svc := New(store, &fakeLoops{})
	result, err := svc.BulkDelete(ctx, types.StatusPendingDeletion, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = store.Get(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTriggerSyncDelegatesToLoops(t *testing.T) {
	loops := &fakeLoops{}
	svc := New(storage.NewMemStore(), loops)
	_, err := svc.TriggerSync(context.Background())
	require.NoError(t, err)
	assert.True(t, loops.syncCalled)
}

func TestTriggerStaleDeletePassesGraceOverride(t *testing.T) {
	loops := &fakeLoops{}
	svc := New(storage.NewMemStore(), loops)
	_, err := svc.TriggerStaleDelete(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, loops.staleDeleteArg)
}
