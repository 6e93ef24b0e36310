package alloc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
)

func newTestEngine(t *testing.T, n int) (*Engine, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Put(ctx, &types.Sandbox{
			SandboxID: string(rune('a' + i)),
			Name:      "sandbox-" + string(rune('a'+i)),
			Status:    types.StatusAvailable,
		}))
	}
	return New(store, clock.NewFake(time.Unix(1000, 0)), 15), store
}

func TestAllocateClaimsExactlyOne(t *testing.T) {
	engine, _ := newTestEngine(t, 5)

	got, err := engine.Allocate(context.Background(), Request{AllocatedTo: "lab-1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAllocated, got.Status)
	assert.Equal(t, "lab-1", got.AllocatedTo)
}

func TestAllocatePoolExhausted(t *testing.T) {
	engine, _ := newTestEngine(t, 0)

	_, err := engine.Allocate(context.Background(), Request{AllocatedTo: "lab-1"})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAllocateIdempotentHit(t *testing.T) {
	engine, _ := newTestEngine(t, 3)
	ctx := context.Background()

	first, err := engine.Allocate(ctx, Request{AllocatedTo: "lab-1", IdempotencyKey: "req-1"})
	require.NoError(t, err)

	second, err := engine.Allocate(ctx, Request{AllocatedTo: "lab-1", IdempotencyKey: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, first.SandboxID, second.SandboxID)
}

func TestAllocateConcurrentCallersEachGetDistinctSandbox(t *testing.T) {
	engine, _ := newTestEngine(t, 20)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*types.Sandbox, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Allocate(ctx, Request{AllocatedTo: string(rune('A' + i))})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, err := range errs {
		require.NoError(t, err)
		require.NotNil(t, results[i])
		assert.False(t, seen[results[i].SandboxID], "sandbox claimed twice: %s", results[i].SandboxID)
		seen[results[i].SandboxID] = true
	}
}

func TestAllocateNamePrefixFilter(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "1", Name: "gpu-1", Status: types.StatusAvailable}))
	require.NoError(t, store.Put(ctx, &types.Sandbox{SandboxID: "2", Name: "cpu-1", Status: types.StatusAvailable}))

	engine := New(store, clock.NewFake(time.Unix(1000, 0)), 15)
	got, err := engine.Allocate(ctx, Request{AllocatedTo: "lab-1", NamePrefix: "gpu-"})
	require.NoError(t, err)
	assert.Equal(t, "gpu-1", got.Name)
}

func TestReleaseRejectsWrongOwner(t *testing.T) {
	engine, _ := newTestEngine(t, 1)
	ctx := context.Background()

	claimed, err := engine.Allocate(ctx, Request{AllocatedTo: "lab-1"})
	require.NoError(t, err)

	_, err = engine.Release(ctx, claimed.SandboxID, "lab-2")
	assert.ErrorIs(t, err, ErrNotOwner)

	released, err := engine.Release(ctx, claimed.SandboxID, "lab-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingDeletion, released.Status)
}

func TestGetRejectsNonOwner(t *testing.T) {
	engine, _ := newTestEngine(t, 1)
	ctx := context.Background()

	claimed, err := engine.Allocate(ctx, Request{AllocatedTo: "lab-1"})
	require.NoError(t, err)

	_, err = engine.Get(ctx, claimed.SandboxID, "lab-2")
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err := engine.Get(ctx, claimed.SandboxID, "lab-1")
	require.NoError(t, err)
	assert.Equal(t, claimed.SandboxID, got.SandboxID)
}
