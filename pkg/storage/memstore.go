package storage

import (
	"context"
	"sync"

	"github.com/instruqt/sandbox-broker/pkg/types"
)

// MemStore is an in-memory Store with the same conditional-write semantics
// as DynamoStore, for unit tests that shouldn't need a live table.
type MemStore struct {
	mu   sync.Mutex
	data map[string]*types.Sandbox
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*types.Sandbox)}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) Get(_ context.Context, sandboxID string) (*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.data[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	return sb.Clone(), nil
}

func (m *MemStore) Put(_ context.Context, sandbox *types.Sandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sandbox.SandboxID] = sandbox.Clone()
	return nil
}

func (m *MemStore) Delete(_ context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sandboxID)
	return nil
}

func (m *MemStore) AtomicClaim(_ context.Context, sandboxID string, claim Claim) (*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.data[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	if sb.Status != types.StatusAvailable {
		return nil, ErrConflict
	}

	sb.Status = types.StatusAllocated
	sb.AllocatedTo = claim.AllocatedTo
	sb.TrackName = claim.TrackName
	sb.AllocatedAt = claim.Now
	sb.LabDurationHours = claim.LabDurationHours
	sb.UpdatedAt = claim.Now
	if claim.IdempotencyKey != "" {
		sb.IdempotencyKey = claim.IdempotencyKey
	}
	return sb.Clone(), nil
}

func (m *MemStore) AtomicRelease(_ context.Context, sandboxID string, allocatedTo string, now int64) (*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.data[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	if sb.Status != types.StatusAllocated || sb.AllocatedTo != allocatedTo {
		return nil, ErrConflict
	}
	if sb.AllocatedAt <= now-int64(sb.MaxHold().Seconds()) {
		return nil, ErrExpired
	}

	sb.Status = types.StatusPendingDeletion
	sb.DeletionRequestedAt = now
	sb.UpdatedAt = now
	return sb.Clone(), nil
}

func (m *MemStore) AtomicExpire(_ context.Context, sandboxID string, expectedAllocatedAt int64, now int64) (*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.data[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	if sb.Status != types.StatusAllocated || sb.AllocatedAt != expectedAllocatedAt {
		return nil, ErrConflict
	}

	sb.Status = types.StatusPendingDeletion
	sb.DeletionRequestedAt = now
	sb.UpdatedAt = now
	return sb.Clone(), nil
}

func (m *MemStore) QueryByStatus(_ context.Context, status types.Status, limit int) ([]*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Sandbox
	for _, sb := range m.data {
		if sb.Status == status {
			out = append(out, sb.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) QueryByOwner(_ context.Context, allocatedToSandboxID string) (*types.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sb := range m.data {
		if sb.AllocatedTo == allocatedToSandboxID {
			return sb.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) QueryByIdempotencyKey(_ context.Context, key string) (*types.Sandbox, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sb := range m.data {
		if sb.IdempotencyKey == key {
			return sb.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) Scan(_ context.Context, fn func(*types.Sandbox) bool) error {
	m.mu.Lock()
	snapshot := make([]*types.Sandbox, 0, len(m.data))
	for _, sb := range m.data {
		snapshot = append(snapshot, sb.Clone())
	}
	m.mu.Unlock()

	for _, sb := range snapshot {
		if !fn(sb) {
			break
		}
	}
	return nil
}
