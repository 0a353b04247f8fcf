package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

func newShard(id string, capacity int) *models.Shard {
	return &models.Shard{
		ShardID:    types.ShardId(id),
		ProjectRef: id,
		Region:     "us-east1",
		Capacity:   capacity,
		Health:     types.ShardHealthHealthy,
	}
}

func TestAssignTenant(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 5)))

	tenant := &models.Tenant{TenantID: "acme", ShardID: "shard-1"}
	require.Nil(t, s.AssignTenant(ctx, tenant))
	assert.Equal(t, types.TenantStatePending, tenant.State)
	assert.Equal(t, int64(1), tenant.Generation)

	shard, err := s.GetShard(ctx, "shard-1")
	require.Nil(t, err)
	assert.Equal(t, 1, shard.TenantCount)

	err = s.AssignTenant(ctx, &models.Tenant{TenantID: "acme", ShardID: "shard-1"})
	require.NotNil(t, err)
	assert.True(t, err.Is(dberror.ErrAlreadyExists))
}

func TestAssignTenantShardFull(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 2)))

	for i := 0; i < 2; i++ {
		tenant := &models.Tenant{TenantID: types.TenantId(fmt.Sprintf("tenant-%d", i)), ShardID: "shard-1"}
		require.Nil(t, s.AssignTenant(ctx, tenant))
	}

	err := s.AssignTenant(ctx, &models.Tenant{TenantID: "tenant-2", ShardID: "shard-1"})
	require.NotNil(t, err)
	assert.True(t, err.Is(dberror.ErrShardFull))

	// The failed assignment must not consume a slot.
	shard, gerr := s.GetShard(ctx, "shard-1")
	require.Nil(t, gerr)
	assert.Equal(t, 2, shard.TenantCount)
}

func TestAssignTenantConcurrentAtCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 1)))

	const writers = 16
	var wg sync.WaitGroup
	var assigned atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenant := &models.Tenant{TenantID: types.TenantId(fmt.Sprintf("tenant-%d", i)), ShardID: "shard-1"}
			if err := s.AssignTenant(ctx, tenant); err == nil {
				assigned.Add(1)
			} else {
				assert.True(t, err.Is(dberror.ErrShardFull))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), assigned.Load())
	shard, err := s.GetShard(ctx, "shard-1")
	require.Nil(t, err)
	assert.Equal(t, 1, shard.TenantCount)
}

func TestTransitionTenantCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 5)))

	tenant := &models.Tenant{TenantID: "acme", ShardID: "shard-1"}
	require.Nil(t, s.AssignTenant(ctx, tenant))

	tenant.State = types.TenantStateProvisioning
	require.Nil(t, s.TransitionTenant(ctx, tenant, 1))
	assert.Equal(t, int64(2), tenant.Generation)

	// A writer still holding generation 1 loses.
	stale := &models.Tenant{TenantID: "acme", ShardID: "shard-1", State: types.TenantStateActive}
	err := s.TransitionTenant(ctx, stale, 1)
	require.NotNil(t, err)
	assert.True(t, err.Is(dberror.ErrStaleGeneration))

	stored, gerr := s.GetTenant(ctx, "acme")
	require.Nil(t, gerr)
	assert.Equal(t, types.TenantStateProvisioning, stored.State)
	assert.Equal(t, int64(2), stored.Generation)
}

func TestTransitionToDestroyedReleasesSlot(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 1)))

	tenant := &models.Tenant{TenantID: "acme", ShardID: "shard-1"}
	require.Nil(t, s.AssignTenant(ctx, tenant))

	err := s.AssignTenant(ctx, &models.Tenant{TenantID: "other", ShardID: "shard-1"})
	require.NotNil(t, err)
	assert.True(t, err.Is(dberror.ErrShardFull))

	tenant.State = types.TenantStateDestroyed
	require.Nil(t, s.TransitionTenant(ctx, tenant, 1))

	shard, gerr := s.GetShard(ctx, "shard-1")
	require.Nil(t, gerr)
	assert.Equal(t, 0, shard.TenantCount)

	// The freed slot is usable again.
	require.Nil(t, s.AssignTenant(ctx, &models.Tenant{TenantID: "other", ShardID: "shard-1"}))
}

func TestTransitionPreservesLastError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 5)))

	tenant := &models.Tenant{TenantID: "acme", ShardID: "shard-1"}
	require.Nil(t, s.AssignTenant(ctx, tenant))

	tenant.State = types.TenantStateFailed
	tenant.LastError = &models.ProvisionError{Message: "quota exceeded", Retryable: false, Output: "Error: quota exceeded"}
	require.Nil(t, s.TransitionTenant(ctx, tenant, 1))

	stored, err := s.GetTenant(ctx, "acme")
	require.Nil(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "quota exceeded", stored.LastError.Message)
	assert.False(t, stored.LastError.Retryable)
}

func TestListTenantsByShard(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 5)))
	require.Nil(t, s.CreateShard(ctx, newShard("shard-2", 5)))
	require.Nil(t, s.AssignTenant(ctx, &models.Tenant{TenantID: "a", ShardID: "shard-1"}))
	require.Nil(t, s.AssignTenant(ctx, &models.Tenant{TenantID: "b", ShardID: "shard-2"}))
	require.Nil(t, s.AssignTenant(ctx, &models.Tenant{TenantID: "c", ShardID: "shard-2"}))

	all, err := s.ListTenants(ctx, db.ListTenantsOptions{})
	require.Nil(t, err)
	assert.Len(t, all, 3)

	onShard2, err := s.ListTenants(ctx, db.ListTenantsOptions{ShardID: "shard-2"})
	require.Nil(t, err)
	assert.Len(t, onShard2, 2)
}

func TestUpdateShardHealth(t *testing.T) {
	ctx := context.Background()
	s := New()
	shard := newShard("shard-1", 5)
	shard.Health = types.ShardHealthUnknown
	require.Nil(t, s.CreateShard(ctx, shard))

	require.Nil(t, s.UpdateShardHealth(ctx, "shard-1", types.ShardHealthHealthy, time.Now().UTC()))

	stored, err := s.GetShard(ctx, "shard-1")
	require.Nil(t, err)
	assert.Equal(t, types.ShardHealthHealthy, stored.Health)
	require.NotNil(t, stored.LastHealthCheckAt)

	uerr := s.UpdateShardHealth(ctx, "missing", types.ShardHealthHealthy, time.Now().UTC())
	require.NotNil(t, uerr)
	assert.True(t, uerr.Is(dberror.ErrNotFound))
}

func TestGetTenantReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Nil(t, s.CreateShard(ctx, newShard("shard-1", 5)))
	require.Nil(t, s.AssignTenant(ctx, &models.Tenant{TenantID: "acme", ShardID: "shard-1"}))

	first, err := s.GetTenant(ctx, "acme")
	require.Nil(t, err)
	first.State = types.TenantStateActive

	second, err := s.GetTenant(ctx, "acme")
	require.Nil(t, err)
	assert.Equal(t, types.TenantStatePending, second.State)
}
