package capacity

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/memory"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/provisioner"
	"github.com/pressfleet/pressfleet/pkg/types"
)

func seedShard(t *testing.T, store db.Store, id string, capacity, count int) {
	t.Helper()
	require.Nil(t, store.CreateShard(context.Background(), &models.Shard{
		ShardID:    types.ShardId(id),
		ProjectRef: id,
		Region:     "us-east1",
		Capacity:   capacity,
		Health:     types.ShardHealthHealthy,
	}))
	for i := 0; i < count; i++ {
		require.Nil(t, store.AssignTenant(context.Background(), &models.Tenant{
			TenantID: types.TenantId(fmt.Sprintf("%s-tenant-%d", id, i)),
			ShardID:  types.ShardId(id),
		}))
	}
}

func TestEnsureCapacityBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedShard(t, store, "shard-1", 10, 2)

	m := NewManager(store, provisioner.NewFake(), Config{UtilizationThreshold: 0.8, ShardCapacity: 10})
	require.Nil(t, m.EnsureCapacity(ctx, false))

	shards, err := store.ListShards(ctx)
	require.Nil(t, err)
	assert.Len(t, shards, 1)
}

func TestEnsureCapacityExpandsWhenSaturated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedShard(t, store, "shard-1", 10, 9)

	m := NewManager(store, provisioner.NewFake(), Config{UtilizationThreshold: 0.8, ShardCapacity: 10, ShardIdPrefix: "shard"})
	require.Nil(t, m.EnsureCapacity(ctx, false))

	shards, err := store.ListShards(ctx)
	require.Nil(t, err)
	require.Len(t, shards, 2)
	for _, s := range shards {
		if s.ShardID != "shard-1" {
			assert.Equal(t, types.ShardHealthUnknown, s.Health)
			assert.Equal(t, 10, s.Capacity)
			assert.Equal(t, 0, s.TenantCount)
		}
	}
}

func TestEnsureCapacityForceSkipsThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedShard(t, store, "shard-1", 10, 0)

	m := NewManager(store, provisioner.NewFake(), Config{UtilizationThreshold: 0.8, ShardCapacity: 10})
	require.Nil(t, m.EnsureCapacity(ctx, true))

	shards, err := store.ListShards(ctx)
	require.Nil(t, err)
	assert.Len(t, shards, 2)
}

func TestEnsureCapacityEmptyFleetExpands(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	m := NewManager(store, provisioner.NewFake(), Config{ShardCapacity: 10})
	require.Nil(t, m.EnsureCapacity(ctx, false))

	shards, err := store.ListShards(ctx)
	require.Nil(t, err)
	assert.Len(t, shards, 1)
}

// failingProvisioner reports a fatal failure for every call.
type failingProvisioner struct{}

func (failingProvisioner) Apply(ctx context.Context, id string, vars map[string]string) (*provisioner.Outcome, error) {
	return &provisioner.Outcome{Success: false, Retryable: false, Output: "Error: quota exceeded"}, nil
}

func (failingProvisioner) Destroy(ctx context.Context, id string) (*provisioner.Outcome, error) {
	return &provisioner.Outcome{Success: true}, nil
}

func TestFailedExpansionLeavesNoShardRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	m := NewManager(store, failingProvisioner{}, Config{ShardCapacity: 10})
	err := m.EnsureCapacity(ctx, true)
	require.NotNil(t, err)

	shards, lerr := store.ListShards(ctx)
	require.Nil(t, lerr)
	assert.Empty(t, shards)
}

// blockingProvisioner parks Apply until released, to hold an expansion open.
type blockingProvisioner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvisioner) Apply(ctx context.Context, id string, vars map[string]string) (*provisioner.Outcome, error) {
	close(b.started)
	<-b.release
	return &provisioner.Outcome{Success: true}, nil
}

func (b *blockingProvisioner) Destroy(ctx context.Context, id string) (*provisioner.Outcome, error) {
	return &provisioner.Outcome{Success: true}, nil
}

func TestEnsureCapacitySingleFlight(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	prov := &blockingProvisioner{started: make(chan struct{}), release: make(chan struct{})}

	m := NewManager(store, prov, Config{ShardCapacity: 10})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.Nil(t, m.EnsureCapacity(ctx, true))
	}()

	<-prov.started
	err := m.EnsureCapacity(ctx, true)
	require.NotNil(t, err)
	assert.True(t, err.Is(ErrExpansionInProgress))

	close(prov.release)
	wg.Wait()

	shards, lerr := store.ListShards(ctx)
	require.Nil(t, lerr)
	assert.Len(t, shards, 1)
}
