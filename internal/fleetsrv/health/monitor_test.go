package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/memory"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

func newTestFixture(t *testing.T) (db.Store, *httptest.Server, *atomic.Bool) {
	t.Helper()
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store := memory.New()
	require.Nil(t, store.CreateShard(context.Background(), &models.Shard{
		ShardID:    "shard-1",
		ProjectRef: "shard-1",
		Region:     "us-east1",
		Capacity:   10,
		Health:     types.ShardHealthUnknown,
	}))
	return store, srv, &failing
}

func shardHealth(t *testing.T, store db.Store) types.ShardHealth {
	t.Helper()
	shard, err := store.GetShard(context.Background(), "shard-1")
	require.Nil(t, err)
	return shard.Health
}

func TestMonitorPromotesNewShardOnFirstSuccess(t *testing.T) {
	ctx := context.Background()
	store, srv, _ := newTestFixture(t)

	m := NewMonitor(store, Config{
		ProbeTimeout:      time.Second,
		FailureThreshold:  2,
		RecoveryThreshold: 2,
		EndpointTemplate:  srv.URL + "/healthz?shard={shard_id}",
	})

	// A shard that has never been Healthy is routable after one good
	// probe; the recovery threshold applies only after degradation.
	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthHealthy, shardHealth(t, store))
}

func TestMonitorHysteresisOnFailures(t *testing.T) {
	ctx := context.Background()
	store, srv, failing := newTestFixture(t)

	m := NewMonitor(store, Config{
		ProbeTimeout:      time.Second,
		FailureThreshold:  2,
		RecoveryThreshold: 2,
		EndpointTemplate:  srv.URL + "/healthz?shard={shard_id}",
	})

	m.Sweep(ctx)
	m.Sweep(ctx)
	require.Equal(t, types.ShardHealthHealthy, shardHealth(t, store))

	failing.Store(true)

	// A single failed probe must not change routing status.
	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthHealthy, shardHealth(t, store))

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthDegraded, shardHealth(t, store))

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthDegraded, shardHealth(t, store))

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthUnreachable, shardHealth(t, store))
}

func TestMonitorRecoversFromUnreachable(t *testing.T) {
	ctx := context.Background()
	store, srv, failing := newTestFixture(t)

	m := NewMonitor(store, Config{
		ProbeTimeout:      time.Second,
		FailureThreshold:  1,
		RecoveryThreshold: 2,
		EndpointTemplate:  srv.URL + "/healthz?shard={shard_id}",
	})

	failing.Store(true)
	m.Sweep(ctx)
	m.Sweep(ctx)
	require.Equal(t, types.ShardHealthUnreachable, shardHealth(t, store))

	failing.Store(false)

	// One good probe is not enough to restore routing.
	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthUnreachable, shardHealth(t, store))

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthHealthy, shardHealth(t, store))
}

func TestMonitorUnreachableEndpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.Nil(t, store.CreateShard(ctx, &models.Shard{
		ShardID:    "shard-1",
		ProjectRef: "shard-1",
		Region:     "us-east1",
		Capacity:   10,
		Health:     types.ShardHealthHealthy,
	}))

	m := NewMonitor(store, Config{
		ProbeTimeout:      100 * time.Millisecond,
		FailureThreshold:  1,
		RecoveryThreshold: 1,
		EndpointTemplate:  "http://127.0.0.1:1/healthz?shard={shard_id}",
	})

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthDegraded, shardHealth(t, store))

	m.Sweep(ctx)
	assert.Equal(t, types.ShardHealthUnreachable, shardHealth(t, store))
}

func TestMonitorRecordsProbeTime(t *testing.T) {
	ctx := context.Background()
	store, srv, _ := newTestFixture(t)

	m := NewMonitor(store, Config{
		ProbeTimeout:     time.Second,
		EndpointTemplate: srv.URL + "/healthz?shard={shard_id}",
	})
	m.Sweep(ctx)

	shard, err := store.GetShard(ctx, "shard-1")
	require.Nil(t, err)
	require.NotNil(t, shard.LastHealthCheckAt)
	assert.WithinDuration(t, time.Now().UTC(), *shard.LastHealthCheckAt, time.Minute)
}
