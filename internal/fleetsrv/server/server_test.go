package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/apis"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/capacity"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/memory"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/lifecycle"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/provisioner"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/routing"
	"github.com/pressfleet/pressfleet/pkg/api"
	"github.com/pressfleet/pressfleet/pkg/types"
)

type testEnv struct {
	srv     *httptest.Server
	store   db.Store
	machine *lifecycle.Machine
	fake    *provisioner.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	fake := provisioner.NewFake()
	router := routing.NewRouter(store)
	capman := capacity.NewManager(store, fake, capacity.Config{ShardCapacity: 10})
	machine := lifecycle.NewMachine(store, fake, router, capman, lifecycle.Config{
		RetryAttempts:     3,
		RetryBaseDelay:    time.Millisecond,
		LockTTL:           time.Minute,
		JobTimeout:        10 * time.Second,
		MaxConcurrentJobs: 4,
	})

	s, err := CreateNewServer(&apis.Services{
		Store:    store,
		Machine:  machine,
		Capacity: capman,
	})
	require.NoError(t, err)
	s.MountHandlers()

	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, store: store, machine: machine, fake: fake}
}

func (e *testEnv) seedShard(t *testing.T, id string, capacity int) {
	t.Helper()
	require.Nil(t, e.store.CreateShard(context.Background(), &models.Shard{
		ShardID:    types.ShardId(id),
		ProjectRef: id,
		Region:     "us-east1",
		Capacity:   capacity,
		Health:     types.ShardHealthHealthy,
	}))
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return rsp
}

func decode[T any](t *testing.T, rsp *http.Response) T {
	t.Helper()
	defer rsp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&out))
	return out
}

func TestTenantLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.seedShard(t, "shard-1", 10)

	rsp := e.do(t, http.MethodPost, "/tenants", api.TenantCreateRequest{TenantID: "acme-blog"})
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	assert.Equal(t, "/tenants/acme-blog", rsp.Header.Get("Location"))
	created := decode[api.TenantJob](t, rsp)
	assert.Equal(t, "acme-blog", created.TenantID)
	assert.Equal(t, "shard-1", created.ShardID)
	assert.NotEmpty(t, created.JobID)

	e.machine.Wait()

	rsp = e.do(t, http.MethodGet, "/tenants/acme-blog", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	tenant := decode[api.Tenant](t, rsp)
	assert.Equal(t, string(types.TenantStateActive), tenant.State)

	rsp = e.do(t, http.MethodDelete, "/tenants/acme-blog", nil)
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	rsp.Body.Close()

	e.machine.Wait()

	rsp = e.do(t, http.MethodGet, "/tenants/acme-blog", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	tenant = decode[api.Tenant](t, rsp)
	assert.Equal(t, string(types.TenantStateDestroyed), tenant.State)
	assert.Equal(t, 1, e.fake.DestroyCount("acme-blog"))
}

func TestCreateTenantIdempotentOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.seedShard(t, "shard-1", 10)

	rsp := e.do(t, http.MethodPost, "/tenants", api.TenantCreateRequest{TenantID: "acme-blog"})
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	rsp.Body.Close()
	e.machine.Wait()

	rsp = e.do(t, http.MethodPost, "/tenants", api.TenantCreateRequest{TenantID: "acme-blog"})
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	repeat := decode[api.TenantJob](t, rsp)
	assert.Equal(t, string(types.TenantStateActive), repeat.State)

	e.machine.Wait()
	assert.Equal(t, 1, e.fake.ApplyCount("acme-blog"))
}

func TestCreateTenantValidation(t *testing.T) {
	e := newTestEnv(t)
	e.seedShard(t, "shard-1", 10)

	rsp := e.do(t, http.MethodPost, "/tenants", api.TenantCreateRequest{TenantID: "-Bad_Name-"})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	rsp.Body.Close()

	rsp = e.do(t, http.MethodPost, "/tenants", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	rsp.Body.Close()
}

func TestGetTenantNotFound(t *testing.T) {
	e := newTestEnv(t)
	rsp := e.do(t, http.MethodGet, "/tenants/missing-tenant", nil)
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	rsp.Body.Close()
}

func TestShardEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rsp := e.do(t, http.MethodPost, "/shards", api.ShardCreateRequest{
		ShardID:  "shard-ext",
		Region:   "eu-west1",
		Capacity: 25,
	})
	require.Equal(t, http.StatusCreated, rsp.StatusCode)
	shard := decode[api.Shard](t, rsp)
	assert.Equal(t, "shard-ext", shard.ShardID)
	assert.Equal(t, string(types.ShardHealthUnknown), shard.Health)

	rsp = e.do(t, http.MethodGet, "/shards", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	list := decode[api.ShardList](t, rsp)
	require.Len(t, list.Shards, 1)

	rsp = e.do(t, http.MethodGet, "/shards/shard-ext", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	rsp.Body.Close()

	// Duplicate registration conflicts.
	rsp = e.do(t, http.MethodPost, "/shards", api.ShardCreateRequest{
		ShardID:  "shard-ext",
		Region:   "eu-west1",
		Capacity: 25,
	})
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)
	rsp.Body.Close()
}

func TestShardExpansionOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	rsp := e.do(t, http.MethodPost, "/shards/expand", map[string]string{})
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	status := decode[api.ExpansionStatus](t, rsp)
	assert.Equal(t, "expansion requested", status.Status)

	// The expansion runs in the background; a shard appears once the
	// provisioner reports success.
	assert.Eventually(t, func() bool {
		shards, err := e.store.ListShards(context.Background())
		return err == nil && len(shards) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListTenantsByShardOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.seedShard(t, "shard-1", 10)

	for _, id := range []string{"tenant-a", "tenant-b"} {
		rsp := e.do(t, http.MethodPost, "/tenants", api.TenantCreateRequest{TenantID: id})
		require.Equal(t, http.StatusAccepted, rsp.StatusCode)
		rsp.Body.Close()
	}
	e.machine.Wait()

	rsp := e.do(t, http.MethodGet, "/tenants?shard_id=shard-1", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	list := decode[api.TenantList](t, rsp)
	assert.Len(t, list.Tenants, 2)
}

func TestFleetHealthAndVersion(t *testing.T) {
	e := newTestEnv(t)
	e.seedShard(t, "shard-1", 10)

	rsp := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	healthRsp := decode[api.FleetHealth](t, rsp)
	assert.Equal(t, "ok", healthRsp.Status)
	assert.Equal(t, 1, healthRsp.TotalShards)
	assert.Equal(t, 1, healthRsp.HealthyShards)
	assert.Equal(t, 10, healthRsp.TotalCapacity)

	rsp = e.do(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	version := decode[api.Version](t, rsp)
	assert.Equal(t, apis.ServerVersion, version.ServerVersion)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rsp := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	rsp.Body.Close()
}

func TestRequestIdHeader(t *testing.T) {
	e := newTestEnv(t)
	rsp := e.do(t, http.MethodGet, "/version", nil)
	defer rsp.Body.Close()
	assert.NotEmpty(t, rsp.Header.Get("X-Fleet-Request-ID"))
}
