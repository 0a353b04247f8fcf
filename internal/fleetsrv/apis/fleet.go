package apis

import (
	"net/http"
	"time"

	"github.com/pressfleet/pressfleet/internal/common/httpx"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/pkg/api"
	"github.com/pressfleet/pressfleet/pkg/types"
)

const (
	ServerVersion = "0.1.0"
	ApiVersion    = "v1"
)

// fleetHealth aggregates per-shard health into a fleet summary. The status
// is "ok" when at least one shard can take traffic, otherwise "degraded".
func (s *Services) fleetHealth(r *http.Request) (*httpx.Response, error) {
	shards, err := s.Store.ListShards(r.Context())
	if err != nil {
		return nil, err
	}
	tenants, err := s.Store.ListTenants(r.Context(), db.ListTenantsOptions{})
	if err != nil {
		return nil, err
	}

	rsp := &api.FleetHealth{
		Timestamp:   time.Now().UTC(),
		TotalShards: len(shards),
	}
	for _, shard := range shards {
		rsp.TotalCapacity += shard.Capacity
		switch shard.Health {
		case types.ShardHealthHealthy:
			rsp.HealthyShards++
		case types.ShardHealthDegraded:
			rsp.DegradedShards++
		case types.ShardHealthUnreachable:
			rsp.UnreachableShards++
		}
	}
	for _, tenant := range tenants {
		if tenant.State != types.TenantStateDestroyed {
			rsp.TotalTenants++
		}
	}
	if rsp.TotalCapacity > 0 {
		rsp.UtilizationPercent = float64(rsp.TotalTenants) / float64(rsp.TotalCapacity) * 100
	}
	rsp.Status = "degraded"
	if rsp.HealthyShards > 0 || rsp.TotalShards == 0 {
		rsp.Status = "ok"
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

func (s *Services) version(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &api.Version{
			ServerVersion: ServerVersion,
			ApiVersion:    ApiVersion,
		},
	}, nil
}
