// Package apis implements the fleet control plane HTTP surface: tenant
// lifecycle, shard registry and fleet health.
package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pressfleet/pressfleet/internal/common/httpx"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/capacity"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/lifecycle"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Services bundles the components the handlers operate on.
type Services struct {
	Store    db.Store
	Machine  *lifecycle.Machine
	Capacity *capacity.Manager
}

func (s *Services) handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{
			Method:  http.MethodPost,
			Path:    "/tenants",
			Handler: s.createTenant,
		},
		{
			Method:  http.MethodGet,
			Path:    "/tenants",
			Handler: s.listTenants,
		},
		{
			Method:  http.MethodGet,
			Path:    "/tenants/{tenantId}",
			Handler: s.getTenant,
		},
		{
			Method:  http.MethodPut,
			Path:    "/tenants/{tenantId}",
			Handler: s.updateTenant,
		},
		{
			Method:  http.MethodDelete,
			Path:    "/tenants/{tenantId}",
			Handler: s.deleteTenant,
		},
		{
			Method:  http.MethodPost,
			Path:    "/shards",
			Handler: s.createShard,
		},
		{
			Method:  http.MethodGet,
			Path:    "/shards",
			Handler: s.listShards,
		},
		{
			Method:  http.MethodPost,
			Path:    "/shards/expand",
			Handler: s.expandFleet,
		},
		{
			Method:  http.MethodGet,
			Path:    "/shards/{shardId}",
			Handler: s.getShard,
		},
		{
			Method:  http.MethodGet,
			Path:    "/health",
			Handler: s.fleetHealth,
		},
		{
			Method:  http.MethodGet,
			Path:    "/version",
			Handler: s.version,
		},
	}
}

func Router(r chi.Router, s *Services) {
	for _, handler := range s.handlers() {
		r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
	}
}
