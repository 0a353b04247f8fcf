package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pressfleet/pressfleet/internal/common/httpx"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/lifecycle"
	"github.com/pressfleet/pressfleet/pkg/api"
	"github.com/pressfleet/pressfleet/pkg/types"
)

// createTenant accepts a tenant provisioning request. The response is 202
// with the tenant's current state; provisioning continues in the background.
// Repeating the request for an existing tenant returns its current state
// without starting a second job.
func (s *Services) createTenant(r *http.Request) (*httpx.Response, error) {
	req := &api.TenantCreateRequest{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	if !types.IsValidTenantId(req.TenantID) {
		return nil, httpx.ErrInvalidTenantId()
	}

	tenant, job, err := s.Machine.Create(r.Context(), types.TenantId(req.TenantID), req.Vars)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Location:   "/tenants/" + req.TenantID,
		Response:   tenantJobRsp(tenant, job),
	}, nil
}

func (s *Services) getTenant(r *http.Request) (*httpx.Response, error) {
	tenantID := chi.URLParam(r, "tenantId")
	if !types.IsValidTenantId(tenantID) {
		return nil, httpx.ErrInvalidTenantId()
	}
	tenant, err := s.Store.GetTenant(r.Context(), types.TenantId(tenantID))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   tenantRsp(tenant),
	}, nil
}

// listTenants returns all tenants, optionally filtered by shard_id.
func (s *Services) listTenants(r *http.Request) (*httpx.Response, error) {
	opts := db.ListTenantsOptions{}
	if shardID := r.URL.Query().Get("shard_id"); shardID != "" {
		if !types.IsValidShardId(shardID) {
			return nil, httpx.ErrInvalidShardId()
		}
		opts.ShardID = types.ShardId(shardID)
	}
	tenants, err := s.Store.ListTenants(r.Context(), opts)
	if err != nil {
		return nil, err
	}
	rsp := &api.TenantList{Tenants: make([]api.Tenant, 0, len(tenants))}
	for _, t := range tenants {
		rsp.Tenants = append(rsp.Tenants, tenantRsp(t))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

// updateTenant re-applies configuration for an Active tenant.
func (s *Services) updateTenant(r *http.Request) (*httpx.Response, error) {
	tenantID := chi.URLParam(r, "tenantId")
	if !types.IsValidTenantId(tenantID) {
		return nil, httpx.ErrInvalidTenantId()
	}
	req := &api.TenantCreateRequest{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	tenant, job, err := s.Machine.Update(r.Context(), types.TenantId(tenantID), req.Vars)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Location:   "/tenants/" + tenantID,
		Response:   tenantJobRsp(tenant, job),
	}, nil
}

// deleteTenant requests teardown of the tenant's infrastructure. Idempotent:
// deleting an already-destroyed tenant returns 202 without further work.
func (s *Services) deleteTenant(r *http.Request) (*httpx.Response, error) {
	tenantID := chi.URLParam(r, "tenantId")
	if !types.IsValidTenantId(tenantID) {
		return nil, httpx.ErrInvalidTenantId()
	}
	tenant, job, err := s.Machine.Destroy(r.Context(), types.TenantId(tenantID))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Location:   "/tenants/" + tenantID,
		Response:   tenantJobRsp(tenant, job),
	}, nil
}

func tenantRsp(t *models.Tenant) api.Tenant {
	rsp := api.Tenant{
		TenantID:   string(t.TenantID),
		ShardID:    string(t.ShardID),
		State:      string(t.State),
		Generation: t.Generation,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
	if t.LastError != nil {
		rsp.LastError = &api.ProvisionError{
			Message:   t.LastError.Message,
			Retryable: t.LastError.Retryable,
			Output:    t.LastError.Output,
		}
	}
	return rsp
}

func tenantJobRsp(t *models.Tenant, job *lifecycle.Job) *api.TenantJob {
	rsp := &api.TenantJob{Tenant: tenantRsp(t)}
	if job != nil {
		rsp.JobID = job.ID.String()
	}
	return rsp
}
