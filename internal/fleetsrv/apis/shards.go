package apis

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/httpx"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/capacity"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/api"
	"github.com/pressfleet/pressfleet/pkg/types"
)

// createShard registers an externally provisioned shard in the registry.
// Shards created this way start with health Unknown and become routable
// after their first successful probe. Automatic expansion goes through the
// capacity manager instead.
func (s *Services) createShard(r *http.Request) (*httpx.Response, error) {
	req := &api.ShardCreateRequest{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	if !types.IsValidShardId(req.ShardID) {
		return nil, httpx.ErrInvalidShardId()
	}

	shard := &models.Shard{
		ShardID:    types.ShardId(req.ShardID),
		ProjectRef: req.ProjectRef,
		Region:     req.Region,
		Capacity:   req.Capacity,
		Health:     types.ShardHealthUnknown,
	}
	if shard.ProjectRef == "" {
		shard.ProjectRef = req.ShardID
	}
	if err := s.Store.CreateShard(r.Context(), shard); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/shards/" + string(shard.ShardID),
		Response:   shardRsp(shard),
	}, nil
}

func (s *Services) getShard(r *http.Request) (*httpx.Response, error) {
	shardID := chi.URLParam(r, "shardId")
	if !types.IsValidShardId(shardID) {
		return nil, httpx.ErrInvalidShardId()
	}
	shard, err := s.Store.GetShard(r.Context(), types.ShardId(shardID))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   shardRsp(shard),
	}, nil
}

func (s *Services) listShards(r *http.Request) (*httpx.Response, error) {
	shards, err := s.Store.ListShards(r.Context())
	if err != nil {
		return nil, err
	}
	rsp := &api.ShardList{Shards: make([]api.Shard, 0, len(shards))}
	for _, shard := range shards {
		rsp.Shards = append(rsp.Shards, shardRsp(shard))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   rsp,
	}, nil
}

// expandFleet requests a shard expansion regardless of current utilization.
// The expansion runs in the background; the capacity manager's single-flight
// guard makes a duplicate trigger a no-op.
func (s *Services) expandFleet(r *http.Request) (*httpx.Response, error) {
	logger := log.Ctx(r.Context()).With().Str("trigger", "api").Logger()
	go func() {
		ctx := logger.WithContext(context.Background())
		if err := s.Capacity.EnsureCapacity(ctx, true); err != nil && !err.Is(capacity.ErrExpansionInProgress) {
			logger.Error().Err(err).Msg("requested shard expansion failed")
		}
	}()
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Location:   "/shards",
		Response:   api.ExpansionStatus{Status: "expansion requested"},
	}, nil
}

func shardRsp(s *models.Shard) api.Shard {
	return api.Shard{
		ShardID:            string(s.ShardID),
		ProjectRef:         s.ProjectRef,
		Region:             s.Region,
		Capacity:           s.Capacity,
		TenantCount:        s.TenantCount,
		Health:             string(s.Health),
		UtilizationPercent: s.Utilization() * 100,
		LastHealthCheckAt:  s.LastHealthCheckAt,
	}
}
