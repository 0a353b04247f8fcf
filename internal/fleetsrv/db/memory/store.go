// Package memory provides an in-memory Store implementation with the same
// concurrency semantics as the postgresql backend: slot reservation and
// generation CAS are atomic. Used for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

type store struct {
	mu      sync.Mutex
	tenants map[types.TenantId]*models.Tenant
	shards  map[types.ShardId]*models.Shard
}

func New() db.Store {
	return &store{
		tenants: make(map[types.TenantId]*models.Tenant),
		shards:  make(map[types.ShardId]*models.Shard),
	}
}

func (s *store) AssignTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.TenantID == "" || tenant.ShardID == "" {
		return dberror.ErrInvalidInput
	}
	if _, ok := s.tenants[tenant.TenantID]; ok {
		return dberror.ErrAlreadyExists.New("tenant already exists")
	}
	shard, ok := s.shards[tenant.ShardID]
	if !ok {
		return dberror.ErrNotFound.New("shard not found")
	}
	if shard.TenantCount >= shard.Capacity {
		return dberror.ErrShardFull
	}
	shard.TenantCount++

	now := time.Now().UTC()
	tenant.State = types.TenantStatePending
	tenant.Generation = 1
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	s.tenants[tenant.TenantID] = copyTenant(tenant)
	return nil
}

func (s *store) GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, dberror.ErrNotFound.New("tenant not found")
	}
	return copyTenant(t), nil
}

func (s *store) ListTenants(ctx context.Context, opts db.ListTenantsOptions) ([]*models.Tenant, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if opts.ShardID != "" && t.ShardID != opts.ShardID {
			continue
		}
		tenants = append(tenants, copyTenant(t))
	}
	return tenants, nil
}

func (s *store) TransitionTenant(ctx context.Context, tenant *models.Tenant, expectedGeneration int64) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tenants[tenant.TenantID]
	if !ok {
		return dberror.ErrNotFound.New("tenant not found")
	}
	if stored.Generation != expectedGeneration {
		return dberror.ErrStaleGeneration
	}

	releaseSlot := tenant.State == types.TenantStateDestroyed && stored.State != types.TenantStateDestroyed

	stored.State = tenant.State
	stored.LastError = tenant.LastError
	stored.Generation = expectedGeneration + 1
	stored.UpdatedAt = time.Now().UTC()
	tenant.Generation = stored.Generation
	tenant.UpdatedAt = stored.UpdatedAt

	if releaseSlot {
		if shard, ok := s.shards[stored.ShardID]; ok {
			if shard.TenantCount > 0 {
				shard.TenantCount--
			}
		}
	}
	return nil
}

func (s *store) CreateShard(ctx context.Context, shard *models.Shard) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shard.ShardID == "" || shard.Capacity <= 0 {
		return dberror.ErrInvalidInput
	}
	if _, ok := s.shards[shard.ShardID]; ok {
		return dberror.ErrAlreadyExists.New("shard already exists")
	}
	if shard.TenantCount > shard.Capacity {
		log.Ctx(ctx).Error().Str("shard_id", string(shard.ShardID)).Msg("capacity invariant violation")
		return dberror.ErrCapacityInvariant
	}
	if shard.Health == "" {
		shard.Health = types.ShardHealthUnknown
	}
	shard.CreatedAt = time.Now().UTC()
	s.shards[shard.ShardID] = copyShard(shard)
	return nil
}

func (s *store) GetShard(ctx context.Context, shardID types.ShardId) (*models.Shard, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[shardID]
	if !ok {
		return nil, dberror.ErrNotFound.New("shard not found")
	}
	return copyShard(sh), nil
}

func (s *store) ListShards(ctx context.Context) ([]*models.Shard, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := make([]*models.Shard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, copyShard(sh))
	}
	return shards, nil
}

func (s *store) UpdateShardHealth(ctx context.Context, shardID types.ShardId, health types.ShardHealth, checkedAt time.Time) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[shardID]
	if !ok {
		return dberror.ErrNotFound.New("shard not found")
	}
	sh.Health = health
	t := checkedAt.UTC()
	sh.LastHealthCheckAt = &t
	return nil
}

func (s *store) Close(ctx context.Context) {}

func copyTenant(t *models.Tenant) *models.Tenant {
	c := *t
	if t.LastError != nil {
		e := *t.LastError
		c.LastError = &e
	}
	return &c
}

func copyShard(sh *models.Shard) *models.Shard {
	c := *sh
	if sh.LastHealthCheckAt != nil {
		t := *sh.LastHealthCheckAt
		c.LastHealthCheckAt = &t
	}
	return &c
}
