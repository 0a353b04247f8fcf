// Package db defines the durable store interfaces for the fleet control
// plane. The shard registry and tenant store are the source of truth; every
// other component holds only transient derived views.
//
// Two backends exist: memory (development and tests) and postgresql.
package db

import (
	"context"
	"time"

	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

type ListTenantsOptions struct {
	// ShardID filters tenants to a single shard when non-empty.
	ShardID types.ShardId
}

// TenantManager owns tenant records. Tenants are never deleted physically;
// they transition to Destroyed and are retained for audit.
type TenantManager interface {
	// AssignTenant creates the tenant in Pending state and reserves a slot on
	// its shard in the same logical transaction. Returns ErrAlreadyExists if
	// the tenant exists, ErrShardFull if the shard has no free slot.
	AssignTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error

	GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error)
	ListTenants(ctx context.Context, opts ListTenantsOptions) ([]*models.Tenant, apperrors.Error)

	// TransitionTenant commits a state transition via compare-and-swap on the
	// generation field. The tenant's Generation must be the caller's expected
	// value; on success the stored generation is incremented and reflected in
	// the passed tenant. A transition into Destroyed releases the shard slot
	// in the same logical transaction. Returns ErrStaleGeneration when the
	// CAS loses.
	TransitionTenant(ctx context.Context, tenant *models.Tenant, expectedGeneration int64) apperrors.Error
}

// ShardManager owns shard records. Shards are never deleted automatically.
type ShardManager interface {
	CreateShard(ctx context.Context, shard *models.Shard) apperrors.Error
	GetShard(ctx context.Context, shardID types.ShardId) (*models.Shard, apperrors.Error)
	ListShards(ctx context.Context) ([]*models.Shard, apperrors.Error)
	UpdateShardHealth(ctx context.Context, shardID types.ShardId, health types.ShardHealth, checkedAt time.Time) apperrors.Error
}

type Store interface {
	TenantManager
	ShardManager

	Close(ctx context.Context)
}
