// Package routing maps tenants to shards with a consistent-hash ring built
// from live shard records. There is no fixed shard count anywhere: growing
// the fleet moves only O(1/N) of future placements.
package routing

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

var (
	ErrRouting apperrors.Error = apperrors.New("routing error").SetStatusCode(http.StatusInternalServerError)

	// ErrNoCapacityAvailable means no healthy shard with a free slot exists.
	// The capacity manager treats this as an expansion trigger; callers
	// should retry after backoff.
	ErrNoCapacityAvailable apperrors.Error = ErrRouting.New("no capacity available").SetStatusCode(http.StatusConflict)
)

type Router struct {
	shards db.ShardManager
	vnodes int
}

func NewRouter(shards db.ShardManager) *Router {
	return &Router{shards: shards, vnodes: DefaultVirtualNodes}
}

// SetVirtualNodes overrides the per-shard virtual node count. Changing it on
// a live fleet remaps placements; set it once at startup.
func (rt *Router) SetVirtualNodes(n int) {
	if n > 0 {
		rt.vnodes = n
	}
}

// Route picks the shard for a new tenant placement. Deterministic for a
// fixed shard set. Shards that are not Healthy or have no free slot are
// skipped; existing tenants are never rerouted by this path.
func (rt *Router) Route(ctx context.Context, tenantID types.TenantId) (types.ShardId, apperrors.Error) {
	shards, err := rt.shards.ListShards(ctx)
	if err != nil {
		return "", ErrRouting.Err(err)
	}

	ring := NewRing(shards, rt.vnodes)
	shard, ok := ring.Lookup(tenantID, Eligible)
	if !ok {
		log.Ctx(ctx).Warn().Str("tenant_id", string(tenantID)).Msg("no eligible shard for placement")
		return "", ErrNoCapacityAvailable
	}
	return shard.ShardID, nil
}

// Eligible reports whether a shard may receive new placements.
func Eligible(s *models.Shard) bool {
	return s.Health == types.ShardHealthHealthy && s.HasCapacity()
}
