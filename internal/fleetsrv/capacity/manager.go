// Package capacity watches fleet utilization and grows the shard fleet
// through the shard-level provisioner. Expansion is single-flight: one
// in-flight shard creation at a time, fleet-wide within this process.
package capacity

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/metrics"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/provisioner"
	"github.com/pressfleet/pressfleet/pkg/types"
)

var (
	ErrCapacity apperrors.Error = apperrors.New("capacity error").SetStatusCode(http.StatusInternalServerError)

	// ErrExpansionInProgress means a shard creation is already in flight.
	// Not a failure; the caller's trigger is already being served.
	ErrExpansionInProgress apperrors.Error = ErrCapacity.New("shard expansion already in progress").SetStatusCode(http.StatusConflict)
)

const shardIdAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

type Config struct {
	// UtilizationThreshold triggers expansion when fleet utilization
	// (assigned tenants over total capacity) crosses it.
	UtilizationThreshold float64
	// ShardCapacity is the tenant capacity of newly created shards.
	ShardCapacity int
	// Region for new shards.
	Region string
	// ShardIdPrefix prefixes generated shard ids.
	ShardIdPrefix string
}

type Manager struct {
	store     db.Store
	shardProv provisioner.Provisioner
	cfg       Config

	expanding atomic.Bool
}

func NewManager(store db.Store, shardProv provisioner.Provisioner, cfg Config) *Manager {
	if cfg.UtilizationThreshold <= 0 {
		cfg.UtilizationThreshold = 0.8
	}
	if cfg.ShardCapacity <= 0 {
		cfg.ShardCapacity = 50
	}
	if cfg.ShardIdPrefix == "" {
		cfg.ShardIdPrefix = "shard"
	}
	return &Manager{store: store, shardProv: shardProv, cfg: cfg}
}

// EnsureCapacity creates a new shard when the fleet is saturated. force
// skips the utilization check and is used when a routing attempt failed with
// NoCapacityAvailable. Idempotent: a concurrent call while an expansion is
// in flight returns ErrExpansionInProgress without starting a second one.
func (m *Manager) EnsureCapacity(ctx context.Context, force bool) apperrors.Error {
	shards, err := m.store.ListShards(ctx)
	if err != nil {
		return ErrCapacity.Err(err)
	}
	m.publishFleetMetrics(shards)

	if !force && !m.saturated(shards) {
		return nil
	}

	if !m.expanding.CompareAndSwap(false, true) {
		return ErrExpansionInProgress
	}
	defer m.expanding.Store(false)

	return m.createShard(ctx)
}

// Run calls EnsureCapacity on a fixed schedule until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.EnsureCapacity(ctx, false); err != nil && !err.Is(ErrExpansionInProgress) {
				log.Ctx(ctx).Error().Err(err).Msg("scheduled capacity check failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) saturated(shards []*models.Shard) bool {
	totalCapacity := 0
	totalTenants := 0
	for _, s := range shards {
		totalCapacity += s.Capacity
		totalTenants += s.TenantCount
	}
	if totalCapacity == 0 {
		return true
	}
	return float64(totalTenants)/float64(totalCapacity) >= m.cfg.UtilizationThreshold
}

// createShard provisions shard-level infrastructure and registers the shard
// only after the provisioner reports success. A failed creation leaves no
// shard record; failures surface as log and metric, not as a half-created
// shard. New shards start with health Unknown and become routable only
// after their first successful health probe.
func (m *Manager) createShard(ctx context.Context) apperrors.Error {
	suffix, errid := gonanoid.Generate(shardIdAlphabet, 10)
	if errid != nil {
		return ErrCapacity.Err(errid)
	}
	shardID := types.ShardId(m.cfg.ShardIdPrefix + "-" + suffix)

	metrics.ShardExpansions.Inc()
	log.Ctx(ctx).Info().Str("shard_id", string(shardID)).Msg("creating shard")

	outcome, errp := m.shardProv.Apply(ctx, string(shardID), map[string]string{
		"region":   m.cfg.Region,
		"capacity": strconv.Itoa(m.cfg.ShardCapacity),
	})
	if errp != nil {
		metrics.ShardExpansionFailures.Inc()
		log.Ctx(ctx).Error().Err(errp).Str("shard_id", string(shardID)).Msg("shard provisioning failed")
		return ErrCapacity.MsgErr("shard provisioning failed", errp)
	}
	if !outcome.Success {
		metrics.ShardExpansionFailures.Inc()
		log.Ctx(ctx).Error().
			Str("shard_id", string(shardID)).
			Bool("retryable", outcome.Retryable).
			Str("output", outcome.Output).
			Msg("shard provisioning failed")
		return ErrCapacity.Msg("shard provisioning failed")
	}

	shard := &models.Shard{
		ShardID:    shardID,
		ProjectRef: string(shardID),
		Region:     m.cfg.Region,
		Capacity:   m.cfg.ShardCapacity,
		Health:     types.ShardHealthUnknown,
	}
	if err := m.store.CreateShard(ctx, shard); err != nil {
		return ErrCapacity.Err(err)
	}
	log.Ctx(ctx).Info().Str("shard_id", string(shardID)).Int("capacity", shard.Capacity).Msg("shard registered")
	return nil
}

func (m *Manager) publishFleetMetrics(shards []*models.Shard) {
	totalCapacity := 0
	totalTenants := 0
	for _, s := range shards {
		totalCapacity += s.Capacity
		totalTenants += s.TenantCount
		if s.TenantCount > s.Capacity {
			// The store enforces this at assignment time; seeing it here
			// means the registry was mutated out of band.
			metrics.CapacityInvariantViolations.Inc()
			log.Error().Str("shard_id", string(s.ShardID)).Int("tenant_count", s.TenantCount).Int("capacity", s.Capacity).Msg("capacity invariant violated")
		}
	}
	metrics.ShardCount.Set(float64(len(shards)))
	metrics.TenantCount.Set(float64(totalTenants))
	if totalCapacity > 0 {
		metrics.FleetUtilization.Set(float64(totalTenants) / float64(totalCapacity))
	}
}
