package postgresql

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

func (s *store) CreateShard(ctx context.Context, shard *models.Shard) apperrors.Error {
	if shard.ShardID == "" || shard.Capacity <= 0 {
		return dberror.ErrInvalidInput
	}
	if shard.Health == "" {
		shard.Health = types.ShardHealthUnknown
	}

	query := `
		INSERT INTO shards (shard_id, project_ref, region, capacity, tenant_count, health)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at;
	`
	row := s.db.QueryRowContext(ctx, query, shard.ShardID, shard.ProjectRef, shard.Region, shard.Capacity, shard.TenantCount, shard.Health)
	if errdb := row.Scan(&shard.CreatedAt); errdb != nil {
		switch pgErrorCode(errdb) {
		case pgErrUniqueViolation:
			return dberror.ErrAlreadyExists.New("shard already exists")
		case pgErrCheckViolation:
			log.Ctx(ctx).Error().Str("shard_id", string(shard.ShardID)).Msg("capacity invariant violation")
			return dberror.ErrCapacityInvariant
		}
		log.Ctx(ctx).Error().Err(errdb).Str("shard_id", string(shard.ShardID)).Msg("failed to insert shard")
		return dberror.ErrDatabase.Err(errdb)
	}
	return nil
}

func (s *store) GetShard(ctx context.Context, shardID types.ShardId) (*models.Shard, apperrors.Error) {
	query := `
		SELECT shard_id, project_ref, region, capacity, tenant_count, health, last_health_check, created_at
		FROM shards
		WHERE shard_id = $1;
	`
	row := s.db.QueryRowContext(ctx, query, shardID)
	shard, err := scanShard(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("shard not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("shard_id", string(shardID)).Msg("failed to get shard")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return shard, nil
}

func (s *store) ListShards(ctx context.Context) ([]*models.Shard, apperrors.Error) {
	query := `
		SELECT shard_id, project_ref, region, capacity, tenant_count, health, last_health_check, created_at
		FROM shards
		ORDER BY created_at;
	`
	rows, errdb := s.db.QueryContext(ctx, query)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to list shards")
		return nil, dberror.ErrDatabase.Err(errdb)
	}
	defer rows.Close()

	var shards []*models.Shard
	for rows.Next() {
		shard, err := scanShard(rows.Scan)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan shard")
			return nil, dberror.ErrDatabase.Err(err)
		}
		shards = append(shards, shard)
	}
	if errdb := rows.Err(); errdb != nil {
		return nil, dberror.ErrDatabase.Err(errdb)
	}
	return shards, nil
}

func (s *store) UpdateShardHealth(ctx context.Context, shardID types.ShardId, health types.ShardHealth, checkedAt time.Time) apperrors.Error {
	query := `
		UPDATE shards
		SET health = $1, last_health_check = $2
		WHERE shard_id = $3;
	`
	res, errdb := s.db.ExecContext(ctx, query, health, checkedAt.UTC(), shardID)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("shard_id", string(shardID)).Msg("failed to update shard health")
		return dberror.ErrDatabase.Err(errdb)
	}
	if n, errdb := res.RowsAffected(); errdb == nil && n == 0 {
		return dberror.ErrNotFound.New("shard not found")
	}
	return nil
}

func scanShard(scan func(dest ...any) error) (*models.Shard, error) {
	var shard models.Shard
	var lastCheck sql.NullTime
	if err := scan(&shard.ShardID, &shard.ProjectRef, &shard.Region, &shard.Capacity, &shard.TenantCount, &shard.Health, &lastCheck, &shard.CreatedAt); err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		t := lastCheck.Time
		shard.LastHealthCheckAt = &t
	}
	return &shard, nil
}
