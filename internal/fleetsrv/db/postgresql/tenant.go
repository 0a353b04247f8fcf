package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

// AssignTenant reserves a slot on the shard and inserts the tenant in Pending
// state inside one transaction. The conditional update on tenant_count is what
// enforces the capacity invariant; an overbooked assignment never commits.
func (s *store) AssignTenant(ctx context.Context, tenant *models.Tenant) (err apperrors.Error) {
	if tenant.TenantID == "" || tenant.ShardID == "" {
		return dberror.ErrInvalidInput
	}

	tx, errdb := s.db.BeginTx(ctx, &sql.TxOptions{})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errdb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	reserve := `
		UPDATE shards
		SET tenant_count = tenant_count + 1
		WHERE shard_id = $1 AND tenant_count < capacity
		RETURNING tenant_count;
	`
	var count int
	if errdb := tx.QueryRowContext(ctx, reserve, tenant.ShardID).Scan(&count); errdb != nil {
		if errdb == sql.ErrNoRows {
			// Either the shard doesn't exist or it is full; distinguish for the caller.
			var exists bool
			if chkErr := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shards WHERE shard_id = $1)`, tenant.ShardID).Scan(&exists); chkErr == nil && !exists {
				err = dberror.ErrNotFound.New("shard not found")
				return err
			}
			err = dberror.ErrShardFull
			return err
		}
		log.Ctx(ctx).Error().Err(errdb).Str("shard_id", string(tenant.ShardID)).Msg("failed to reserve shard slot")
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}

	insert := `
		INSERT INTO tenants (tenant_id, shard_id, state, generation)
		VALUES ($1, $2, $3, 1)
		RETURNING generation, created_at, updated_at;
	`
	row := tx.QueryRowContext(ctx, insert, tenant.TenantID, tenant.ShardID, types.TenantStatePending)
	if errdb := row.Scan(&tenant.Generation, &tenant.CreatedAt, &tenant.UpdatedAt); errdb != nil {
		if pgErrorCode(errdb) == pgErrUniqueViolation {
			err = dberror.ErrAlreadyExists.New("tenant already exists")
			return err
		}
		log.Ctx(ctx).Error().Err(errdb).Str("tenant_id", string(tenant.TenantID)).Msg("failed to insert tenant")
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}
	tenant.State = types.TenantStatePending

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}
	return nil
}

func (s *store) GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error) {
	query := `
		SELECT tenant_id, shard_id, state, generation, last_error, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1;
	`
	row := s.db.QueryRowContext(ctx, query, tenantID)
	tenant, err := scanTenant(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.New("tenant not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("tenant_id", string(tenantID)).Msg("failed to get tenant")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return tenant, nil
}

func (s *store) ListTenants(ctx context.Context, opts db.ListTenantsOptions) ([]*models.Tenant, apperrors.Error) {
	query := `
		SELECT tenant_id, shard_id, state, generation, last_error, created_at, updated_at
		FROM tenants
	`
	args := []any{}
	if opts.ShardID != "" {
		query += ` WHERE shard_id = $1`
		args = append(args, opts.ShardID)
	}
	query += ` ORDER BY created_at;`

	rows, errdb := s.db.QueryContext(ctx, query, args...)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to list tenants")
		return nil, dberror.ErrDatabase.Err(errdb)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows.Scan)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan tenant")
			return nil, dberror.ErrDatabase.Err(err)
		}
		tenants = append(tenants, tenant)
	}
	if errdb := rows.Err(); errdb != nil {
		return nil, dberror.ErrDatabase.Err(errdb)
	}
	return tenants, nil
}

// TransitionTenant commits a state transition with a generation CAS. A
// transition into Destroyed releases the shard slot in the same transaction.
func (s *store) TransitionTenant(ctx context.Context, tenant *models.Tenant, expectedGeneration int64) (err apperrors.Error) {
	lastError, errj := marshalLastError(tenant.LastError)
	if errj != nil {
		return dberror.ErrInvalidInput.Err(errj)
	}

	tx, errdb := s.db.BeginTx(ctx, &sql.TxOptions{})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errdb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var prevState types.TenantState
	var shardID types.ShardId
	lock := `SELECT state, shard_id FROM tenants WHERE tenant_id = $1 FOR UPDATE;`
	if errdb := tx.QueryRowContext(ctx, lock, tenant.TenantID).Scan(&prevState, &shardID); errdb != nil {
		if errdb == sql.ErrNoRows {
			err = dberror.ErrNotFound.New("tenant not found")
			return err
		}
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}

	update := `
		UPDATE tenants
		SET state = $1, last_error = $2, generation = generation + 1, updated_at = now()
		WHERE tenant_id = $3 AND generation = $4
		RETURNING generation, updated_at;
	`
	row := tx.QueryRowContext(ctx, update, tenant.State, lastError, tenant.TenantID, expectedGeneration)
	if errdb := row.Scan(&tenant.Generation, &tenant.UpdatedAt); errdb != nil {
		if errdb == sql.ErrNoRows {
			err = dberror.ErrStaleGeneration
			return err
		}
		log.Ctx(ctx).Error().Err(errdb).Str("tenant_id", string(tenant.TenantID)).Msg("failed to transition tenant")
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}

	if tenant.State == types.TenantStateDestroyed && prevState != types.TenantStateDestroyed {
		release := `
			UPDATE shards
			SET tenant_count = GREATEST(tenant_count - 1, 0)
			WHERE shard_id = $1;
		`
		if _, errdb := tx.ExecContext(ctx, release, shardID); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("shard_id", string(shardID)).Msg("failed to release shard slot")
			err = dberror.ErrDatabase.Err(errdb)
			return err
		}
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		err = dberror.ErrDatabase.Err(errdb)
		return err
	}
	return nil
}

func scanTenant(scan func(dest ...any) error) (*models.Tenant, error) {
	var tenant models.Tenant
	var lastError pgtype.JSONB
	if err := scan(&tenant.TenantID, &tenant.ShardID, &tenant.State, &tenant.Generation, &lastError, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		return nil, err
	}
	le, err := unmarshalLastError(lastError)
	if err != nil {
		return nil, err
	}
	tenant.LastError = le
	return &tenant, nil
}
