// Package postgresql implements the fleet Store on PostgreSQL using the pgx
// stdlib driver. Slot reservation and generation CAS run inside transactions
// so the capacity invariant holds under concurrent writers and multiple
// control plane replicas.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
)

const (
	pgErrUniqueViolation = "23505"
	pgErrCheckViolation  = "23514"
)

type store struct {
	db *sql.DB
}

// New opens a connection pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (db.Store, apperrors.Error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, dberror.ErrDatabase.Err(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &store{db: sqlDB}, nil
}

func (s *store) Close(ctx context.Context) {
	if err := s.db.Close(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to close db")
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func marshalLastError(e *models.ProvisionError) (pgtype.JSONB, error) {
	j := pgtype.JSONB{Status: pgtype.Null}
	if e == nil {
		return j, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return j, err
	}
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}, nil
}

func unmarshalLastError(j pgtype.JSONB) (*models.ProvisionError, error) {
	if j.Status != pgtype.Present {
		return nil, nil
	}
	var e models.ProvisionError
	if err := json.Unmarshal(j.Bytes, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
