package dberror

import (
	"net/http"

	"github.com/pressfleet/pressfleet/internal/common/apperrors"
)

var (
	ErrDatabase        apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists   apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound        apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput    apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrShardFull       apperrors.Error = ErrDatabase.New("shard at capacity").SetStatusCode(http.StatusConflict)
	ErrStaleGeneration apperrors.Error = ErrDatabase.New("stale generation").SetStatusCode(http.StatusConflict)

	// ErrCapacityInvariant indicates tenant_count exceeded capacity in the
	// durable store. This is an internal consistency fault; it is logged as
	// critical and never silently corrected.
	ErrCapacityInvariant apperrors.Error = ErrDatabase.New("capacity invariant violation").SetStatusCode(http.StatusInternalServerError)
)
