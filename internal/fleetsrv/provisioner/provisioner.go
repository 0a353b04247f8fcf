// Package provisioner wraps the external declarative infrastructure tool.
// The orchestration core only sees the Provisioner interface and Outcome
// values; the tool's state layout (workspaces, var files) stays behind the
// adapter.
package provisioner

import (
	"context"
	"net/http"

	"github.com/pressfleet/pressfleet/internal/common/apperrors"
)

var (
	ErrProvisioner apperrors.Error = apperrors.New("provisioner failure").SetStatusCode(http.StatusBadGateway)
)

// Outcome is the result of a single apply or destroy invocation. Retryable
// distinguishes transient failures (network, rate limits) from fatal ones
// (bad configuration, permanent quota); only the former are retried.
type Outcome struct {
	Success   bool
	Output    string
	Retryable bool
}

// Provisioner drives infrastructure for one isolated state partition keyed
// by id. Implementations must be idempotent per id: re-applying unchanged
// configuration is a no-op, and Destroy on absent state succeeds.
type Provisioner interface {
	Apply(ctx context.Context, id string, vars map[string]string) (*Outcome, error)
	Destroy(ctx context.Context, id string) (*Outcome, error)
}
