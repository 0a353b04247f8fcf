package types

import "regexp"

type TenantId string
type ShardId string

func (t TenantId) String() string {
	return string(t)
}

func (s ShardId) String() string {
	return string(s)
}

// TenantState is the lifecycle state of a tenant's infrastructure.
type TenantState string

const (
	TenantStatePending       TenantState = "pending"
	TenantStateProvisioning  TenantState = "provisioning"
	TenantStateActive        TenantState = "active"
	TenantStateUpdatePending TenantState = "update-pending"
	TenantStateDestroying    TenantState = "destroying"
	TenantStateDestroyed     TenantState = "destroyed"
	TenantStateFailed        TenantState = "failed"
)

// Terminal reports whether no further automatic transitions happen from this state.
// A Failed tenant can still be destroyed by an operator.
func (s TenantState) Terminal() bool {
	return s == TenantStateDestroyed
}

type ShardHealth string

const (
	ShardHealthHealthy     ShardHealth = "healthy"
	ShardHealthDegraded    ShardHealth = "degraded"
	ShardHealthUnreachable ShardHealth = "unreachable"
	ShardHealthUnknown     ShardHealth = "unknown"
)

type JobOperation string

const (
	JobOperationApply   JobOperation = "apply"
	JobOperationDestroy JobOperation = "destroy"
)

var tenantIdRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)
var shardIdRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// IsValidTenantId validates the external tenant identifier format: lowercase
// alphanumerics and hyphens, 2-63 chars, must not start with a hyphen.
func IsValidTenantId(id string) bool {
	return tenantIdRegexp.MatchString(id)
}

func IsValidShardId(id string) bool {
	return shardIdRegexp.MatchString(id)
}
