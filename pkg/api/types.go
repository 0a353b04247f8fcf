// Package api defines the request and response types of the fleet control
// plane HTTP surface. fleetctl and the server share these definitions.
package api

import "time"

type TenantCreateRequest struct {
	TenantID string            `json:"tenant_id" validate:"required,min=2,max=63"`
	Vars     map[string]string `json:"vars,omitempty"`
}

type ProvisionError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Output    string `json:"output,omitempty"`
}

type Tenant struct {
	TenantID   string          `json:"tenant_id"`
	ShardID    string          `json:"shard_id"`
	State      string          `json:"state"`
	Generation int64           `json:"generation"`
	LastError  *ProvisionError `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TenantJob is the response to an accepted create/destroy request: the
// tenant's current state plus a handle to the background job driving it.
type TenantJob struct {
	Tenant
	JobID string `json:"job_id,omitempty"`
}

type ShardCreateRequest struct {
	ShardID    string `json:"shard_id" validate:"required,min=2,max=63"`
	Region     string `json:"region" validate:"required"`
	Capacity   int    `json:"capacity" validate:"required,gt=0"`
	ProjectRef string `json:"project_ref,omitempty"`
}

type Shard struct {
	ShardID            string     `json:"shard_id"`
	ProjectRef         string     `json:"project_ref"`
	Region             string     `json:"region"`
	Capacity           int        `json:"capacity"`
	TenantCount        int        `json:"tenant_count"`
	Health             string     `json:"health"`
	UtilizationPercent float64    `json:"utilization_percent"`
	LastHealthCheckAt  *time.Time `json:"last_health_check_at,omitempty"`
}

type ExpansionStatus struct {
	Status string `json:"status"`
}

type ShardList struct {
	Shards []Shard `json:"shards"`
}

type TenantList struct {
	Tenants []Tenant `json:"tenants"`
}

type FleetHealth struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	TotalShards        int       `json:"total_shards"`
	HealthyShards      int       `json:"healthy_shards"`
	DegradedShards     int       `json:"degraded_shards"`
	UnreachableShards  int       `json:"unreachable_shards"`
	TotalTenants       int       `json:"total_tenants"`
	TotalCapacity      int       `json:"total_capacity"`
	UtilizationPercent float64   `json:"utilization_percent"`
}

type Version struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}
