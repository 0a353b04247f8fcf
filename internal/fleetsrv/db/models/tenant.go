package models

import (
	"time"

	"github.com/pressfleet/pressfleet/pkg/types"
)

// ProvisionError is the structured error recorded on a tenant when a
// provisioning operation fails. Output carries the raw provisioner output
// for operator diagnosis; it is never interpreted by the control plane.
type ProvisionError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Output    string `json:"output,omitempty"`
}

/*
	  Column    |           Type           | Nullable |      Default
	------------+--------------------------+----------+-------------------
	 tenant_id  | character varying(64)    | not null |
	 shard_id   | character varying(64)    | not null |
	 state      | character varying(32)    | not null |
	 generation | bigint                   | not null | 1
	 last_error | jsonb                    |          |
	 created_at | timestamp with time zone | not null | now()
	 updated_at | timestamp with time zone | not null | now()
	Indexes:
	    "tenants_pkey" PRIMARY KEY, btree (tenant_id)
	    "tenants_shard_id_idx" btree (shard_id)
*/
type Tenant struct {
	TenantID   types.TenantId    `db:"tenant_id"`
	ShardID    types.ShardId     `db:"shard_id"`
	State      types.TenantState `db:"state"`
	Generation int64             `db:"generation"`
	LastError  *ProvisionError   `db:"last_error"`
	CreatedAt  time.Time         `db:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at"`
}
