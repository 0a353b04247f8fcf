package models

import (
	"time"

	"github.com/pressfleet/pressfleet/pkg/types"
)

/*
	       Column        |           Type           | Nullable |  Default
	---------------------+--------------------------+----------+-----------
	 shard_id            | character varying(64)    | not null |
	 project_ref         | character varying(256)   | not null |
	 region              | character varying(64)    | not null |
	 capacity            | integer                  | not null |
	 tenant_count        | integer                  | not null | 0
	 health              | character varying(16)    | not null | 'unknown'
	 last_health_check   | timestamp with time zone |          |
	 created_at          | timestamp with time zone | not null | now()
	Indexes:
	    "shards_pkey" PRIMARY KEY, btree (shard_id)
	Check constraints:
	    "shards_capacity_check" CHECK (tenant_count >= 0 AND tenant_count <= capacity)
*/
type Shard struct {
	ShardID           types.ShardId     `db:"shard_id"`
	ProjectRef        string            `db:"project_ref"`
	Region            string            `db:"region"`
	Capacity          int               `db:"capacity"`
	TenantCount       int               `db:"tenant_count"`
	Health            types.ShardHealth `db:"health"`
	LastHealthCheckAt *time.Time        `db:"last_health_check"`
	CreatedAt         time.Time         `db:"created_at"`
}

// HasCapacity reports whether the shard can accept another tenant.
// TenantCount includes in-flight assignments.
func (s *Shard) HasCapacity() bool {
	return s.TenantCount < s.Capacity
}

func (s *Shard) Utilization() float64 {
	if s.Capacity == 0 {
		return 1.0
	}
	return float64(s.TenantCount) / float64(s.Capacity)
}
