// Package metrics exposes prometheus collectors for the fleet control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProvisionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_provision_attempts_total",
		Help: "Provisioner invocations by operation.",
	}, []string{"operation"})

	ProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_provision_failures_total",
		Help: "Failed provisioner invocations by operation and retryability.",
	}, []string{"operation", "retryable"})

	HealthProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_health_probes_total",
		Help: "Shard health probes by result.",
	}, []string{"result"})

	ShardExpansions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_shard_expansions_total",
		Help: "Shard creation attempts triggered by the capacity manager.",
	})

	ShardExpansionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_shard_expansion_failures_total",
		Help: "Shard creation attempts that failed at the provisioner.",
	})

	ShardCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_shards",
		Help: "Number of registered shards.",
	})

	TenantCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_tenants",
		Help: "Number of assigned tenants, including in-flight.",
	})

	FleetUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_utilization_ratio",
		Help: "Assigned tenants over total capacity.",
	})

	CapacityInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_capacity_invariant_violations_total",
		Help: "Detected tenant_count > capacity faults. Always a critical alert.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
