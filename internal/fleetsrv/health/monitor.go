// Package health probes shard health endpoints on a fixed schedule and
// writes the resulting status to the shard registry. Transitions apply
// hysteresis so a single dropped probe never flips routing decisions.
package health

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/metrics"
	"github.com/pressfleet/pressfleet/pkg/types"
)

type Config struct {
	// Interval between probe sweeps.
	Interval time.Duration
	// ProbeTimeout bounds one HTTP probe.
	ProbeTimeout time.Duration
	// FailureThreshold consecutive failures mark a shard Degraded; twice
	// that marks it Unreachable.
	FailureThreshold int
	// RecoveryThreshold consecutive successes restore a shard to Healthy.
	RecoveryThreshold int
	// EndpointTemplate builds the probe URL from the shard id, e.g.
	// "http://{shard_id}.fleet.internal/healthz".
	EndpointTemplate string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
}

// record tracks consecutive probe results for one shard.
type record struct {
	failures  int
	successes int
	health    types.ShardHealth
}

type Monitor struct {
	store  db.ShardManager
	client *http.Client
	cfg    Config

	mu      sync.Mutex
	records map[types.ShardId]*record
}

func NewMonitor(store db.ShardManager, cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		store:   store,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:     cfg,
		records: make(map[types.ShardId]*record),
	}
}

// Run sweeps all shards every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep probes every registered shard once and persists any status changes.
func (m *Monitor) Sweep(ctx context.Context) {
	shards, err := m.store.ListShards(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("health sweep could not list shards")
		return
	}

	var wg sync.WaitGroup
	for _, shard := range shards {
		wg.Add(1)
		go func(shardID types.ShardId, current types.ShardHealth) {
			defer wg.Done()
			m.probeOne(ctx, shardID, current)
		}(shard.ShardID, shard.Health)
	}
	wg.Wait()
	m.prune(shards)
}

func (m *Monitor) probeOne(ctx context.Context, shardID types.ShardId, current types.ShardHealth) {
	ok := m.probe(ctx, shardID)
	if ok {
		metrics.HealthProbes.WithLabelValues("success").Inc()
	} else {
		metrics.HealthProbes.WithLabelValues("failure").Inc()
	}

	next, changed := m.observe(shardID, current, ok)
	checkedAt := time.Now().UTC()
	if err := m.store.UpdateShardHealth(ctx, shardID, next, checkedAt); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("shard_id", string(shardID)).Msg("could not persist shard health")
		return
	}
	if changed {
		log.Ctx(ctx).Info().
			Str("shard_id", string(shardID)).
			Str("health", string(next)).
			Msg("shard health changed")
	}
}

// probe performs one HTTP GET against the shard's health endpoint. Any 2xx
// response counts as a success.
func (m *Monitor) probe(ctx context.Context, shardID types.ShardId) bool {
	url := strings.ReplaceAll(m.cfg.EndpointTemplate, "{shard_id}", string(shardID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	rsp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer rsp.Body.Close()
	return rsp.StatusCode >= 200 && rsp.StatusCode < 300
}

// observe folds one probe result into the shard's streak counters and
// returns the resulting health. Failure streaks degrade in two steps:
// FailureThreshold consecutive failures mark the shard Degraded, twice that
// marks it Unreachable. A shard that has never been Healthy is promoted on
// its first good probe; RecoveryThreshold consecutive successes restore
// Healthy from Degraded or Unreachable.
func (m *Monitor) observe(shardID types.ShardId, current types.ShardHealth, ok bool) (types.ShardHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found := m.records[shardID]
	if !found {
		rec = &record{health: current}
		m.records[shardID] = rec
	}

	if ok {
		rec.successes++
		rec.failures = 0
		if rec.health == types.ShardHealthUnknown || rec.successes >= m.cfg.RecoveryThreshold {
			rec.health = types.ShardHealthHealthy
		}
	} else {
		rec.failures++
		rec.successes = 0
		switch {
		case rec.failures >= 2*m.cfg.FailureThreshold:
			rec.health = types.ShardHealthUnreachable
		case rec.failures >= m.cfg.FailureThreshold:
			rec.health = types.ShardHealthDegraded
		}
	}

	changed := rec.health != current
	return rec.health, changed
}

// prune drops streak counters for shards no longer in the registry.
func (m *Monitor) prune(shards []*models.Shard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[types.ShardId]bool, len(shards))
	for _, s := range shards {
		seen[s.ShardID] = true
	}
	for id := range m.records {
		if !seen[id] {
			delete(m.records, id)
		}
	}
}
