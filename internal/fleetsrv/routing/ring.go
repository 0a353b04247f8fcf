package routing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/pkg/types"
)

// DefaultVirtualNodes is the number of ring positions per shard. More
// positions smooth the distribution; 64 keeps key movement on shard addition
// near 1/N without making ring construction expensive at fleet scale.
const DefaultVirtualNodes = 64

type ringEntry struct {
	hash  uint64
	shard *models.Shard
}

// Ring is a consistent-hash ring over a shard set. It is immutable once
// built; the router rebuilds it from the registry on every routing decision
// so there is no cached shard topology to invalidate.
type Ring struct {
	entries []ringEntry
}

// NewRing places each shard at vnodes positions derived from hashing
// "<shard_id>/<i>". The same shard set always yields the same ring.
func NewRing(shards []*models.Shard, vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	entries := make([]ringEntry, 0, len(shards)*vnodes)
	for _, shard := range shards {
		for i := 0; i < vnodes; i++ {
			h := hashKey(fmt.Sprintf("%s/%d", shard.ShardID, i))
			entries = append(entries, ringEntry{hash: h, shard: shard})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		// Hash collisions between distinct vnode keys are vanishingly rare
		// but must not make the ring order depend on input order.
		return entries[i].shard.ShardID < entries[j].shard.ShardID
	})
	return &Ring{entries: entries}
}

// Lookup returns the first shard at or after the tenant's ring position for
// which eligible returns true, wrapping around. Walking past ineligible
// shards keeps the decision deterministic while skipping full or unhealthy
// shards. Returns false when no shard is eligible.
func (r *Ring) Lookup(tenantID types.TenantId, eligible func(*models.Shard) bool) (*models.Shard, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}
	key := hashKey(string(tenantID))
	start := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].hash >= key
	})

	seen := make(map[types.ShardId]bool)
	for i := 0; i < len(r.entries); i++ {
		entry := r.entries[(start+i)%len(r.entries)]
		if seen[entry.shard.ShardID] {
			continue
		}
		seen[entry.shard.ShardID] = true
		if eligible(entry.shard) {
			return entry.shard, true
		}
	}
	return nil, false
}

func hashKey(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}
