package lifecycle

import (
	"sync"
	"time"

	"github.com/pressfleet/pressfleet/pkg/types"
)

// LockManager hands out per-tenant leases with a TTL. A lease serializes
// operations on one tenant within this process; the authoritative guard
// across control plane replicas is the generation CAS in the store. A
// stale lease holder loses the CAS and its job aborts cleanly.
type LockManager struct {
	mu     sync.Mutex
	leases map[types.TenantId]*Lease
	ttl    time.Duration
}

type Lease struct {
	lm        *LockManager
	tenantID  types.TenantId
	expiresAt time.Time
}

func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LockManager{
		leases: make(map[types.TenantId]*Lease),
		ttl:    ttl,
	}
}

// Acquire takes the tenant's lease. Returns false when another holder has an
// unexpired lease. An expired lease is reclaimed: its holder's job has either
// died or will lose the generation CAS on its next transition.
func (lm *LockManager) Acquire(tenantID types.TenantId) (*Lease, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if existing, ok := lm.leases[tenantID]; ok && time.Now().Before(existing.expiresAt) {
		return nil, false
	}
	lease := &Lease{
		lm:        lm,
		tenantID:  tenantID,
		expiresAt: time.Now().Add(lm.ttl),
	}
	lm.leases[tenantID] = lease
	return lease, true
}

// Renew extends the lease TTL. Jobs renew at half-TTL intervals while the
// provisioner call is in flight.
func (l *Lease) Renew() {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()
	if l.lm.leases[l.tenantID] == l {
		l.expiresAt = time.Now().Add(l.lm.ttl)
	}
}

func (l *Lease) Release() {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()
	if l.lm.leases[l.tenantID] == l {
		delete(l.lm.leases, l.tenantID)
	}
}
