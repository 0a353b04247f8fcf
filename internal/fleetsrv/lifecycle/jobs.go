package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pressfleet/pressfleet/pkg/types"
)

// Job is the ephemeral record of one in-flight provisioning operation.
// At most one job exists per tenant at any time.
type Job struct {
	ID        uuid.UUID
	TenantID  types.TenantId
	Operation types.JobOperation
	StartedAt time.Time

	attempts atomic.Int32
}

func (j *Job) Attempts() int {
	return int(j.attempts.Load())
}

type jobTracker struct {
	mu     sync.Mutex
	active map[types.TenantId]*Job
}

func newJobTracker() *jobTracker {
	return &jobTracker{active: make(map[types.TenantId]*Job)}
}

// start registers a new active job for the tenant. Returns the existing job
// and false when one is already active.
func (t *jobTracker) start(tenantID types.TenantId, op types.JobOperation) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.active[tenantID]; ok {
		return existing, false
	}
	job := &Job{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Operation: op,
		StartedAt: time.Now().UTC(),
	}
	t.active[tenantID] = job
	return job, true
}

func (t *jobTracker) finish(tenantID types.TenantId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, tenantID)
}

// Active returns the tenant's in-flight job, or nil.
func (t *jobTracker) Active(tenantID types.TenantId) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[tenantID]
}
