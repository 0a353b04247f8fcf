// Package lifecycle drives a tenant's infrastructure through its state
// machine:
//
//	Pending -> Provisioning -> Active -> UpdatePending -> Active
//	Active/Failed/Pending -> Destroying -> Destroyed
//	any provisioning failure with retries exhausted -> Failed
//
// Operations on one tenant are serialized by a per-tenant lease; operations
// on different tenants run in parallel up to a global concurrency limit.
// Requests return as soon as the job is enqueued; callers poll for state.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/pressfleet/pressfleet/internal/common/apperrors"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/capacity"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/dberror"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/db/models"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/metrics"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/provisioner"
	"github.com/pressfleet/pressfleet/internal/fleetsrv/routing"
	"github.com/pressfleet/pressfleet/pkg/types"
)

var (
	ErrLifecycle apperrors.Error = apperrors.New("lifecycle error").SetStatusCode(http.StatusInternalServerError)

	// ErrOperationInProgress means another operation holds the tenant's
	// lease. Callers should retry later; the in-flight operation is intact.
	ErrOperationInProgress apperrors.Error = ErrLifecycle.New("operation in progress").SetStatusCode(http.StatusConflict)

	ErrTenantNotFound  apperrors.Error = ErrLifecycle.New("tenant not found").SetStatusCode(http.StatusNotFound)
	ErrTenantDestroyed apperrors.Error = ErrLifecycle.New("tenant is destroyed").SetStatusCode(http.StatusConflict)
	ErrInvalidState    apperrors.Error = ErrLifecycle.New("operation not valid in current state").SetStatusCode(http.StatusConflict)
)

type Config struct {
	// RetryAttempts bounds provisioner retries for transient failures.
	RetryAttempts uint
	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration
	// LockTTL is the per-tenant lease duration; jobs renew at half-TTL.
	LockTTL time.Duration
	// JobTimeout is the hard deadline for one provisioning job.
	JobTimeout time.Duration
	// MaxConcurrentJobs bounds fleet-wide parallel provisioner calls.
	MaxConcurrentJobs int
}

func (c *Config) applyDefaults() {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 1 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 16
	}
}

type Machine struct {
	store    db.Store
	prov     provisioner.Provisioner
	router   *routing.Router
	capacity *capacity.Manager
	locks    *LockManager
	jobs     *jobTracker
	sem      chan struct{}
	cfg      Config
	wg       sync.WaitGroup
}

func NewMachine(store db.Store, prov provisioner.Provisioner, router *routing.Router, cap *capacity.Manager, cfg Config) *Machine {
	cfg.applyDefaults()
	return &Machine{
		store:    store,
		prov:     prov,
		router:   router,
		capacity: cap,
		locks:    NewLockManager(cfg.LockTTL),
		jobs:     newJobTracker(),
		sem:      make(chan struct{}, cfg.MaxConcurrentJobs),
		cfg:      cfg,
	}
}

// ActiveJob returns the tenant's in-flight job, or nil.
func (m *Machine) ActiveJob(tenantID types.TenantId) *Job {
	return m.jobs.Active(tenantID)
}

// Wait blocks until all background jobs finish. Used in shutdown and tests.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Create routes the tenant to a shard, records it in Pending state and
// starts the apply job. Idempotent: a tenant that already exists in a
// non-destroyed state is returned as-is together with its active job, and
// no second apply is started.
func (m *Machine) Create(ctx context.Context, tenantID types.TenantId, vars map[string]string) (*models.Tenant, *Job, apperrors.Error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err == nil {
		switch tenant.State {
		case types.TenantStateDestroyed:
			return tenant, nil, ErrTenantDestroyed
		case types.TenantStateDestroying:
			return tenant, nil, ErrOperationInProgress
		default:
			// No-op: current state plus existing job handle, never a
			// duplicate apply.
			return tenant, m.jobs.Active(tenantID), nil
		}
	}
	if !err.Is(dberror.ErrNotFound) {
		return nil, nil, ErrLifecycle.Err(err)
	}

	shardID, rerr := m.router.Route(ctx, tenantID)
	if rerr != nil {
		if rerr.Is(routing.ErrNoCapacityAvailable) {
			m.triggerExpansion(ctx)
		}
		return nil, nil, rerr
	}

	tenant = &models.Tenant{TenantID: tenantID, ShardID: shardID}
	if aerr := m.store.AssignTenant(ctx, tenant); aerr != nil {
		if aerr.Is(dberror.ErrShardFull) {
			// Lost a race for the last slot; treat like a routing miss.
			m.triggerExpansion(ctx)
			return nil, nil, routing.ErrNoCapacityAvailable
		}
		if aerr.Is(dberror.ErrAlreadyExists) {
			// Concurrent create won; return its result.
			existing, gerr := m.store.GetTenant(ctx, tenantID)
			if gerr != nil {
				return nil, nil, ErrLifecycle.Err(gerr)
			}
			return existing, m.jobs.Active(tenantID), nil
		}
		return nil, nil, aerr
	}

	job, jerr := m.startJob(ctx, tenant, types.JobOperationApply, vars)
	if jerr != nil {
		return tenant, m.jobs.Active(tenantID), jerr
	}
	return tenant, job, nil
}

// Update re-applies configuration for an Active tenant.
func (m *Machine) Update(ctx context.Context, tenantID types.TenantId, vars map[string]string) (*models.Tenant, *Job, apperrors.Error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		if err.Is(dberror.ErrNotFound) {
			return nil, nil, ErrTenantNotFound
		}
		return nil, nil, ErrLifecycle.Err(err)
	}
	if tenant.State != types.TenantStateActive {
		return tenant, m.jobs.Active(tenantID), ErrInvalidState
	}

	lease, ok := m.locks.Acquire(tenantID)
	if !ok {
		return tenant, m.jobs.Active(tenantID), ErrOperationInProgress
	}

	tenant.State = types.TenantStateUpdatePending
	tenant.LastError = nil
	if terr := m.store.TransitionTenant(ctx, tenant, tenant.Generation); terr != nil {
		lease.Release()
		return tenant, nil, ErrLifecycle.Err(terr)
	}

	job := m.launch(tenant, types.JobOperationApply, vars, lease)
	return tenant, job, nil
}

// Destroy requests teardown of the tenant's infrastructure. Idempotent:
// Destroy on an already-Destroyed tenant succeeds without touching the
// provisioner; Destroy on a Destroying tenant returns the in-flight job.
func (m *Machine) Destroy(ctx context.Context, tenantID types.TenantId) (*models.Tenant, *Job, apperrors.Error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		if err.Is(dberror.ErrNotFound) {
			return nil, nil, ErrTenantNotFound
		}
		return nil, nil, ErrLifecycle.Err(err)
	}

	switch tenant.State {
	case types.TenantStateDestroyed:
		return tenant, nil, nil
	case types.TenantStateDestroying:
		if job := m.jobs.Active(tenantID); job != nil {
			return tenant, job, nil
		}
		// Destroying with no live job: a previous run died. Restart the
		// destroy without a state transition.
		lease, ok := m.locks.Acquire(tenantID)
		if !ok {
			return tenant, m.jobs.Active(tenantID), ErrOperationInProgress
		}
		job := m.launch(tenant, types.JobOperationDestroy, nil, lease)
		return tenant, job, nil
	case types.TenantStateProvisioning, types.TenantStateUpdatePending:
		if job := m.jobs.Active(tenantID); job != nil {
			return tenant, job, ErrOperationInProgress
		}
		// No live job: the run that owned this state died without
		// reaching a terminal state. Teardown is the recovery path; the
		// generation CAS below fences out any resurrected writer.
	}

	lease, ok := m.locks.Acquire(tenantID)
	if !ok {
		return tenant, m.jobs.Active(tenantID), ErrOperationInProgress
	}

	tenant.State = types.TenantStateDestroying
	tenant.LastError = nil
	if terr := m.store.TransitionTenant(ctx, tenant, tenant.Generation); terr != nil {
		lease.Release()
		if terr.Is(dberror.ErrStaleGeneration) {
			return tenant, nil, ErrOperationInProgress
		}
		return tenant, nil, ErrLifecycle.Err(terr)
	}

	job := m.launch(tenant, types.JobOperationDestroy, nil, lease)
	return tenant, job, nil
}

func (m *Machine) startJob(ctx context.Context, tenant *models.Tenant, op types.JobOperation, vars map[string]string) (*Job, apperrors.Error) {
	lease, ok := m.locks.Acquire(tenant.TenantID)
	if !ok {
		return nil, ErrOperationInProgress
	}
	return m.launch(tenant, op, vars, lease), nil
}

func (m *Machine) launch(tenant *models.Tenant, op types.JobOperation, vars map[string]string, lease *Lease) *Job {
	job, ok := m.jobs.start(tenant.TenantID, op)
	if !ok {
		// The lease serializes job starts; an active job here means the
		// lease was reclaimed after expiry while the old job still runs.
		lease.Release()
		return job
	}
	m.wg.Add(1)
	go m.runJob(job, tenant, vars, lease)
	return job
}

func (m *Machine) runJob(job *Job, tenant *models.Tenant, vars map[string]string, lease *Lease) {
	defer m.wg.Done()
	defer m.jobs.finish(tenant.TenantID)
	defer lease.Release()

	logger := log.With().
		Str("job_id", job.ID.String()).
		Str("tenant_id", string(tenant.TenantID)).
		Str("operation", string(job.Operation)).
		Logger()
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background()), m.cfg.JobTimeout)
	defer cancel()

	// Global concurrency limit across all tenants.
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.recordFailure(ctx, tenant, &models.ProvisionError{Message: "job timed out waiting for a worker slot", Retryable: true})
		return
	}
	defer func() { <-m.sem }()

	renewDone := make(chan struct{})
	defer close(renewDone)
	go m.renewLease(lease, renewDone)

	switch job.Operation {
	case types.JobOperationApply:
		m.runApply(ctx, job, tenant, vars)
	case types.JobOperationDestroy:
		m.runDestroy(ctx, job, tenant)
	}
}

func (m *Machine) runApply(ctx context.Context, job *Job, tenant *models.Tenant, vars map[string]string) {
	if tenant.State == types.TenantStatePending {
		tenant.State = types.TenantStateProvisioning
		if err := m.store.TransitionTenant(ctx, tenant, tenant.Generation); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("could not enter provisioning state, aborting job")
			return
		}
	}

	outcome, err := m.invokeWithRetry(ctx, job, func(c context.Context) (*provisioner.Outcome, error) {
		return m.prov.Apply(c, string(tenant.TenantID), vars)
	})
	if err == nil {
		tenant.State = types.TenantStateActive
		tenant.LastError = nil
		if terr := m.store.TransitionTenant(ctx, tenant, tenant.Generation); terr != nil {
			log.Ctx(ctx).Error().Err(terr).Msg("lost transition race after successful apply")
			return
		}
		log.Ctx(ctx).Info().Int("attempts", job.Attempts()).Msg("tenant active")
		return
	}
	// No automatic cleanup on partial failure: the raw output is recorded
	// and an operator-triggered destroy is the recovery path.
	m.recordFailure(ctx, tenant, provisionError(outcome, err))
}

func (m *Machine) runDestroy(ctx context.Context, job *Job, tenant *models.Tenant) {
	outcome, err := m.invokeWithRetry(ctx, job, func(c context.Context) (*provisioner.Outcome, error) {
		return m.prov.Destroy(c, string(tenant.TenantID))
	})
	if err == nil {
		tenant.State = types.TenantStateDestroyed
		tenant.LastError = nil
		if terr := m.store.TransitionTenant(ctx, tenant, tenant.Generation); terr != nil {
			log.Ctx(ctx).Error().Err(terr).Msg("lost transition race after successful destroy")
			return
		}
		log.Ctx(ctx).Info().Int("attempts", job.Attempts()).Msg("tenant destroyed")
		return
	}
	// Tenant remains in Failed state; manual intervention required.
	m.recordFailure(ctx, tenant, provisionError(outcome, err))
}

// invokeWithRetry calls the provisioner with exponential backoff. Transport
// errors and outcomes marked retryable consume attempts; a fatal outcome
// stops immediately.
func (m *Machine) invokeWithRetry(ctx context.Context, job *Job, call func(context.Context) (*provisioner.Outcome, error)) (*provisioner.Outcome, error) {
	var outcome *provisioner.Outcome
	err := retry.Do(
		func() error {
			job.attempts.Add(1)
			metrics.ProvisionAttempts.WithLabelValues(string(job.Operation)).Inc()
			out, err := call(ctx)
			if err != nil {
				metrics.ProvisionFailures.WithLabelValues(string(job.Operation), "true").Inc()
				return err
			}
			outcome = out
			if out.Success {
				return nil
			}
			ferr := fmt.Errorf("provisioner reported failure: %s", firstLine(out.Output))
			if out.Retryable {
				metrics.ProvisionFailures.WithLabelValues(string(job.Operation), "true").Inc()
				return ferr
			}
			metrics.ProvisionFailures.WithLabelValues(string(job.Operation), "false").Inc()
			return retry.Unrecoverable(ferr)
		},
		retry.Attempts(m.cfg.RetryAttempts),
		retry.Delay(m.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Uint("attempt", n+1).Err(err).Msg("provisioner call failed, retrying")
		}),
	)
	return outcome, err
}

// recordFailure writes the terminal Failed state. The job context is often
// already past its deadline here (that deadline may be the reason the job
// failed), so the write runs on a detached, freshly bounded context.
func (m *Machine) recordFailure(ctx context.Context, tenant *models.Tenant, perr *models.ProvisionError) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	tenant.State = types.TenantStateFailed
	tenant.LastError = perr
	if terr := m.store.TransitionTenant(wctx, tenant, tenant.Generation); terr != nil {
		log.Ctx(ctx).Error().Err(terr).Msg("could not record provisioning failure")
		return
	}
	log.Ctx(ctx).Error().Str("error", perr.Message).Bool("retryable", perr.Retryable).Msg("tenant failed")
}

func (m *Machine) renewLease(lease *Lease, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.LockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lease.Renew()
		case <-done:
			return
		}
	}
}

func (m *Machine) triggerExpansion(ctx context.Context) {
	if m.capacity == nil {
		return
	}
	logger := log.Ctx(ctx).With().Str("trigger", "routing").Logger()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		bg := logger.WithContext(context.Background())
		if err := m.capacity.EnsureCapacity(bg, true); err != nil && !err.Is(capacity.ErrExpansionInProgress) {
			logger.Error().Err(err).Msg("capacity expansion failed")
		}
	}()
}

func provisionError(outcome *provisioner.Outcome, err error) *models.ProvisionError {
	if outcome != nil && !outcome.Success {
		return &models.ProvisionError{
			Message:   firstLine(outcome.Output),
			Retryable: outcome.Retryable,
			Output:    outcome.Output,
		}
	}
	return &models.ProvisionError{Message: err.Error(), Retryable: true}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no provisioner output"
	}
	return s
}
