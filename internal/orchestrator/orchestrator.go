// Package orchestrator owns the job state machine: creation, async
// submission, cancellation, retry, the periodic status poller, and batch
// aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mamanambiya/federated-imputation/internal/cache"
	"github.com/mamanambiya/federated-imputation/internal/config"
	"github.com/mamanambiya/federated-imputation/internal/notify"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// ErrInvalidTransition is returned for operations the state machine forbids,
// such as retrying a running job or cancelling a terminal one.
var ErrInvalidTransition = errors.New("invalid job state transition")

// AdapterFactory selects the protocol adapter for a service's api_type.
type AdapterFactory interface {
	ForType(apiType string) (models.ProviderAdapter, error)
}

// Orchestrator coordinates job lifecycles across external providers.
type Orchestrator struct {
	store       store.Store
	cache       cache.Cache
	adapters    AdapterFactory
	credentials CredentialResolver
	notifier    notify.Notifier
	inputs      InputSource
	cfg         config.OrchestratorConfig

	submitCh chan uuid.UUID
	locks    jobLocks

	// userTokens holds per-job token overrides passed at creation. Kept in
	// memory only: overrides are a convenience for callers managing their
	// own provider accounts and do not survive a restart.
	userTokens sync.Map
}

// New creates an Orchestrator. Call Start to launch the submission workers.
func New(st store.Store, ca cache.Cache, adapters AdapterFactory, creds CredentialResolver,
	notifier notify.Notifier, inputs InputSource, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		store:       st,
		cache:       ca,
		adapters:    adapters,
		credentials: creds,
		notifier:    notifier,
		inputs:      inputs,
		cfg:         cfg,
		submitCh:    make(chan uuid.UUID, 256),
	}
}

// Start launches the submission worker pool. Submissions are long-running
// blocking I/O (large file uploads), so they never run inline with request
// handling, and one stuck submission cannot block the others.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.cfg.SubmitWorkers; i++ {
		go o.submitWorker(ctx)
	}
}

func (o *Orchestrator) submitWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.submitCh:
			o.submit(ctx, jobID)
		}
	}
}

// CreateJobParams describes a job creation request. Service and panel accept
// a numeric id or a slug.
type CreateJobParams struct {
	UserID      uuid.UUID
	Service     string
	Panel       string
	InputFormat string
	Build       string
	Phasing     string
	Population  string
	InputFile   string
	ParentJobID *uuid.UUID
	UserToken   string // optional override; skips the credential store
}

// CreateJob resolves identifiers, persists a pending job, and hands it to
// the async submission pool. Returns the pending job immediately.
func (o *Orchestrator) CreateJob(ctx context.Context, params CreateJobParams) (*models.Job, error) {
	svc, err := o.store.GetServiceByIDOrSlug(ctx, params.Service)
	if err != nil {
		return nil, fmt.Errorf("resolving service %q: %w", params.Service, err)
	}
	panel, err := o.store.GetReferencePanelByIDOrSlug(ctx, svc.ID, params.Panel)
	if err != nil {
		return nil, fmt.Errorf("resolving reference panel %q: %w", params.Panel, err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:               uuid.New(),
		UserID:           params.UserID,
		ServiceID:        svc.ID,
		ReferencePanelID: panel.ID,
		ParentJobID:      params.ParentJobID,
		InputFormat:      params.InputFormat,
		Build:            params.Build,
		Phasing:          params.Phasing,
		Population:       params.Population,
		InputFile:        params.InputFile,
		Status:           models.JobStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, statusCacheTTL)
	o.appendUpdate(ctx, job.ID, models.JobStatusPending, 0, "Job created", nil)

	if params.UserToken != "" {
		o.userTokens.Store(job.ID, params.UserToken)
	}

	select {
	case o.submitCh <- job.ID:
	default:
		// Queue full: the job stays pending and is picked up by the next
		// retry sweep rather than blocking the API request.
		slog.Warn("submission queue full, job left pending", "job_id", job.ID)
	}

	return job, nil
}

// CreateBatch creates a parent aggregation job plus one child per service.
// The parent is never submitted upstream; its status and progress derive
// from the children.
func (o *Orchestrator) CreateBatch(ctx context.Context, params CreateJobParams, services []string) (*models.Job, []*models.Job, error) {
	if len(services) < 2 {
		return nil, nil, fmt.Errorf("batch requires at least 2 services, got %d", len(services))
	}

	// The parent row borrows the first child's service and panel so the
	// schema's non-null columns hold; it carries no external_job_id, which
	// keeps it out of the poller sweep.
	firstSvc, err := o.store.GetServiceByIDOrSlug(ctx, services[0])
	if err != nil {
		return nil, nil, fmt.Errorf("resolving service %q: %w", services[0], err)
	}
	firstPanel, err := o.store.GetReferencePanelByIDOrSlug(ctx, firstSvc.ID, params.Panel)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving reference panel %q: %w", params.Panel, err)
	}

	now := time.Now().UTC()
	parent := &models.Job{
		ID:               uuid.New(),
		UserID:           params.UserID,
		ServiceID:        firstSvc.ID,
		ReferencePanelID: firstPanel.ID,
		InputFormat:      params.InputFormat,
		Build:            params.Build,
		Phasing:          params.Phasing,
		Population:       params.Population,
		InputFile:        params.InputFile,
		Status:           models.JobStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.CreateJob(ctx, parent); err != nil {
		return nil, nil, fmt.Errorf("creating parent job: %w", err)
	}

	children := make([]*models.Job, 0, len(services))
	for _, svcRef := range services {
		childParams := params
		childParams.Service = svcRef
		childParams.ParentJobID = &parent.ID
		child, err := o.CreateJob(ctx, childParams)
		if err != nil {
			return nil, nil, fmt.Errorf("creating child job for %q: %w", svcRef, err)
		}
		children = append(children, child)
	}
	return parent, children, nil
}

// submit performs one submission attempt. Runs on a worker goroutine.
func (o *Orchestrator) submit(ctx context.Context, jobID uuid.UUID) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("loading job for submission failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusPending {
		return
	}

	svc, err := o.store.GetServiceByID(ctx, job.ServiceID)
	if err != nil {
		o.failJob(ctx, job, fmt.Sprintf("service lookup failed: %v", err))
		return
	}
	panel, err := o.store.GetReferencePanelByIDOrSlug(ctx, svc.ID, fmt.Sprint(job.ReferencePanelID))
	if err != nil {
		o.failJob(ctx, job, fmt.Sprintf("reference panel lookup failed: %v", err))
		return
	}
	adapter, err := o.adapters.ForType(svc.APIType)
	if err != nil {
		o.failJob(ctx, job, err.Error())
		return
	}

	cred := o.credentialFor(ctx, job)

	input, err := o.inputs.Open(ctx, job.InputFile)
	if err != nil {
		o.failJob(ctx, job, fmt.Sprintf("opening input file: %v", err))
		return
	}
	defer input.Close()

	submitCtx, cancel := context.WithTimeout(ctx, o.cfg.SubmitTimeout)
	defer cancel()

	result, err := adapter.Submit(submitCtx, models.SubmitRequest{
		BaseURL:     svc.BaseURL,
		Credential:  cred,
		PanelName:   panel.Name,
		InputFormat: job.InputFormat,
		Build:       job.Build,
		Phasing:     job.Phasing,
		Population:  job.Population,
		Input:       input,
		InputName:   job.InputFile,
	})
	if err != nil {
		o.failJob(ctx, job, err.Error())
		return
	}

	now := time.Now().UTC()
	err = o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusQueued,
		store.WithProgress(10),
		store.WithExternalJobID(result.ExternalJobID),
		store.WithServiceResponse(result.RawResponse),
		store.WithStartedAt(now),
	)
	if err != nil {
		slog.Error("persisting submission failed", "job_id", job.ID, "error", err)
		return
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusQueued, statusCacheTTL)
	o.appendUpdate(ctx, job.ID, models.JobStatusQueued, 10, "Submitted to provider", result.RawResponse)
	o.notifier.JobStatusChanged(ctx, notify.JobEvent{
		JobID:       job.ID,
		UserID:      job.UserID,
		ServiceID:   job.ServiceID,
		ParentJobID: job.ParentJobID,
		OldStatus:   models.JobStatusPending,
		NewStatus:   models.JobStatusQueued,
		Progress:    10,
		OccurredAt:  now,
	})

	slog.Info("job submitted", "job_id", job.ID, "service", svc.Slug, "external_job_id", result.ExternalJobID)
}

// Cancel moves a job to cancelled. The remote cancel is advisory: its
// failure or timeout never prevents the local transition.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if models.TerminalJobStatus(job.Status) {
		return nil, fmt.Errorf("%w: job is already %s", ErrInvalidTransition, job.Status)
	}

	if job.ExternalJobID != nil {
		svc, err := o.store.GetServiceByID(ctx, job.ServiceID)
		if err == nil {
			if adapter, aerr := o.adapters.ForType(svc.APIType); aerr == nil {
				cancelCtx, cancel := context.WithTimeout(ctx, o.cfg.CancelTimeout)
				if cerr := adapter.Cancel(cancelCtx, svc.BaseURL, *job.ExternalJobID, o.credentialFor(ctx, job)); cerr != nil {
					slog.Warn("remote cancel failed, cancelling locally anyway",
						"job_id", job.ID, "error", cerr)
				}
				cancel()
			}
		}
	}

	now := time.Now().UTC()
	opts := []store.JobUpdateOption{store.WithCompletedAt(now)}
	if job.StartedAt != nil {
		opts = append(opts, store.WithExecutionTime(int64(now.Sub(*job.StartedAt).Seconds())))
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled, opts...); err != nil {
		return nil, fmt.Errorf("persisting cancellation: %w", err)
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusCancelled, statusCacheTTL)
	o.appendUpdate(ctx, job.ID, models.JobStatusCancelled, job.ProgressPercentage, "Cancelled by user", nil)
	o.notifier.JobStatusChanged(ctx, notify.JobEvent{
		JobID:       job.ID,
		UserID:      job.UserID,
		ServiceID:   job.ServiceID,
		ParentJobID: job.ParentJobID,
		OldStatus:   job.Status,
		NewStatus:   models.JobStatusCancelled,
		Progress:    job.ProgressPercentage,
		OccurredAt:  now,
	})

	if job.ParentJobID != nil {
		o.recomputeParent(ctx, *job.ParentJobID)
	}
	return o.store.GetJob(ctx, jobID)
}

// Retry re-enters the submission path. Only failed or cancelled jobs
// qualify; terminal fields are cleared and the job goes back to pending.
func (o *Orchestrator) Retry(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	unlock := o.locks.lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusCancelled {
		return nil, fmt.Errorf("%w: cannot retry a %s job", ErrInvalidTransition, job.Status)
	}

	if err := o.store.ResetJobForRetry(ctx, jobID); err != nil {
		return nil, fmt.Errorf("resetting job: %w", err)
	}

	_ = o.cache.SetJobStatus(ctx, jobID, models.JobStatusPending, statusCacheTTL)
	o.appendUpdate(ctx, jobID, models.JobStatusPending, 0, "Retry requested", nil)

	select {
	case o.submitCh <- jobID:
	default:
		slog.Warn("submission queue full, retried job left pending", "job_id", jobID)
	}

	return o.store.GetJob(ctx, jobID)
}

// failJob marks a job failed with message. Used for submission failures,
// which are not retried automatically.
func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, message string) {
	now := time.Now().UTC()
	opts := []store.JobUpdateOption{
		store.WithErrorMessage(message),
		store.WithCompletedAt(now),
	}
	if job.StartedAt != nil {
		opts = append(opts, store.WithExecutionTime(int64(now.Sub(*job.StartedAt).Seconds())))
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, opts...); err != nil {
		slog.Error("persisting job failure failed", "job_id", job.ID, "error", err)
		return
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, statusCacheTTL)
	o.appendUpdate(ctx, job.ID, models.JobStatusFailed, job.ProgressPercentage, message, nil)
	o.notifier.JobStatusChanged(ctx, notify.JobEvent{
		JobID:       job.ID,
		UserID:      job.UserID,
		ServiceID:   job.ServiceID,
		ParentJobID: job.ParentJobID,
		OldStatus:   job.Status,
		NewStatus:   models.JobStatusFailed,
		Progress:    job.ProgressPercentage,
		Message:     message,
		OccurredAt:  now,
	})

	if job.ParentJobID != nil {
		o.recomputeParent(ctx, *job.ParentJobID)
	}
	slog.Error("job failed", "job_id", job.ID, "error", message)
}

func (o *Orchestrator) appendUpdate(ctx context.Context, jobID uuid.UUID, status string, progress int, message string, detail []byte) {
	update := &models.JobStatusUpdate{
		ID:        uuid.New(),
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.AppendJobStatusUpdate(ctx, update); err != nil {
		slog.Error("appending job status update failed", "job_id", jobID, "error", err)
	}
}

// credentialFor resolves the credential for a job under the warn-only
// policy, honoring a per-job user token override when one was supplied at
// creation.
func (o *Orchestrator) credentialFor(ctx context.Context, job *models.Job) models.Credential {
	if token, ok := o.userTokens.Load(job.ID); ok {
		return models.Credential{Token: token.(string)}
	}
	return resolveWarnOnly(ctx, o.credentials, job.UserID, job.ServiceID)
}

// jobLocks serializes updates per job so overlapping sweeps and user
// actions never race to write conflicting state for the same row. Entries
// are refcounted and dropped once the last holder releases, so the map only
// grows with in-flight operations, not with every job ever touched.
type jobLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func (l *jobLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*jobLock)
	}
	e, ok := l.locks[id]
	if !ok {
		e = &jobLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
