package orchestrator_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamanambiya/federated-imputation/internal/cache"
	"github.com/mamanambiya/federated-imputation/internal/notify"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// memStore is an in-memory Store covering what the orchestrator exercises.
type memStore struct {
	mu sync.Mutex

	services map[int64]*models.Service
	panels   map[int64][]*models.ReferencePanel
	jobs     map[uuid.UUID]*models.Job
	updates  []*models.JobStatusUpdate
	logs     map[uuid.UUID][]models.JobLog
	creds    map[string]*models.UserServiceCredential
}

func newMemStore() *memStore {
	return &memStore{
		services: make(map[int64]*models.Service),
		panels:   make(map[int64][]*models.ReferencePanel),
		jobs:     make(map[uuid.UUID]*models.Job),
		logs:     make(map[uuid.UUID][]models.JobLog),
		creds:    make(map[string]*models.UserServiceCredential),
	}
}

func (m *memStore) addService(svc *models.Service) *models.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ID] = svc
	return svc
}

func (m *memStore) addPanel(panel *models.ReferencePanel) *models.ReferencePanel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panels[panel.ServiceID] = append(m.panels[panel.ServiceID], panel)
	return panel
}

func (m *memStore) putJob(job *models.Job) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return job
}

func (m *memStore) jobCopy(id uuid.UUID) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) updatesFor(id uuid.UUID) []*models.JobStatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobStatusUpdate
	for _, u := range m.updates {
		if u.JobID == id {
			out = append(out, u)
		}
	}
	return out
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func (m *memStore) CreateService(_ context.Context, svc *models.Service) error {
	m.addService(svc)
	return nil
}
func (m *memStore) ListServices(_ context.Context, _ store.ServiceFilter) ([]*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Service
	for _, svc := range m.services {
		out = append(out, svc)
	}
	return out, nil
}
func (m *memStore) GetServiceByIDOrSlug(_ context.Context, idOrSlug string) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.services {
		if svc.Slug == idOrSlug || fmt.Sprint(svc.ID) == idOrSlug {
			return svc, nil
		}
	}
	return nil, store.ErrNotFound
}
func (m *memStore) GetServiceByID(_ context.Context, id int64) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return svc, nil
}
func (m *memStore) UpdateServiceHealth(_ context.Context, _ int64, _ store.HealthUpdate) error {
	return nil
}
func (m *memStore) AppendServiceHealthLog(_ context.Context, _ *models.ServiceHealthLog) error {
	return nil
}

func (m *memStore) CreateReferencePanel(_ context.Context, panel *models.ReferencePanel) error {
	m.addPanel(panel)
	return nil
}
func (m *memStore) ListReferencePanels(_ context.Context, serviceID int64) ([]*models.ReferencePanel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panels[serviceID], nil
}
func (m *memStore) GetReferencePanelByIDOrSlug(_ context.Context, serviceID int64, idOrSlug string) (*models.ReferencePanel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.panels[serviceID] {
		if p.Slug == idOrSlug || fmt.Sprint(p.ID) == idOrSlug {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CreateJob(_ context.Context, job *models.Job) error {
	m.putJob(job)
	return nil
}
func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}
func (m *memStore) ListJobs(_ context.Context, _ store.JobFilter) ([]*models.Job, int, error) {
	return nil, 0, nil
}
func (m *memStore) ListPollableJobs(_ context.Context) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if (job.Status == models.JobStatusQueued || job.Status == models.JobStatusRunning) &&
			job.ExternalJobID != nil {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (m *memStore) ListChildJobs(_ context.Context, parentID uuid.UUID) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.ParentJobID != nil && *job.ParentJobID == parentID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (m *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	store.ApplyJobUpdate(job, status, opts...)
	return nil
}
func (m *memStore) ResetJobForRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusCancelled {
		return store.ErrNotFound
	}
	job.Status = models.JobStatusPending
	job.ProgressPercentage = 0
	job.ExternalJobID = nil
	job.ErrorMessage = nil
	job.ServiceResponse = nil
	job.ResultLinks = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ExecutionTimeSeconds = nil
	return nil
}

func (m *memStore) AppendJobStatusUpdate(_ context.Context, update *models.JobStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}
func (m *memStore) ListJobStatusUpdates(_ context.Context, jobID uuid.UUID) ([]*models.JobStatusUpdate, error) {
	return m.updatesFor(jobID), nil
}
func (m *memStore) ReplaceJobLogs(_ context.Context, jobID uuid.UUID, logs []models.JobLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = logs
	return nil
}
func (m *memStore) ListJobLogs(_ context.Context, jobID uuid.UUID) ([]*models.JobLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobLog
	for i := range m.logs[jobID] {
		out = append(out, &m.logs[jobID][i])
	}
	return out, nil
}

func (m *memStore) GetCredential(_ context.Context, userID uuid.UUID, serviceID int64) (*models.UserServiceCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[fmt.Sprintf("%s/%d", userID, serviceID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cred, nil
}

func (m *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *memStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (m *memStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }

var _ store.Store = (*memStore)(nil)

// memCache records job status writes.
type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMemCache() *memCache {
	return &memCache{statuses: make(map[uuid.UUID]string)}
}

func (c *memCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *memCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *memCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *memCache) Ping(_ context.Context) error                                     { return nil }
func (c *memCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}
func (c *memCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}
func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}
func (c *memCache) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (c *memCache) Close() error                                        { return nil }

var _ cache.Cache = (*memCache)(nil)

// memFactory hands out one scripted adapter for every api type.
type memFactory struct {
	adapter models.ProviderAdapter
}

func (f *memFactory) ForType(_ string) (models.ProviderAdapter, error) {
	return f.adapter, nil
}

// recNotifier records every emitted event.
type recNotifier struct {
	mu     sync.Mutex
	events []notify.JobEvent
}

func (n *recNotifier) JobStatusChanged(_ context.Context, event notify.JobEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recNotifier) all() []notify.JobEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.JobEvent(nil), n.events...)
}

// memInputs serves a fixed file body for any name.
type memInputs struct {
	body string
}

func (m memInputs) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.body)), nil
}
