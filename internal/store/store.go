package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateService(ctx context.Context, svc *models.Service) error
	ListServices(ctx context.Context, filter ServiceFilter) ([]*models.Service, error)
	GetServiceByIDOrSlug(ctx context.Context, idOrSlug string) (*models.Service, error)
	GetServiceByID(ctx context.Context, id int64) (*models.Service, error)
	UpdateServiceHealth(ctx context.Context, id int64, update HealthUpdate) error
	AppendServiceHealthLog(ctx context.Context, log *models.ServiceHealthLog) error

	CreateReferencePanel(ctx context.Context, panel *models.ReferencePanel) error
	ListReferencePanels(ctx context.Context, serviceID int64) ([]*models.ReferencePanel, error)
	GetReferencePanelByIDOrSlug(ctx context.Context, serviceID int64, idOrSlug string) (*models.ReferencePanel, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ListPollableJobs(ctx context.Context) ([]*models.Job, error)
	ListChildJobs(ctx context.Context, parentID uuid.UUID) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	ResetJobForRetry(ctx context.Context, id uuid.UUID) error

	AppendJobStatusUpdate(ctx context.Context, update *models.JobStatusUpdate) error
	ListJobStatusUpdates(ctx context.Context, jobID uuid.UUID) ([]*models.JobStatusUpdate, error)
	ReplaceJobLogs(ctx context.Context, jobID uuid.UUID, logs []models.JobLog) error
	ListJobLogs(ctx context.Context, jobID uuid.UUID) ([]*models.JobLog, error)

	GetCredential(ctx context.Context, userID uuid.UUID, serviceID int64) (*models.UserServiceCredential, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// ServiceFilter narrows ListServices. Zero values mean "no constraint".
type ServiceFilter struct {
	ActiveOnly  bool
	HealthyOnly bool
	APIType     string
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status    string
	ServiceID int64
	UserID    uuid.UUID
	Page      int
	Limit     int
}

// HealthUpdate carries the outcome of one health probe. Pointer fields with
// nil are left untouched except where noted; SetFirstUnhealthyAt and
// ClearFirstUnhealthyAt distinguish "leave alone" from "write null".
type HealthUpdate struct {
	HealthStatus   string
	IsAvailable    bool
	IsActive       *bool
	ResponseTimeMS *int64
	ErrorMessage   *string
	CheckedAt      time.Time

	SetFirstUnhealthyAt   *time.Time
	ClearFirstUnhealthyAt bool

	CPUAvailable       *int
	MemoryAvailableGB  *float64
	StorageAvailableGB *float64
	QueueCurrent       *int
}

type jobUpdateParams struct {
	Progress        *int
	ErrorMessage    *string
	ExternalJobID   *string
	ServiceResponse json.RawMessage
	ResultLinks     json.RawMessage
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExecutionTime   *int64
}

type JobUpdateOption func(*jobUpdateParams)

func WithProgress(p int) JobUpdateOption {
	return func(u *jobUpdateParams) { u.Progress = &p }
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *jobUpdateParams) { u.ErrorMessage = &msg }
}

func WithExternalJobID(id string) JobUpdateOption {
	return func(u *jobUpdateParams) { u.ExternalJobID = &id }
}

func WithServiceResponse(raw json.RawMessage) JobUpdateOption {
	return func(u *jobUpdateParams) { u.ServiceResponse = raw }
}

func WithResultLinks(raw json.RawMessage) JobUpdateOption {
	return func(u *jobUpdateParams) { u.ResultLinks = raw }
}

func WithStartedAt(t time.Time) JobUpdateOption {
	return func(u *jobUpdateParams) { u.StartedAt = &t }
}

func WithCompletedAt(t time.Time) JobUpdateOption {
	return func(u *jobUpdateParams) { u.CompletedAt = &t }
}

func WithExecutionTime(seconds int64) JobUpdateOption {
	return func(u *jobUpdateParams) { u.ExecutionTime = &seconds }
}

// ApplyJobUpdate applies a status change and update options to an in-memory
// Job, mirroring what the SQL UPDATE does. In-memory Store implementations
// use it so tests observe the same field semantics as Postgres.
func ApplyJobUpdate(job *models.Job, status string, opts ...JobUpdateOption) {
	var p jobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}

	job.Status = status
	if p.Progress != nil {
		job.ProgressPercentage = *p.Progress
	}
	if p.ErrorMessage != nil {
		job.ErrorMessage = p.ErrorMessage
	}
	if p.ExternalJobID != nil {
		job.ExternalJobID = p.ExternalJobID
	}
	if p.ServiceResponse != nil {
		job.ServiceResponse = p.ServiceResponse
	}
	if p.ResultLinks != nil {
		job.ResultLinks = p.ResultLinks
	}
	if p.StartedAt != nil {
		job.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		job.CompletedAt = p.CompletedAt
	}
	if p.ExecutionTime != nil {
		job.ExecutionTimeSeconds = p.ExecutionTime
	}
	job.UpdatedAt = time.Now().UTC()
}
