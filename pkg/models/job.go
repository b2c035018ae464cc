package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. pending → queued → running → one of the terminal three.
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalJobStatus reports whether status is one of the three terminal
// states. Terminal jobs are immutable except through an explicit retry.
func TerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one imputation job submitted to an external provider. Jobs with a
// ParentJobID are batch members; a parent's status and progress are derived
// from its children and the parent itself is never submitted upstream.
type Job struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	UserID           uuid.UUID  `db:"user_id"            json:"user_id"`
	ServiceID        int64      `db:"service_id"         json:"service_id"`
	ReferencePanelID int64      `db:"reference_panel_id" json:"reference_panel_id"`
	ParentJobID      *uuid.UUID `db:"parent_job_id"      json:"parent_job_id,omitempty"`

	InputFormat string `db:"input_format" json:"input_format"`
	Build       string `db:"build"        json:"build"`
	Phasing     string `db:"phasing"      json:"phasing"`
	Population  string `db:"population"   json:"population"`
	InputFile   string `db:"input_file"   json:"input_file"`

	Status             string          `db:"status"              json:"status"`
	ProgressPercentage int             `db:"progress_percentage" json:"progress_percentage"`
	ExternalJobID      *string         `db:"external_job_id"     json:"external_job_id,omitempty"`
	ErrorMessage       *string         `db:"error_message"       json:"error_message,omitempty"`
	ServiceResponse    json.RawMessage `db:"service_response"    json:"service_response,omitempty"`
	ResultLinks        json.RawMessage `db:"result_links"        json:"result_links,omitempty"`

	StartedAt            *time.Time `db:"started_at"             json:"started_at,omitempty"`
	CompletedAt          *time.Time `db:"completed_at"           json:"completed_at,omitempty"`
	ExecutionTimeSeconds *int64     `db:"execution_time_seconds" json:"execution_time_seconds,omitempty"`
	CreatedAt            time.Time  `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"             json:"updated_at"`
}

// JobStatusUpdate is one append-only row per observed transition (or per
// unchanged-but-informative poll).
type JobStatusUpdate struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	JobID     uuid.UUID       `db:"job_id"     json:"job_id"`
	Status    string          `db:"status"     json:"status"`
	Progress  int             `db:"progress"   json:"progress"`
	Message   string          `db:"message"    json:"message"`
	Detail    json.RawMessage `db:"detail"     json:"detail,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Log types for JobLog rows.
const (
	LogTypeInfo    = "info"
	LogTypeWarning = "warning"
	LogTypeError   = "error"
)

// JobLog mirrors one line of a provider's internal pipeline step output.
// Rows for a job are replaced wholesale on each poll that returns step data,
// because providers resend their full step history.
type JobLog struct {
	ID        int64     `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	StepName  string    `db:"step_name"  json:"step_name"`
	StepIndex int       `db:"step_index" json:"step_index"`
	LogType   string    `db:"log_type"   json:"log_type"`
	Message   string    `db:"message"    json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
