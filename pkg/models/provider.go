package models

import (
	"context"
	"encoding/json"
	"io"
)

// ProviderAdapter translates the uniform job operations to one provider's
// wire protocol. Never call a provider package directly — always go through
// this interface, selected by the provider factory from a service's
// api_type. Implementations are stateless and safe for concurrent use; the
// service base URL travels with each call because several registered
// services can share an api_type.
type ProviderAdapter interface {
	// Name returns the api_type this adapter serves.
	Name() string

	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	CheckStatus(ctx context.Context, baseURL, externalID string, cred Credential) (*StatusResult, error)

	// Cancel asks the provider to stop a job. Best-effort: callers treat
	// failures as advisory.
	Cancel(ctx context.Context, baseURL, externalID string, cred Credential) error

	// DownloadResults streams one result file. The caller owns the closer.
	DownloadResults(ctx context.Context, url string, cred Credential) (io.ReadCloser, error)

	// ExtractResultLinks pulls downloadable links out of a raw provider
	// payload (typically the final CheckStatus response).
	ExtractResultLinks(raw json.RawMessage) ([]ResultLink, error)
}

// Credential carries the resolved secret for one (user, service) pair. The
// zero value means "no auth": some providers accept anonymous submissions,
// so adapters must tolerate an empty token.
type Credential struct {
	Token     string
	BasicUser string
	BasicPass string
}

// SubmitRequest is the provider-independent description of a job submission.
type SubmitRequest struct {
	BaseURL    string
	Credential Credential

	// PanelName is the provider-side panel identifier. For Michigan services
	// this is the Cloudgene app reference `apps@{app-id}@{version}` and goes
	// on the wire verbatim.
	PanelName string

	InputFormat string
	Build       string
	Phasing     string
	Population  string

	// Input is the genotype file content; InputName is its filename.
	Input     io.Reader
	InputName string
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	ExternalJobID string
	RawResponse   json.RawMessage
}

// StatusResult is a normalized external status observation.
type StatusResult struct {
	// Status is one of the internal job statuses (JobStatus*).
	Status      string
	Progress    int
	Message     string
	RawResponse json.RawMessage
	// Steps is the provider's full pipeline step log, when reported.
	// Providers resend complete history on every poll.
	Steps []StepLog
}

// StepLog is one line of a provider pipeline step's output.
type StepLog struct {
	StepName  string
	StepIndex int
	LogType   string // info, warning, error
	Message   string
}

// ResultLink is one downloadable output extracted from a provider response.
type ResultLink struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"size_bytes"`
	Hash        string `json:"hash,omitempty"`
	Description string `json:"description,omitempty"`
}
