// Package mock provides a scripted adapter for testing the orchestrator and
// poller without real provider endpoints.
package mock

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// Adapter satisfies models.ProviderAdapter for testing.
type Adapter struct {
	Name_                  string
	SubmitFunc             func(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error)
	CheckStatusFunc        func(ctx context.Context, baseURL, externalID string, cred models.Credential) (*models.StatusResult, error)
	CancelFunc             func(ctx context.Context, baseURL, externalID string, cred models.Credential) error
	DownloadResultsFunc    func(ctx context.Context, url string, cred models.Credential) (io.ReadCloser, error)
	ExtractResultLinksFunc func(raw json.RawMessage) ([]models.ResultLink, error)
}

func (m *Adapter) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *Adapter) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return &models.SubmitResult{ExternalJobID: "mock-job-1", RawResponse: json.RawMessage(`{"id":"mock-job-1"}`)}, nil
}

func (m *Adapter) CheckStatus(ctx context.Context, baseURL, externalID string, cred models.Credential) (*models.StatusResult, error) {
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, baseURL, externalID, cred)
	}
	return &models.StatusResult{Status: models.JobStatusRunning, Progress: 50}, nil
}

func (m *Adapter) Cancel(ctx context.Context, baseURL, externalID string, cred models.Credential) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, baseURL, externalID, cred)
	}
	return nil
}

func (m *Adapter) DownloadResults(ctx context.Context, url string, cred models.Credential) (io.ReadCloser, error) {
	if m.DownloadResultsFunc != nil {
		return m.DownloadResultsFunc(ctx, url, cred)
	}
	return io.NopCloser(strings.NewReader("mock result data")), nil
}

func (m *Adapter) ExtractResultLinks(raw json.RawMessage) ([]models.ResultLink, error) {
	if m.ExtractResultLinksFunc != nil {
		return m.ExtractResultLinksFunc(raw)
	}
	return []models.ResultLink{{Name: "results.zip", URL: "https://example.org/results.zip", SizeBytes: 1024}}, nil
}

// Compile-time check that Adapter implements ProviderAdapter.
var _ models.ProviderAdapter = (*Adapter)(nil)
