// Package ga4gh implements the provider adapter for GA4GH Workflow
// Execution Service (WES) endpoints.
package ga4gh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mamanambiya/federated-imputation/internal/upstream"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// WES run states as defined by GA4GH WES 1.x.
var stateMap = map[string]string{
	"QUEUED":         models.JobStatusQueued,
	"INITIALIZING":   models.JobStatusQueued,
	"RUNNING":        models.JobStatusRunning,
	"PAUSED":         models.JobStatusRunning,
	"COMPLETE":       models.JobStatusCompleted,
	"EXECUTOR_ERROR": models.JobStatusFailed,
	"SYSTEM_ERROR":   models.JobStatusFailed,
	"CANCELED":       models.JobStatusCancelled,
}

// Adapter talks the WES v1 runs API.
type Adapter struct {
	client *http.Client
}

func NewAdapter(client *http.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return models.APITypeGA4GH }

// Submit posts a workflow-params envelope to /ga4gh/wes/v1/runs. The input
// file is uploaded inline as a base64 attachment inside the params envelope;
// WES servers that require staged URLs reject this with a 4xx that surfaces
// directly as a failed job.
func (a *Adapter) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	input, err := io.ReadAll(req.Input)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}

	envelope := map[string]any{
		"workflow_type":         "imputation",
		"workflow_type_version": "1.0",
		"workflow_params": map[string]any{
			"reference_panel": req.PanelName,
			"input_format":    req.InputFormat,
			"build":           req.Build,
			"phasing":         req.Phasing,
			"population":      req.Population,
			"input_name":      req.InputName,
			"input_data":      input,
		},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow params: %w", err)
	}

	u := fmt.Sprintf("%s/ga4gh/wes/v1/runs", strings.TrimRight(req.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, req.Credential)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding run response: %v", upstream.ErrProtocol, err)
	}
	if resp.RunID == "" {
		return nil, fmt.Errorf("%w: run response missing run_id", upstream.ErrProtocol)
	}

	return &models.SubmitResult{ExternalJobID: resp.RunID, RawResponse: raw}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, baseURL, externalID string, cred models.Credential) (*models.StatusResult, error) {
	u := fmt.Sprintf("%s/ga4gh/wes/v1/runs/%s/status", strings.TrimRight(baseURL, "/"), externalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setAuth(httpReq, cred)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		RunID string `json:"run_id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding run status: %v", upstream.ErrProtocol, err)
	}

	status, err := MapState(resp.State)
	if err != nil {
		return nil, err
	}

	result := &models.StatusResult{Status: status, RawResponse: raw}
	switch status {
	case models.JobStatusQueued:
		result.Progress = 10
	case models.JobStatusRunning:
		result.Progress = 50
	case models.JobStatusCompleted:
		result.Progress = 100
	case models.JobStatusFailed:
		result.Message = fmt.Sprintf("Workflow ended in state %s", resp.State)
	case models.JobStatusCancelled:
		result.Message = "Workflow run was canceled"
	}
	return result, nil
}

func (a *Adapter) Cancel(ctx context.Context, baseURL, externalID string, cred models.Credential) error {
	u := fmt.Sprintf("%s/ga4gh/wes/v1/runs/%s/cancel", strings.TrimRight(baseURL, "/"), externalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	setAuth(httpReq, cred)

	_, err = a.do(httpReq)
	return err
}

func (a *Adapter) DownloadResults(ctx context.Context, url string, cred models.Credential) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setAuth(httpReq, cred)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstream.Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		resp.Body.Close()
		return nil, &upstream.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// ExtractResultLinks reads the run log's outputs object. WES reports
// outputs as a free-form map; string values are treated as downloadable
// URLs keyed by output name.
func (a *Adapter) ExtractResultLinks(raw json.RawMessage) ([]models.ResultLink, error) {
	var doc struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding run log: %v", upstream.ErrProtocol, err)
	}

	var links []models.ResultLink
	for name, v := range doc.Outputs {
		var url string
		if err := json.Unmarshal(v, &url); err != nil || url == "" {
			continue
		}
		links = append(links, models.ResultLink{Name: name, URL: url})
	}
	if links == nil {
		return nil, fmt.Errorf("%w: run log has no string outputs", upstream.ErrProtocol)
	}
	return links, nil
}

// MapState converts a WES run state to an internal job status.
func MapState(state string) (string, error) {
	status, ok := stateMap[strings.ToUpper(state)]
	if !ok {
		return "", fmt.Errorf("%w: unknown WES state %q", upstream.ErrProtocol, state)
	}
	return status, nil
}

func (a *Adapter) do(req *http.Request) (json.RawMessage, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, upstream.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		trimmed := body
		if len(trimmed) > 300 {
			trimmed = trimmed[:300]
		}
		return nil, &upstream.HTTPError{StatusCode: resp.StatusCode, Body: string(trimmed)}
	}
	return body, nil
}

func setAuth(req *http.Request, cred models.Credential) {
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
}
