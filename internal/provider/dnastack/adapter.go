// Package dnastack implements the provider adapter for DNASTACK-style job
// APIs, whose status strings already match the internal vocabulary.
package dnastack

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mamanambiya/federated-imputation/internal/upstream"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

var validStatuses = map[string]bool{
	models.JobStatusPending:   true,
	models.JobStatusQueued:    true,
	models.JobStatusRunning:   true,
	models.JobStatusCompleted: true,
	models.JobStatusFailed:    true,
	models.JobStatusCancelled: true,
}

// Adapter talks the DNASTACK jobs API.
type Adapter struct {
	client *http.Client
}

func NewAdapter(client *http.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return models.APITypeDNASTACK }

func (a *Adapter) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	input, err := io.ReadAll(req.Input)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"reference_panel": req.PanelName,
		"input_format":    req.InputFormat,
		"build":           req.Build,
		"phasing":         req.Phasing,
		"population":      req.Population,
		"input_name":      req.InputName,
		"input_data":      base64.StdEncoding.EncodeToString(input),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}

	u := fmt.Sprintf("%s/api/jobs", strings.TrimRight(req.BaseURL, "/"))
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
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding job response: %v", upstream.ErrProtocol, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: job response missing id", upstream.ErrProtocol)
	}

	return &models.SubmitResult{ExternalJobID: resp.ID, RawResponse: raw}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, baseURL, externalID string, cred models.Credential) (*models.StatusResult, error) {
	u := fmt.Sprintf("%s/api/jobs/%s", strings.TrimRight(baseURL, "/"), externalID)
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
		ID       string `json:"id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding job status: %v", upstream.ErrProtocol, err)
	}

	status := strings.ToLower(resp.Status)
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: unknown status %q", upstream.ErrProtocol, resp.Status)
	}

	progress := resp.Progress
	if status == models.JobStatusCompleted {
		progress = 100
	}

	return &models.StatusResult{
		Status:      status,
		Progress:    progress,
		Message:     resp.Message,
		RawResponse: raw,
	}, nil
}

func (a *Adapter) Cancel(ctx context.Context, baseURL, externalID string, cred models.Credential) error {
	u := fmt.Sprintf("%s/api/jobs/%s/cancel", strings.TrimRight(baseURL, "/"), externalID)
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

// ExtractResultLinks reads the results array from the job document.
func (a *Adapter) ExtractResultLinks(raw json.RawMessage) ([]models.ResultLink, error) {
	var doc struct {
		Results []struct {
			Name        string `json:"name"`
			URL         string `json:"url"`
			SizeBytes   int64  `json:"size_bytes"`
			Hash        string `json:"hash"`
			Description string `json:"description"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding results: %v", upstream.ErrProtocol, err)
	}
	if len(doc.Results) == 0 {
		return nil, fmt.Errorf("%w: job document has no results", upstream.ErrProtocol)
	}

	links := make([]models.ResultLink, 0, len(doc.Results))
	for _, r := range doc.Results {
		links = append(links, models.ResultLink{
			Name:        r.Name,
			URL:         r.URL,
			SizeBytes:   r.SizeBytes,
			Hash:        r.Hash,
			Description: r.Description,
		})
	}
	return links, nil
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
