// Package michigan implements the provider adapter for Michigan-style
// Cloudgene imputation servers.
package michigan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/mamanambiya/federated-imputation/internal/upstream"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

const authHeader = "X-Auth-Token"

// Cloudgene job state codes. 3 is "exporting" and 4 "success"; both count
// as completed. 6 is cancelled by user, 7 retired by the server.
const (
	stateWaiting   = 1
	stateRunning   = 2
	stateExporting = 3
	stateSuccess   = 4
	stateError     = 5
	stateCancelled = 6
	stateRetired   = 7
)

// Adapter talks the Cloudgene v2 jobs API.
type Adapter struct {
	client *http.Client
}

func NewAdapter(client *http.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return models.APITypeMichigan }

// Submit posts the job as multipart form data. The refpanel field must be
// the Cloudgene app reference (`apps@{id}@{version}`); a display name or
// numeric id fails provider-side validation without a useful error.
func (a *Adapter) Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmitResult, error) {
	// Genotype files run to gigabytes, so the multipart body is streamed
	// through a pipe instead of being buffered in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeSubmitBody(mw, req))
	}()

	u := fmt.Sprintf("%s/api/v2/jobs/submit/imputationserver2", strings.TrimRight(req.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	setAuth(httpReq, req.Credential)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding submit response: %v", upstream.ErrProtocol, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: submit response missing job id (message: %s)", upstream.ErrProtocol, resp.Message)
	}

	return &models.SubmitResult{ExternalJobID: resp.ID, RawResponse: raw}, nil
}

// writeSubmitBody feeds the multipart writer; it runs in its own goroutine
// and its error surfaces through the pipe as the request body read error.
func writeSubmitBody(mw *multipart.Writer, req models.SubmitRequest) error {
	part, err := mw.CreateFormFile("files", req.InputName)
	if err != nil {
		return fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, req.Input); err != nil {
		return fmt.Errorf("copying input file: %w", err)
	}

	fields := map[string]string{
		"refpanel":   req.PanelName,
		"build":      req.Build,
		"phasing":    req.Phasing,
		"population": req.Population,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("writing form field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}
	return nil
}

// CheckStatus fetches the job document. Cloudgene serves it at
// /api/v2/jobs/{id} directly — there is no /status suffix.
func (a *Adapter) CheckStatus(ctx context.Context, baseURL, externalID string, cred models.Credential) (*models.StatusResult, error) {
	u := fmt.Sprintf("%s/api/v2/jobs/%s", strings.TrimRight(baseURL, "/"), externalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setAuth(httpReq, cred)

	raw, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	var doc jobDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding job document: %v", upstream.ErrProtocol, err)
	}

	status, err := MapState(doc.State)
	if err != nil {
		return nil, err
	}

	result := &models.StatusResult{
		Status:      status,
		RawResponse: raw,
		Steps:       doc.stepLogs(),
	}

	switch status {
	case models.JobStatusQueued:
		result.Progress = 10
	case models.JobStatusRunning:
		result.Progress = runningProgress(doc.Steps)
	case models.JobStatusCompleted:
		result.Progress = 100
		result.Message = "Job completed successfully"
	case models.JobStatusFailed:
		result.Message = firstErrorMessage(doc.Steps)
	case models.JobStatusCancelled:
		result.Message = "Job was cancelled"
	}

	return result, nil
}

func (a *Adapter) Cancel(ctx context.Context, baseURL, externalID string, cred models.Credential) error {
	u := fmt.Sprintf("%s/api/v2/jobs/%s/cancel", strings.TrimRight(baseURL, "/"), externalID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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

// ExtractResultLinks walks outputParams[].files[] for downloadable entries.
// Cloudgene reports human-readable sizes ("82 MB"); they are converted to
// bytes, defaulting to 0 when malformed.
func (a *Adapter) ExtractResultLinks(raw json.RawMessage) ([]models.ResultLink, error) {
	var doc struct {
		OutputParams []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Download    bool   `json:"download"`
			Files       []struct {
				Name string `json:"name"`
				Path string `json:"path"`
				URL  string `json:"url"`
				Hash string `json:"hash"`
				Size string `json:"size"`
			} `json:"files"`
		} `json:"outputParams"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding outputParams: %v", upstream.ErrProtocol, err)
	}

	var links []models.ResultLink
	for _, param := range doc.OutputParams {
		if !param.Download {
			continue
		}
		for _, f := range param.Files {
			url := f.URL
			if url == "" {
				url = f.Path
			}
			links = append(links, models.ResultLink{
				Name:        f.Name,
				URL:         url,
				SizeBytes:   ParseHumanSize(f.Size),
				Hash:        f.Hash,
				Description: param.Description,
			})
		}
	}
	if links == nil {
		return nil, fmt.Errorf("%w: no downloadable outputs in response", upstream.ErrProtocol)
	}
	return links, nil
}

// MapState converts a Cloudgene numeric state code to an internal job
// status. The mapping is total over codes 1..7.
func MapState(state int) (string, error) {
	switch state {
	case stateWaiting:
		return models.JobStatusQueued, nil
	case stateRunning:
		return models.JobStatusRunning, nil
	case stateExporting, stateSuccess:
		return models.JobStatusCompleted, nil
	case stateError:
		return models.JobStatusFailed, nil
	case stateCancelled, stateRetired:
		return models.JobStatusCancelled, nil
	}
	return "", fmt.Errorf("%w: unknown state code %d", upstream.ErrProtocol, state)
}

// runningProgress derives coarse progress from how many pipeline steps have
// produced log output: 10 + 80 * completed/total, capped at 90 until the
// job is terminal.
func runningProgress(steps []step) int {
	if len(steps) == 0 {
		return 10
	}
	completed := 0
	for _, s := range steps {
		if len(s.LogMessages) > 0 {
			completed++
		}
	}
	progress := 10 + (80*completed)/len(steps)
	if progress > 90 {
		progress = 90
	}
	return progress
}

// firstErrorMessage finds the first error-typed log line across all steps.
func firstErrorMessage(steps []step) string {
	for _, s := range steps {
		for _, m := range s.LogMessages {
			if m.logType() == models.LogTypeError {
				return m.Message
			}
		}
	}
	return "Job failed during execution"
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
		req.Header.Set(authHeader, cred.Token)
	}
}

// --- Cloudgene job document ---

type jobDocument struct {
	ID    string `json:"id"`
	State int    `json:"state"`
	Steps []step `json:"steps"`
}

type step struct {
	Name        string       `json:"name"`
	LogMessages []logMessage `json:"logMessages"`
}

type logMessage struct {
	Message string          `json:"message"`
	Type    json.RawMessage `json:"type"`
}

// logType normalizes Cloudgene's message type, which appears as a numeric
// code on older servers (0 ok, 1 error, 2 warning) and a lowercase string
// on newer ones.
func (m logMessage) logType() string {
	var code int
	if err := json.Unmarshal(m.Type, &code); err == nil {
		switch code {
		case 1:
			return models.LogTypeError
		case 2:
			return models.LogTypeWarning
		}
		return models.LogTypeInfo
	}
	var s string
	if err := json.Unmarshal(m.Type, &s); err == nil {
		switch strings.ToLower(s) {
		case "error":
			return models.LogTypeError
		case "warning":
			return models.LogTypeWarning
		}
	}
	return models.LogTypeInfo
}

func (d jobDocument) stepLogs() []models.StepLog {
	var logs []models.StepLog
	for i, s := range d.Steps {
		for _, m := range s.LogMessages {
			logs = append(logs, models.StepLog{
				StepName:  s.Name,
				StepIndex: i,
				LogType:   m.logType(),
				Message:   m.Message,
			})
		}
	}
	return logs
}
