package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mamanambiya/federated-imputation/internal/upstream"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

const probeBodyLimit = 64 * 1024

// ProbeResult is one classified health observation.
type ProbeResult struct {
	Status         string
	ResponseTimeMS int64
	ErrorMessage   string
	Resources      *ResourceHints
}

// ResourceHints are capacity figures opportunistically harvested from a
// probe response body. All fields optional; absence is not an error.
type ResourceHints struct {
	CPU       *int
	MemoryGB  *float64
	StorageGB *float64
	Queue     *int
}

// Prober issues health checks against provider endpoints. The dial and TLS
// timeouts are generous because some imputation servers take tens of
// seconds to complete a handshake under load; the header timeout is kept
// short so a connected-but-wedged server is classified quickly.
type Prober struct {
	client *http.Client
	// budget caps a whole probe, body read included, so a server that
	// returns headers and then stalls the body cannot wedge a sweep.
	budget time.Duration
}

func NewProber(connectTimeout, readTimeout time.Duration) *Prober {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Prober{
		client: &http.Client{Transport: transport},
		budget: connectTimeout + readTimeout,
	}
}

// ProbeURL builds the provider-appropriate health endpoint.
func ProbeURL(svc *models.Service) string {
	base := strings.TrimRight(svc.BaseURL, "/")
	switch svc.APIType {
	case models.APITypeMichigan:
		return base + "/api/"
	case models.APITypeGA4GH:
		return base + "/service-info"
	case models.APITypeDNASTACK:
		return base
	}
	return base + "/health"
}

// Probe checks one service and classifies the outcome. A Michigan 401 is
// healthy: the API answered and merely wants auth, which is all a probe can
// ask of it.
func (p *Prober) Probe(ctx context.Context, svc *models.Service) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProbeURL(svc), nil)
	if err != nil {
		return ProbeResult{Status: models.HealthStatusUnhealthy, ErrorMessage: err.Error()}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if upstream.IsTimeout(err) {
			return ProbeResult{
				Status:         models.HealthStatusTimeout,
				ResponseTimeMS: elapsed,
				ErrorMessage:   fmt.Sprintf("health check timed out after %dms", elapsed),
			}
		}
		return ProbeResult{
			Status:         models.HealthStatusUnhealthy,
			ResponseTimeMS: elapsed,
			ErrorMessage:   err.Error(),
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
	if readErr != nil && upstream.IsTimeout(readErr) {
		return ProbeResult{
			Status:         models.HealthStatusTimeout,
			ResponseTimeMS: elapsed,
			ErrorMessage:   fmt.Sprintf("reading health response timed out: %v", readErr),
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 202:
		return ProbeResult{
			Status:         models.HealthStatusHealthy,
			ResponseTimeMS: elapsed,
			Resources:      parseResourceHints(body),
		}
	case resp.StatusCode == http.StatusUnauthorized && svc.APIType == models.APITypeMichigan:
		return ProbeResult{
			Status:         models.HealthStatusHealthy,
			ResponseTimeMS: elapsed,
		}
	}

	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		msg = fmt.Sprintf("%s: %s", msg, trimmed)
	}
	return ProbeResult{
		Status:         models.HealthStatusUnhealthy,
		ResponseTimeMS: elapsed,
		ErrorMessage:   msg,
	}
}

// parseResourceHints pulls capacity figures out of a JSON health body when
// present. Providers use a handful of key spellings; anything unrecognized
// is ignored.
func parseResourceHints(body []byte) *ResourceHints {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	hints := &ResourceHints{}
	found := false

	if v, ok := numberField(doc, "cpu", "cpu_available", "cpus"); ok {
		cpu := int(v)
		hints.CPU = &cpu
		found = true
	}
	if v, ok := numberField(doc, "memory", "memory_gb", "memory_available_gb"); ok {
		hints.MemoryGB = &v
		found = true
	}
	if v, ok := numberField(doc, "storage", "storage_gb", "storage_available_gb"); ok {
		hints.StorageGB = &v
		found = true
	}
	if v, ok := numberField(doc, "queue", "queue_length", "queue_current"); ok {
		q := int(v)
		hints.Queue = &q
		found = true
	}

	if !found {
		return nil
	}
	return hints
}

func numberField(doc map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := doc[k]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, true
		}
	}
	return 0, false
}
