// Package handler contains the HTTP handlers for the orchestration API.
// Handlers validate input, delegate to the orchestrator or store, and map
// domain errors onto the response envelope.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mamanambiya/federated-imputation/internal/api/response"
	"github.com/mamanambiya/federated-imputation/internal/cache"
	"github.com/mamanambiya/federated-imputation/internal/orchestrator"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// JobService is the subset of the orchestrator the job handlers depend on.
type JobService interface {
	CreateJob(ctx context.Context, params orchestrator.CreateJobParams) (*models.Job, error)
	CreateBatch(ctx context.Context, params orchestrator.CreateJobParams, services []string) (*models.Job, []*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

type createJobRequest struct {
	UserID      string   `json:"user_id"`
	Service     string   `json:"service"`
	Services    []string `json:"services,omitempty"`
	Panel       string   `json:"panel"`
	InputFormat string   `json:"input_format"`
	Build       string   `json:"build"`
	Phasing     string   `json:"phasing"`
	Population  string   `json:"population"`
	InputFile   string   `json:"input_file"`
	UserToken   string   `json:"user_token,omitempty"`
}

func (req *createJobRequest) validate() (orchestrator.CreateJobParams, string) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return orchestrator.CreateJobParams{}, "user_id must be a valid UUID"
	}
	if req.Panel == "" {
		return orchestrator.CreateJobParams{}, "panel is required"
	}
	if req.InputFile == "" {
		return orchestrator.CreateJobParams{}, "input_file is required"
	}

	params := orchestrator.CreateJobParams{
		UserID:      userID,
		Service:     req.Service,
		Panel:       req.Panel,
		InputFormat: req.InputFormat,
		Build:       req.Build,
		Phasing:     req.Phasing,
		Population:  req.Population,
		InputFile:   req.InputFile,
		UserToken:   req.UserToken,
	}
	if params.InputFormat == "" {
		params.InputFormat = "vcf"
	}
	if params.Build == "" {
		params.Build = "hg38"
	}
	if params.Phasing == "" {
		params.Phasing = "eagle"
	}
	return params, ""
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Service == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "service is required", nil)
			return
		}

		params, msg := req.validate()
		if msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		job, err := svc.CreateJob(r.Context(), params)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewCreateBatchHandler returns the handler for POST /api/v1/jobs/batch: one
// parent aggregation job plus a child per requested service.
func NewCreateBatchHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Services) < 2 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"services must list at least 2 services", nil)
			return
		}

		params, msg := req.validate()
		if msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		parent, children, err := svc.CreateBatch(r.Context(), params, req.Services)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, map[string]any{
			"parent":   parent,
			"children": children,
		})
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status: q.Get("status"),
			Page:   queryInt(q.Get("page"), 1),
			Limit:  queryInt(q.Get("limit"), defaultPageLimit),
		}
		if filter.Page < 1 {
			filter.Page = 1
		}
		if filter.Limit < 1 || filter.Limit > maxPageLimit {
			filter.Limit = defaultPageLimit
		}
		if sid := q.Get("service_id"); sid != "" {
			id, err := strconv.ParseInt(sid, 10, 64)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "service_id must be numeric", nil)
				return
			}
			filter.ServiceID = id
		}
		if uid := q.Get("user_id"); uid != "" {
			id, err := uuid.Parse(uid)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
				return
			}
			filter.UserID = id
		}

		jobs, total, err := st.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		response.Collection(w, jobs, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}. The
// Redis status cache is consulted first so that hot dashboard polling sees
// fresh state even between database writes.
func NewGetJobHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			writeJobError(w, err)
			return
		}

		if cached, found, cerr := ca.GetJobStatus(r.Context(), jobID); cerr == nil && found {
			job.Status = cached
		}
		response.JSON(w, job)
	}
}

// NewJobStatusUpdatesHandler returns the handler for
// GET /api/v1/jobs/{jobID}/status-updates.
func NewJobStatusUpdatesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}
		if _, err := st.GetJob(r.Context(), jobID); err != nil {
			writeJobError(w, err)
			return
		}

		updates, err := st.ListJobStatusUpdates(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list status updates", nil)
			return
		}
		response.JSON(w, updates)
	}
}

// NewJobLogsHandler returns the handler for GET /api/v1/jobs/{jobID}/logs.
func NewJobLogsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}
		if _, err := st.GetJob(r.Context(), jobID); err != nil {
			writeJobError(w, err)
			return
		}

		logs, err := st.ListJobLogs(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list job logs", nil)
			return
		}
		response.JSON(w, logs)
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := svc.Cancel(r.Context(), jobID)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewRetryJobHandler returns the handler for POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := svc.Retry(r.Context(), jobID)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "jobID")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return jobID, true
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
