package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mamanambiya/federated-imputation/internal/config"
	"github.com/mamanambiya/federated-imputation/internal/notify"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// Poller periodically re-reads the status of every submitted, non-terminal
// job from its provider and applies state transitions.
type Poller struct {
	orch *Orchestrator
	cfg  config.PollerConfig
}

func NewPoller(orch *Orchestrator, cfg config.PollerConfig) *Poller {
	return &Poller{orch: orch, cfg: cfg}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep polls every pollable job with bounded concurrency. A failure on one
// job never aborts the sweep.
func (p *Poller) Sweep(ctx context.Context) {
	jobs, err := p.orch.store.ListPollableJobs(ctx)
	if err != nil {
		slog.Error("listing pollable jobs failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := p.orch.pollJob(gCtx, job); err != nil {
				slog.Warn("polling job failed", "job_id", job.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("poll sweep complete", "jobs", len(jobs))
}

// pollJob fetches the provider's view of one job and reconciles local state.
// Provider errors leave the job untouched for the next sweep.
func (o *Orchestrator) pollJob(ctx context.Context, job *models.Job) error {
	unlock := o.locks.lock(job.ID)
	defer unlock()

	// Re-read under the lock: a concurrent cancel or retry may have moved
	// the job since the sweep listed it.
	job, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if models.TerminalJobStatus(job.Status) || job.ExternalJobID == nil {
		return nil
	}

	svc, err := o.store.GetServiceByID(ctx, job.ServiceID)
	if err != nil {
		return fmt.Errorf("loading service: %w", err)
	}
	adapter, err := o.adapters.ForType(svc.APIType)
	if err != nil {
		return err
	}

	statusCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	defer cancel()

	result, err := adapter.CheckStatus(statusCtx, svc.BaseURL, *job.ExternalJobID, o.credentialFor(ctx, job))
	if err != nil {
		return fmt.Errorf("checking status with %s: %w", svc.Slug, err)
	}

	changed := result.Status != job.Status ||
		result.Progress != job.ProgressPercentage ||
		(result.Message != "" && (job.ErrorMessage == nil || *job.ErrorMessage != result.Message))
	if !changed {
		return nil
	}

	now := time.Now().UTC()
	opts := []store.JobUpdateOption{
		store.WithProgress(result.Progress),
		store.WithServiceResponse(result.RawResponse),
	}

	switch result.Status {
	case models.JobStatusRunning:
		if job.StartedAt == nil {
			opts = append(opts, store.WithStartedAt(now))
		}
	case models.JobStatusCompleted:
		opts = append(opts, store.WithProgress(100), store.WithCompletedAt(now))
		opts = append(opts, o.executionTimeOpt(job, now)...)

		links, lerr := adapter.ExtractResultLinks(result.RawResponse)
		if lerr != nil {
			// Result extraction is best-effort: the job completed and the
			// raw response is preserved for manual recovery.
			slog.Warn("extracting result links failed", "job_id", job.ID, "error", lerr)
		} else if len(links) > 0 {
			if raw, merr := json.Marshal(links); merr == nil {
				opts = append(opts, store.WithResultLinks(raw))
			}
		}
	case models.JobStatusFailed, models.JobStatusCancelled:
		opts = append(opts, store.WithCompletedAt(now))
		opts = append(opts, o.executionTimeOpt(job, now)...)
		if result.Message != "" {
			opts = append(opts, store.WithErrorMessage(result.Message))
		}
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, result.Status, opts...); err != nil {
		return fmt.Errorf("persisting status: %w", err)
	}

	if len(result.Steps) > 0 {
		logs := make([]models.JobLog, 0, len(result.Steps))
		for _, step := range result.Steps {
			logs = append(logs, models.JobLog{
				JobID:     job.ID,
				StepName:  step.StepName,
				StepIndex: step.StepIndex,
				LogType:   step.LogType,
				Message:   step.Message,
				CreatedAt: now,
			})
		}
		if err := o.store.ReplaceJobLogs(ctx, job.ID, logs); err != nil {
			slog.Error("replacing job logs failed", "job_id", job.ID, "error", err)
		}
	}

	_ = o.cache.SetJobStatus(ctx, job.ID, result.Status, statusCacheTTL)
	o.appendUpdate(ctx, job.ID, result.Status, result.Progress, result.Message, result.RawResponse)
	o.notifier.JobStatusChanged(ctx, notify.JobEvent{
		JobID:       job.ID,
		UserID:      job.UserID,
		ServiceID:   job.ServiceID,
		ParentJobID: job.ParentJobID,
		OldStatus:   job.Status,
		NewStatus:   result.Status,
		Progress:    result.Progress,
		Message:     result.Message,
		OccurredAt:  now,
	})

	if result.Status != job.Status {
		slog.Info("job status changed", "job_id", job.ID, "from", job.Status, "to", result.Status,
			"progress", result.Progress)
	}
	if models.TerminalJobStatus(result.Status) {
		o.userTokens.Delete(job.ID)
	}
	if job.ParentJobID != nil {
		o.recomputeParent(ctx, *job.ParentJobID)
	}
	return nil
}

func (o *Orchestrator) executionTimeOpt(job *models.Job, completedAt time.Time) []store.JobUpdateOption {
	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	return []store.JobUpdateOption{store.WithExecutionTime(int64(completedAt.Sub(started).Seconds()))}
}
