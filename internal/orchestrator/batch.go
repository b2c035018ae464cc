package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mamanambiya/federated-imputation/internal/notify"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// AggregateChildren derives a parent job's status and progress from its
// children. Precedence: all completed wins, then any failure, then any
// activity; otherwise the batch is still waiting in queues. Progress is the
// floor of the mean child progress.
func AggregateChildren(children []*models.Job) (status string, progress int) {
	if len(children) == 0 {
		return models.JobStatusQueued, 0
	}

	allCompleted := true
	anyFailed := false
	anyRunning := false
	total := 0
	for _, child := range children {
		total += child.ProgressPercentage
		switch child.Status {
		case models.JobStatusCompleted:
		case models.JobStatusFailed:
			allCompleted = false
			anyFailed = true
		case models.JobStatusRunning:
			allCompleted = false
			anyRunning = true
		default:
			allCompleted = false
		}
	}

	progress = total / len(children)
	switch {
	case allCompleted:
		return models.JobStatusCompleted, progress
	case anyFailed:
		return models.JobStatusFailed, progress
	case anyRunning:
		return models.JobStatusRunning, progress
	default:
		return models.JobStatusQueued, progress
	}
}

// recomputeParent re-derives a parent aggregation job from its children and
// persists the result when it moved. Called after any child transition.
func (o *Orchestrator) recomputeParent(ctx context.Context, parentID uuid.UUID) {
	unlock := o.locks.lock(parentID)
	defer unlock()

	parent, err := o.store.GetJob(ctx, parentID)
	if err != nil {
		slog.Error("loading parent job failed", "job_id", parentID, "error", err)
		return
	}
	children, err := o.store.ListChildJobs(ctx, parentID)
	if err != nil {
		slog.Error("listing child jobs failed", "job_id", parentID, "error", err)
		return
	}
	if len(children) == 0 {
		return
	}

	status, progress := AggregateChildren(children)
	if status == parent.Status && progress == parent.ProgressPercentage {
		return
	}

	now := time.Now().UTC()
	opts := []store.JobUpdateOption{store.WithProgress(progress)}
	switch {
	case status == models.JobStatusRunning && parent.StartedAt == nil:
		opts = append(opts, store.WithStartedAt(now))
	case models.TerminalJobStatus(status):
		opts = append(opts, store.WithCompletedAt(now))
		opts = append(opts, o.executionTimeOpt(parent, now)...)
		if status == models.JobStatusFailed {
			opts = append(opts, store.WithErrorMessage(childFailureSummary(children)))
		}
	}

	if err := o.store.UpdateJobStatus(ctx, parentID, status, opts...); err != nil {
		slog.Error("persisting parent aggregation failed", "job_id", parentID, "error", err)
		return
	}

	_ = o.cache.SetJobStatus(ctx, parentID, status, statusCacheTTL)
	o.appendUpdate(ctx, parentID, status, progress, "Aggregated from child jobs", nil)
	o.notifier.JobStatusChanged(ctx, notify.JobEvent{
		JobID:      parentID,
		UserID:     parent.UserID,
		ServiceID:  parent.ServiceID,
		OldStatus:  parent.Status,
		NewStatus:  status,
		Progress:   progress,
		OccurredAt: now,
	})
}

// childFailureSummary names the failed children so the parent's error
// message points at the right legs of the batch.
func childFailureSummary(children []*models.Job) string {
	msg := ""
	for _, child := range children {
		if child.Status != models.JobStatusFailed {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		detail := "failed"
		if child.ErrorMessage != nil && *child.ErrorMessage != "" {
			detail = *child.ErrorMessage
		}
		msg += "child " + child.ID.String() + ": " + detail
	}
	return msg
}
