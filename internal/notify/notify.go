// Package notify emits job status-change events. Delivery fan-out (email,
// websockets) is another system's job; this package only publishes.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mamanambiya/federated-imputation/internal/cache"
)

// JobEvent is the payload published on every observed status change.
type JobEvent struct {
	JobID       uuid.UUID  `json:"job_id"`
	UserID      uuid.UUID  `json:"user_id"`
	ServiceID   int64      `json:"service_id"`
	ParentJobID *uuid.UUID `json:"parent_job_id,omitempty"`
	OldStatus   string     `json:"old_status"`
	NewStatus   string     `json:"new_status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Notifier receives job status-change events. Implementations must not
// block the caller for long and must swallow their own delivery failures.
type Notifier interface {
	JobStatusChanged(ctx context.Context, event JobEvent)
}

// RedisNotifier publishes events on the jobs:events pub/sub channel.
type RedisNotifier struct {
	cache cache.Cache
}

func NewRedisNotifier(c cache.Cache) *RedisNotifier {
	return &RedisNotifier{cache: c}
}

func (n *RedisNotifier) JobStatusChanged(ctx context.Context, event JobEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("encoding job event failed", "job_id", event.JobID, "error", err)
		return
	}
	if err := n.cache.Publish(ctx, cache.JobEventsChannel, payload); err != nil {
		slog.Warn("publishing job event failed", "job_id", event.JobID, "error", err)
	}
}

// LogNotifier records events via slog. Used when Redis is absent (tests).
type LogNotifier struct{}

func (LogNotifier) JobStatusChanged(_ context.Context, event JobEvent) {
	slog.Info("job status changed",
		"job_id", event.JobID,
		"old_status", event.OldStatus,
		"new_status", event.NewStatus,
		"progress", event.Progress,
	)
}

var _ Notifier = (*RedisNotifier)(nil)
var _ Notifier = LogNotifier{}
