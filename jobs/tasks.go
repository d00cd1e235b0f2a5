package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bugtrail/bugtrail/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyAssignment is the task type for bug assignment notifications.
	TaskTypeNotifyAssignment = "notify:assignment"
	// TaskTypeAnalyticsWarmup is the task type for refreshing the analytics cache.
	TaskTypeAnalyticsWarmup = "analytics:warmup"
)

// NotifyAssignmentPayload describes a bug assignment to announce.
type NotifyAssignmentPayload struct {
	BugID      string `json:"bug_id"`
	BugTitle   string `json:"bug_title"`
	Severity   string `json:"severity"`
	AssigneeID string `json:"assignee_id"`
}

// NewNotifyAssignmentTask constructs an Asynq task.
func NewNotifyAssignmentTask(payload NotifyAssignmentPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyAssignment, data), nil
}

// NewAnalyticsWarmupTask constructs the cache warmup task.
func NewAnalyticsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAnalyticsWarmup, nil)
}

// Mailer delivers a notification to a user.
type Mailer interface {
	NotifyUser(ctx context.Context, userID, subject, body string) error
}

// StatsWarmer precomputes the analytics aggregates.
type StatsWarmer interface {
	Warmup(ctx context.Context) error
}

// NewNotifyAssignmentHandler processes TaskTypeNotifyAssignment tasks.
func NewNotifyAssignmentHandler(logger *slog.Logger, mailer Mailer, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("notify_assignment")
		var payload NotifyAssignmentPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		err := mailer.NotifyUser(ctx, payload.AssigneeID,
			"Bug assigned: "+payload.BugTitle,
			"You have been assigned bug "+payload.BugID+" ("+payload.Severity+").")
		if err != nil {
			logger.Error("notify assignment", slog.String("bug_id", payload.BugID), slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// NewAnalyticsWarmupHandler processes TaskTypeAnalyticsWarmup tasks.
func NewAnalyticsWarmupHandler(logger *slog.Logger, warmer StatsWarmer, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("analytics_warmup")
		err := warmer.Warmup(ctx)
		if err != nil {
			logger.Error("analytics warmup", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
