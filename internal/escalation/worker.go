package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/models"
	"followup-escalator/internal/repository"
	"followup-escalator/internal/telemetry"
)

// ErrAllNotificationsFailed fails a check when no recipient could be notified,
// so the queue retries it.
var ErrAllNotificationsFailed = errors.New("all escalation notifications failed")

// TaskReader re-fetches the current state of a follow-up.
type TaskReader interface {
	FindByID(ctx context.Context, id string) (*models.FollowUp, error)
}

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// ActivityRecorder appends to the activity log.
type ActivityRecorder interface {
	Record(ctx context.Context, entry *models.ActivityLog) error
}

// Alerter pages an operator channel about admin-tier escalations. Delivery is
// best effort and never fails the check.
type Alerter interface {
	Alert(ctx context.Context, title, body string) error
}

// WorkerDeps wires a Worker to its stores and sinks. Alerter, Clock and Logger
// are optional.
type WorkerDeps struct {
	Tasks    TaskReader
	Org      OrgStore
	Notifier Notifier
	Activity ActivityRecorder
	Alerter  Alerter
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Worker processes escalation checks.
type Worker struct {
	tasks    TaskReader
	org      OrgStore
	notifier Notifier
	activity ActivityRecorder
	alerter  Alerter
	clock    clock.Clock
	policy   Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewWorker(deps WorkerDeps, policy Policy) *Worker {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		tasks:    deps.Tasks,
		org:      deps.Org,
		notifier: deps.Notifier,
		activity: deps.Activity,
		alerter:  deps.Alerter,
		clock:    clk,
		policy:   policy,
		logger:   logger.With("component", "escalation-worker"),
		tracer:   telemetry.Tracer(),
	}
}

// Handle adapts Process to the job processor's handler signature.
func (w *Worker) Handle(ctx context.Context, job models.Job) (any, error) {
	var payload models.EscalationJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode escalation payload for job %s: %w", job.ID, err)
	}
	return w.Process(ctx, payload)
}

// Process runs one escalation check. The follow-up is always re-read from the
// store, so stale or duplicate deliveries are safe: a completed, deleted or
// not-yet-due follow-up is skipped without side effects.
func (w *Worker) Process(ctx context.Context, job models.EscalationJob) (models.EscalationResult, error) {
	ctx, span := w.tracer.Start(ctx, "escalation.process", trace.WithAttributes(
		attribute.String("followup.id", job.FollowUpID),
	))
	defer span.End()

	result := models.EscalationResult{FollowUpID: job.FollowUpID}
	fail := func(err error) (models.EscalationResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	task, err := w.tasks.FindByID(ctx, job.FollowUpID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return w.skip(span, result, models.SkipNotFound), nil
	case err != nil:
		return fail(fmt.Errorf("load follow-up %s: %w", job.FollowUpID, err))
	}
	if task.Completed {
		return w.skip(span, result, models.SkipCompleted), nil
	}

	now := w.clock.Now()
	if task.ScheduledDate.After(now) {
		return w.skip(span, result, models.SkipNotYetDue), nil
	}

	result.HoursOverdue = HoursOverdue(task.ScheduledDate, now)
	result.Tier = w.policy.Classify(result.HoursOverdue)
	span.SetAttributes(
		attribute.String("escalation.tier", string(result.Tier)),
		attribute.Int("escalation.hours_overdue", result.HoursOverdue),
	)

	recipients, err := ResolveRecipients(ctx, w.org, result.Tier, task.AssignedToID)
	if err != nil {
		return fail(err)
	}

	title := task.Title
	if title == "" {
		title = job.Title
	}
	assignee := task.AssignedTo.DisplayName()
	if task.AssignedTo.ID == "" {
		assignee = task.AssignedToID
	}
	entityType, entityID, entityName := task.EntityContext()
	msg := ComposeMessage(result.Tier, title, assignee, result.HoursOverdue, entityName)

	failed := w.dispatch(ctx, recipients, msg)
	result.Notified = len(recipients) - len(failed)
	result.FailedRecipients = failed
	if len(recipients) > 0 && len(failed) == len(recipients) {
		return fail(fmt.Errorf("%w: follow-up %s, %d recipients", ErrAllNotificationsFailed, task.ID, len(recipients)))
	}
	if len(recipients) == 0 {
		w.logger.WarnContext(ctx, "escalation has no recipients", "followup_id", task.ID, "tier", result.Tier)
	}

	event := models.EscalationEvent{
		FollowUpID:    task.ID,
		AssignedToID:  task.AssignedToID,
		EntityName:    entityName,
		Tier:          result.Tier,
		HoursOverdue:  result.HoursOverdue,
		NotifiedCount: result.Notified,
		FailedCount:   len(failed),
	}
	meta, err := json.Marshal(event)
	if err != nil {
		return fail(fmt.Errorf("encode escalation event: %w", err))
	}
	entry := &models.ActivityLog{
		Action:      models.ActionFollowUpEscalated,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: fmt.Sprintf("Follow-up %q escalated to %s tier (%d hours overdue)", title, result.Tier, result.HoursOverdue),
		Metadata:    datatypes.JSON(meta),
	}
	if err := w.activity.Record(ctx, entry); err != nil {
		return fail(fmt.Errorf("record escalation activity: %w", err))
	}

	telemetry.EscalationsByTier.WithLabelValues(string(result.Tier)).Inc()
	if result.Tier == models.TierAdmin && w.alerter != nil {
		if err := w.alerter.Alert(ctx, msg.Title, msg.Body); err != nil {
			w.logger.WarnContext(ctx, "critical alert not delivered", "followup_id", task.ID, "error", err)
		}
	}

	w.logger.InfoContext(ctx, "follow-up escalated",
		"followup_id", task.ID,
		"tier", result.Tier,
		"hours_overdue", result.HoursOverdue,
		"notified", result.Notified,
		"failed", len(failed),
	)
	return result, nil
}

func (w *Worker) skip(span trace.Span, result models.EscalationResult, reason string) models.EscalationResult {
	result.Skipped = true
	result.SkipReason = reason
	span.SetAttributes(attribute.String("escalation.skip_reason", reason))
	telemetry.WorkerSkipped.Inc()
	w.logger.Info("escalation skipped", "followup_id", result.FollowUpID, "reason", reason)
	return result
}

// dispatch notifies every recipient concurrently and returns the ids that
// failed. One failure never cancels the others.
func (w *Worker) dispatch(ctx context.Context, recipients []string, msg Message) []string {
	errs := make([]error, len(recipients))
	var g errgroup.Group
	for i, userID := range recipients {
		i, userID := i, userID
		g.Go(func() error {
			errs[i] = w.notifier.Notify(ctx, models.Notification{
				UserID:   userID,
				Type:     models.NotificationOverdueTask,
				Channel:  models.ChannelInApp,
				Priority: msg.Priority,
				Title:    msg.Title,
				Message:  msg.Body,
			})
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err == nil {
			telemetry.NotificationsSent.Inc()
			continue
		}
		telemetry.NotificationsFail.Inc()
		failed = append(failed, recipients[i])
		w.logger.WarnContext(ctx, "notification failed", "user_id", recipients[i], "error", err)
	}
	return failed
}

// Describe is a one-line summary of a result for logs and the CLI.
func Describe(r models.EscalationResult) string {
	if r.Skipped {
		return fmt.Sprintf("follow-up %s skipped (%s)", r.FollowUpID, r.SkipReason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "follow-up %s: %s tier, %d hours overdue, %d notified", r.FollowUpID, r.Tier, r.HoursOverdue, r.Notified)
	if len(r.FailedRecipients) > 0 {
		fmt.Fprintf(&b, ", %d failed", len(r.FailedRecipients))
	}
	return b.String()
}
