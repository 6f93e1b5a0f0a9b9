// Package jobs hosts the asynq worker: outbox replay, the periodic
// outbox sweep, and the customer aggregate reconciliation cron.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOutboxSweep re-drives every unapplied outbox entry.
	TaskOutboxSweep = "outbox:sweep"
	// TaskReconcileAggregates recomputes customer financial caches.
	TaskReconcileAggregates = "customers:reconcile"
)

// SideEffectApplier replays one recorded side effect.
type SideEffectApplier interface {
	ApplySideEffect(ctx context.Context, e outbox.Entry) error
}

// OutboxStore is the slice of the outbox store the jobs need.
type OutboxStore interface {
	Get(ctx context.Context, id string) (outbox.Entry, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	ListUnapplied(ctx context.Context, limit int) ([]outbox.Entry, error)
}

// OutboxApplyJob replays a single outbox entry on demand.
type OutboxApplyJob struct {
	store   OutboxStore
	applier SideEffectApplier
	logger  *slog.Logger
}

// NewOutboxApplyJob constructs the job.
func NewOutboxApplyJob(store OutboxStore, applier SideEffectApplier, logger *slog.Logger) *OutboxApplyJob {
	return &OutboxApplyJob{store: store, applier: applier, logger: logger}
}

// Handle processes outbox.TaskTypeApply tasks.
func (j *OutboxApplyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload outbox.ApplyTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	entry, err := j.store.Get(ctx, payload.EntryID)
	if err != nil {
		if errors.Is(err, outbox.ErrEntryNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	if entry.Status == outbox.StatusDone {
		return nil
	}
	return j.apply(ctx, entry)
}

func (j *OutboxApplyJob) apply(ctx context.Context, entry outbox.Entry) error {
	if err := j.applier.ApplySideEffect(ctx, entry); err != nil {
		if markErr := j.store.MarkFailed(ctx, entry.ID, err); markErr != nil {
			j.logger.Error("mark outbox entry failed", slog.String("entry_id", entry.ID), slog.Any("error", markErr))
		}
		j.logger.Warn("outbox replay failed",
			slog.String("entry_id", entry.ID),
			slog.String("kind", string(entry.Kind)),
			slog.Int("attempts", entry.Attempts+1),
			slog.Any("error", err))
		return err
	}
	if err := j.store.MarkDone(ctx, entry.ID); err != nil {
		j.logger.Error("mark outbox entry done", slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
	j.logger.Info("outbox entry applied",
		slog.String("entry_id", entry.ID),
		slog.String("kind", string(entry.Kind)))
	return nil
}

// NewOutboxSweepTask builds the periodic sweep task.
func NewOutboxSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxSweep, nil)
}

// OutboxSweepJob walks unapplied entries and retries them. It backs the
// cron schedule so entries whose enqueue was itself lost still converge.
type OutboxSweepJob struct {
	apply *OutboxApplyJob
	store OutboxStore
}

// NewOutboxSweepJob constructs the sweep job.
func NewOutboxSweepJob(store OutboxStore, applier SideEffectApplier, logger *slog.Logger) *OutboxSweepJob {
	return &OutboxSweepJob{
		apply: NewOutboxApplyJob(store, applier, logger),
		store: store,
	}
}

// Handle processes TaskOutboxSweep tasks.
func (j *OutboxSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	entries, err := j.store.ListUnapplied(ctx, 200)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		// A single stuck entry must not block the rest of the sweep.
		_ = j.apply.apply(ctx, entry)
	}
	return nil
}
