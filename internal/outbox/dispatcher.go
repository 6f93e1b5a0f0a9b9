package outbox

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeApply is the asynq task type for replaying one outbox entry.
const TaskTypeApply = "outbox:apply"

// ApplyTaskPayload carries the entry to replay.
type ApplyTaskPayload struct {
	EntryID string `json:"entryId"`
}

// NewApplyTask builds the asynq task for an entry.
func NewApplyTask(entryID string) (*asynq.Task, error) {
	data, err := json.Marshal(ApplyTaskPayload{EntryID: entryID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeApply, data, asynq.MaxRetry(10)), nil
}

// StorePort abstracts entry recording for the dispatcher.
type StorePort interface {
	Record(ctx context.Context, kind Kind, payload any) (Entry, error)
}

// Dispatcher records failed side effects and queues their replay.
// Publishing is itself best-effort: when even the outbox write fails,
// the failure is logged and the drift is left for reconciliation.
type Dispatcher struct {
	store  StorePort
	client *asynq.Client
	logger *slog.Logger
}

// NewDispatcher constructs a dispatcher. client may be nil in setups
// without a worker; entries are then picked up by the sweeping cron.
func NewDispatcher(store StorePort, client *asynq.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, client: client, logger: logger}
}

// Publish records the side effect and enqueues its replay.
func (d *Dispatcher) Publish(ctx context.Context, kind Kind, payload any) {
	if d == nil || d.store == nil {
		return
	}
	entry, err := d.store.Record(ctx, kind, payload)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("outbox record failed", slog.String("kind", string(kind)), slog.Any("error", err))
		}
		return
	}
	if d.client == nil {
		return
	}
	task, err := NewApplyTask(entry.ID)
	if err == nil {
		_, err = d.client.EnqueueContext(ctx, task)
	}
	if err != nil && d.logger != nil {
		d.logger.Warn("outbox enqueue failed, entry left for sweep",
			slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
}
