package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Reconciler recomputes one customer's cached financial aggregates.
type Reconciler interface {
	Reconcile(ctx context.Context, id int64) (bool, error)
}

// CustomerLister enumerates customers for the reconciliation sweep.
type CustomerLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

// NewReconcileAggregatesTask builds the periodic reconciliation task.
func NewReconcileAggregatesTask() *asynq.Task {
	return asynq.NewTask(TaskReconcileAggregates, nil)
}

// ReconcileAggregatesJob walks every customer and repairs aggregate
// drift left behind by lost side effects.
type ReconcileAggregatesJob struct {
	reconciler Reconciler
	customers  CustomerLister
	logger     *slog.Logger
}

// NewReconcileAggregatesJob constructs the job.
func NewReconcileAggregatesJob(reconciler Reconciler, customers CustomerLister, logger *slog.Logger) *ReconcileAggregatesJob {
	return &ReconcileAggregatesJob{reconciler: reconciler, customers: customers, logger: logger}
}

// Handle processes TaskReconcileAggregates tasks.
func (j *ReconcileAggregatesJob) Handle(ctx context.Context, _ *asynq.Task) error {
	ids, err := j.customers.ListIDs(ctx)
	if err != nil {
		return err
	}
	var corrected int
	for _, id := range ids {
		fixed, err := j.reconciler.Reconcile(ctx, id)
		if err != nil {
			j.logger.Warn("reconcile customer", slog.Int64("customer_id", id), slog.Any("error", err))
			continue
		}
		if fixed {
			corrected++
		}
	}
	j.logger.Info("aggregate reconciliation finished",
		slog.Int("customers", len(ids)),
		slog.Int("corrected", corrected))
	return nil
}
