package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/customers"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	outboxStore := outbox.NewStore(pool)
	customerRepo := customers.NewRepository(pool)
	customerService := customers.NewService(customerRepo, logger)
	stockService := stock.NewService(stock.NewRepository(pool), logger)
	ledgerService := ledger.NewService(ledger.NewRepository(pool))

	// The worker's billing service only replays recorded side effects;
	// a failed replay stays in the outbox, so no dispatcher is wired.
	billingService := billing.NewService(
		billing.NewRepository(pool),
		sequence.NewService(pool),
		stockService,
		ledgerService,
		customerService,
		nil,
		nil,
		logger,
		billing.ServiceConfig{
			CounterCustomerID: cfg.CounterCustomerID,
			DueDays:           cfg.QuotationDueDays,
		},
	)

	applyJob := jobs.NewOutboxApplyJob(outboxStore, billingService, logger)
	sweepJob := jobs.NewOutboxSweepJob(outboxStore, billingService, logger)
	reconcileJob := jobs.NewReconcileAggregatesJob(customerService, customerRepo, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: outbox.TaskTypeApply, Handler: applyJob.Handle},
			{Type: jobs.TaskOutboxSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskReconcileAggregates, Handler: reconcileJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewOutboxSweepTask()},
			{Spec: cfg.ReconcileCron, Task: jobs.NewReconcileAggregatesTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
