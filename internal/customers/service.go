package customers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// RepositoryPort defines data access for customer aggregates.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Customer, error)
	// ApplyInvoiceDelta shifts totalInvoiced and outstandingBalance by the
	// same amount and advances lastInvoiceDate monotonically.
	ApplyInvoiceDelta(ctx context.Context, id int64, delta float64, at time.Time) error
	// ApplyPaymentDelta shifts totalPaid up and outstandingBalance down by
	// delta and advances lastPaymentDate monotonically.
	ApplyPaymentDelta(ctx context.Context, id int64, delta float64, at time.Time) error
	// RecomputeAggregates derives the true aggregate from non-cancelled
	// invoices and their payments.
	RecomputeAggregates(ctx context.Context, id int64) (Aggregates, error)
	SetAggregates(ctx context.Context, id int64, agg Aggregates) error
}

// Service maintains per-customer running totals as deltas; the hot path
// never recomputes from scratch.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get returns a customer with its cached aggregate.
func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	if id == 0 {
		return nil, errors.New("customers: id required")
	}
	return s.repo.Get(ctx, id)
}

// ApplyInvoiceCreated records a new invoice's contribution.
func (s *Service) ApplyInvoiceCreated(ctx context.Context, id int64, total float64, at time.Time) error {
	return s.repo.ApplyInvoiceDelta(ctx, id, total, at)
}

// ApplyTotalChanged adjusts for an invoice total edit by the delta
// between old and new amounts.
func (s *Service) ApplyTotalChanged(ctx context.Context, id int64, oldTotal, newTotal float64) error {
	delta := newTotal - oldTotal
	if math.Abs(delta) < 1e-9 {
		return nil
	}
	return s.repo.ApplyInvoiceDelta(ctx, id, delta, time.Time{})
}

// ApplyPaymentAdded records a payment's contribution.
func (s *Service) ApplyPaymentAdded(ctx context.Context, id int64, amount float64, at time.Time) error {
	return s.repo.ApplyPaymentDelta(ctx, id, amount, at)
}

// ApplyPaymentChanged adjusts for an edited payment amount.
func (s *Service) ApplyPaymentChanged(ctx context.Context, id int64, oldAmount, newAmount float64) error {
	delta := newAmount - oldAmount
	if math.Abs(delta) < 1e-9 {
		return nil
	}
	return s.repo.ApplyPaymentDelta(ctx, id, delta, time.Time{})
}

// ApplyPaymentRemoved reverses a deleted payment.
func (s *Service) ApplyPaymentRemoved(ctx context.Context, id int64, amount float64) error {
	return s.repo.ApplyPaymentDelta(ctx, id, -amount, time.Time{})
}

// ReverseInvoice removes an invoice's full contribution on deletion or
// cancellation, paid portion included.
func (s *Service) ReverseInvoice(ctx context.Context, id int64, total, paid float64) error {
	if err := s.repo.ApplyInvoiceDelta(ctx, id, -total, time.Time{}); err != nil {
		return err
	}
	if paid > 0 {
		return s.repo.ApplyPaymentDelta(ctx, id, -paid, time.Time{})
	}
	return nil
}

// Reconcile recomputes the aggregate from invoice truth and overwrites
// the cache when it drifted. It returns whether a correction was made.
func (s *Service) Reconcile(ctx context.Context, id int64) (bool, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	truth, err := s.repo.RecomputeAggregates(ctx, id)
	if err != nil {
		return false, err
	}
	if aggregatesMatch(current, truth) {
		return false, nil
	}
	if s.logger != nil {
		s.logger.Warn("customer aggregate drift corrected",
			slog.Int64("customer_id", id),
			slog.Float64("cached_invoiced", current.TotalInvoiced),
			slog.Float64("true_invoiced", truth.TotalInvoiced),
			slog.Float64("cached_paid", current.TotalPaid),
			slog.Float64("true_paid", truth.TotalPaid))
	}
	if err := s.repo.SetAggregates(ctx, id, truth); err != nil {
		return false, err
	}
	return true, nil
}

func aggregatesMatch(c *Customer, truth Aggregates) bool {
	const eps = 0.005
	return math.Abs(c.TotalInvoiced-truth.TotalInvoiced) < eps &&
		math.Abs(c.TotalPaid-truth.TotalPaid) < eps &&
		math.Abs(c.OutstandingBalance-truth.OutstandingBalance) < eps
}
