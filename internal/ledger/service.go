package ledger

import (
	"context"
	"errors"
	"time"
)

// RepositoryPort defines data access for the journal.
type RepositoryPort interface {
	Append(ctx context.Context, e Entry) (int64, error)
	UpdateCharge(ctx context.Context, invoiceID int64, amount float64) error
	UpdatePayment(ctx context.Context, invoiceID int64, paymentID string, amount float64, method string, at time.Time) error
	DeletePayment(ctx context.Context, invoiceID int64, paymentID string) error
	DeleteForInvoice(ctx context.Context, invoiceID int64) error
	ListByCustomer(ctx context.Context, customerID int64, includeCancelled bool) ([]Entry, error)
	TotalsByCustomer(ctx context.Context, customerID int64) (Totals, error)
}

// Service synchronises the journal with invoice and payment events.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ChargeInput describes the charge entry appended on invoice creation.
type ChargeInput struct {
	CustomerID    int64
	InvoiceID     int64
	InvoiceNumber string
	Amount        float64
	At            time.Time
}

// RecordCharge appends the 1:1 charge entry for a newly created invoice.
// Quotations never reach the ledger.
func (s *Service) RecordCharge(ctx context.Context, in ChargeInput) error {
	if in.CustomerID == 0 || in.InvoiceID == 0 {
		return errors.New("ledger: customer and invoice required")
	}
	if in.Amount < 0 {
		return errors.New("ledger: charge amount must not be negative")
	}
	_, err := s.repo.Append(ctx, Entry{
		CustomerID:    in.CustomerID,
		InvoiceID:     in.InvoiceID,
		InvoiceNumber: in.InvoiceNumber,
		Type:          EntryCharge,
		Amount:        in.Amount,
		OccurredAt:    in.At,
	})
	return err
}

// UpdateCharge re-aligns the charge entry after an invoice total edit.
func (s *Service) UpdateCharge(ctx context.Context, invoiceID int64, amount float64) error {
	if invoiceID == 0 {
		return errors.New("ledger: invoice required")
	}
	return s.repo.UpdateCharge(ctx, invoiceID, amount)
}

// PaymentInput describes a payment journal entry.
type PaymentInput struct {
	CustomerID    int64
	InvoiceID     int64
	InvoiceNumber string
	PaymentID     string
	Amount        float64
	Method        string
	At            time.Time
}

// RecordPayment appends a payment entry keyed by the payment's stable id.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) error {
	if in.CustomerID == 0 || in.InvoiceID == 0 {
		return errors.New("ledger: customer and invoice required")
	}
	if in.PaymentID == "" {
		return errors.New("ledger: payment id required")
	}
	if in.Amount <= 0 {
		return errors.New("ledger: payment amount must be positive")
	}
	_, err := s.repo.Append(ctx, Entry{
		CustomerID:    in.CustomerID,
		InvoiceID:     in.InvoiceID,
		InvoiceNumber: in.InvoiceNumber,
		Type:          EntryPayment,
		Amount:        in.Amount,
		Method:        in.Method,
		PaymentID:     in.PaymentID,
		OccurredAt:    in.At,
	})
	return err
}

// SyncPaymentUpdate re-aligns the entry for an edited payment.
func (s *Service) SyncPaymentUpdate(ctx context.Context, invoiceID int64, paymentID string, amount float64, method string, at time.Time) error {
	if paymentID == "" {
		return errors.New("ledger: payment id required")
	}
	return s.repo.UpdatePayment(ctx, invoiceID, paymentID, amount, method, at)
}

// RemovePayment drops the entry for a deleted payment. Sibling entries
// keep their keys; no re-keying is needed.
func (s *Service) RemovePayment(ctx context.Context, invoiceID int64, paymentID string) error {
	if paymentID == "" {
		return errors.New("ledger: payment id required")
	}
	return s.repo.DeletePayment(ctx, invoiceID, paymentID)
}

// RemoveInvoice drops all journal entries for a physically deleted
// draft. Cancellation never calls this: cancelled invoices keep their
// entries for audit and are excluded from totals by status filter.
func (s *Service) RemoveInvoice(ctx context.Context, invoiceID int64) error {
	return s.repo.DeleteForInvoice(ctx, invoiceID)
}

// CustomerLedger lists a customer's journal, most recent first.
func (s *Service) CustomerLedger(ctx context.Context, customerID int64, includeCancelled bool) ([]Entry, error) {
	if customerID == 0 {
		return nil, errors.New("ledger: customer required")
	}
	return s.repo.ListByCustomer(ctx, customerID, includeCancelled)
}

// CustomerTotals sums the journal with cancelled invoices excluded.
func (s *Service) CustomerTotals(ctx context.Context, customerID int64) (Totals, error) {
	if customerID == 0 {
		return Totals{}, errors.New("ledger: customer required")
	}
	return s.repo.TotalsByCustomer(ctx, customerID)
}
