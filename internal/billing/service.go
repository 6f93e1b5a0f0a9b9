package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/customers"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RepositoryPort defines data access for documents.
type RepositoryPort interface {
	Create(ctx context.Context, inv *Invoice) (int64, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	Update(ctx context.Context, inv *Invoice) error
	UpdateStatus(ctx context.Context, id int64, status Status, reason string) error
	Delete(ctx context.Context, id int64) error
	MarkConverted(ctx context.Context, quotationID, invoiceID int64) error
	SetStockDeducted(ctx context.Context, id int64, deducted bool) error
}

// SequencePort issues document numbers.
type SequencePort interface {
	Next(ctx context.Context, prefix string, year int) (string, error)
	Peek(ctx context.Context, prefix string, year int) (string, error)
}

// AllocatorPort is the FIFO stock allocator.
type AllocatorPort interface {
	Deduct(ctx context.Context, items []stock.Item) stock.Result
	Restore(ctx context.Context, items []stock.Item) stock.Result
	VirtualAvailability(ctx context.Context, virtualID int64) (int64, error)
}

// LedgerPort synchronises the customer journal.
type LedgerPort interface {
	RecordCharge(ctx context.Context, in ledger.ChargeInput) error
	UpdateCharge(ctx context.Context, invoiceID int64, amount float64) error
	RecordPayment(ctx context.Context, in ledger.PaymentInput) error
	SyncPaymentUpdate(ctx context.Context, invoiceID int64, paymentID string, amount float64, method string, at time.Time) error
	RemovePayment(ctx context.Context, invoiceID int64, paymentID string) error
	RemoveInvoice(ctx context.Context, invoiceID int64) error
}

// AggregatePort maintains the customer financial cache.
type AggregatePort interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
	ApplyInvoiceCreated(ctx context.Context, id int64, total float64, at time.Time) error
	ApplyTotalChanged(ctx context.Context, id int64, oldTotal, newTotal float64) error
	ApplyPaymentAdded(ctx context.Context, id int64, amount float64, at time.Time) error
	ApplyPaymentChanged(ctx context.Context, id int64, oldAmount, newAmount float64) error
	ApplyPaymentRemoved(ctx context.Context, id int64, amount float64) error
	ReverseInvoice(ctx context.Context, id int64, total, paid float64) error
}

// OutboxPort records failed side effects for replay.
type OutboxPort interface {
	Publish(ctx context.Context, kind outbox.Kind, payload any)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups saga settings.
type ServiceConfig struct {
	// CounterCustomerID marks the over-the-counter customer whose
	// invoices are pre-settled.
	CounterCustomerID int64
	// DueDays defaults the due date on invoices that arrive without one.
	DueDays int
}

// Service orchestrates every invoice mutation: it validates against the
// state machine, performs the primary invoice write, then applies the
// ledger, aggregate and stock projections as best-effort side effects.
// The invoice write is the durable source of truth; a later step's
// failure never rolls it back.
type Service struct {
	repo       RepositoryPort
	seq        SequencePort
	allocator  AllocatorPort
	ledger     LedgerPort
	aggregates AggregatePort
	outbox     OutboxPort
	audit      AuditPort
	logger     *slog.Logger
	cfg        ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, seq SequencePort, allocator AllocatorPort, ledger LedgerPort, aggregates AggregatePort, ob OutboxPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.DueDays <= 0 {
		cfg.DueDays = 30
	}
	return &Service{
		repo:       repo,
		seq:        seq,
		allocator:  allocator,
		ledger:     ledger,
		aggregates: aggregates,
		outbox:     ob,
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
	}
}

// GetInvoice loads one document.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// ListInvoices lists documents with filters.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	return s.repo.List(ctx, filter)
}

// NextDocumentNumber previews the next number without consuming it.
func (s *Service) NextDocumentNumber(ctx context.Context, docType DocType) (string, error) {
	if docType != DocInvoice && docType != DocQuotation {
		return "", fmt.Errorf("billing: unknown document type %q: %w", docType, shared.ErrValidation)
	}
	return s.seq.Peek(ctx, docType.Prefix(), time.Now().UTC().Year())
}

// CreateInvoice runs the creation saga: validate, number, persist, then
// ledger charge, aggregate delta, initial payments, and stock deduction.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	// Independent read-only prefetches: the customer record and, for
	// bundled lines, their current availability.
	var cust *customers.Customer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.aggregates.Get(gctx, in.CustomerID)
		if err != nil {
			return fmt.Errorf("verify customer: %w", err)
		}
		cust = c
		return nil
	})
	for _, it := range in.Items {
		if it.VirtualProductID == 0 {
			continue
		}
		virtualID := it.VirtualProductID
		g.Go(func() error {
			_, err := s.allocator.VirtualAvailability(gctx, virtualID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	counter := cust.IsCounter || (s.cfg.CounterCustomerID != 0 && in.CustomerID == s.cfg.CounterCustomerID)

	now := time.Now().UTC()
	invoiceDate := in.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}

	inv := &Invoice{
		Type:           in.Type,
		CustomerID:     in.CustomerID,
		Items:          itemsFromInput(in.Items),
		DiscountAmount: in.DiscountAmount,
		GSTAmount:      in.GSTAmount,
		InvoiceDate:    invoiceDate,
		DueDate:        in.DueDate,
		CreatedBy:      in.ActorID,
	}
	for _, p := range in.Payments {
		paidAt := p.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		inv.Payments = append(inv.Payments, Payment{
			ID:      uuid.NewString(),
			Amount:  p.Amount,
			Method:  p.Method,
			Note:    p.Note,
			PaidAt:  paidAt,
			AddedBy: in.ActorID,
		})
	}
	inv.recompute()
	if inv.PaidAmount > inv.TotalAmount+1e-9 {
		return nil, ErrPaymentExceedsBalance
	}

	inv.Status = InitialStatus(in.Type, counter)
	if in.Type == DocInvoice {
		if !counter {
			inv.Status = PaymentStatus(inv.TotalAmount, inv.PaidAmount)
		}
		if inv.DueDate.IsZero() {
			inv.DueDate = invoiceDate.AddDate(0, 0, s.cfg.DueDays)
		}
	}

	number, err := s.seq.Next(ctx, in.Type.Prefix(), invoiceDate.Year())
	if err != nil {
		return nil, fmt.Errorf("generate document number: %w", err)
	}
	inv.Number = number

	id, err := s.repo.Create(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	inv.ID = id

	if inv.Type == DocInvoice {
		s.syncCreateProjections(ctx, inv)
		s.deductInvoiceStock(ctx, inv, counter)
	}

	s.recordAudit(ctx, in.ActorID, "billing:create", inv)
	return inv, nil
}

// syncCreateProjections applies the ledger and aggregate effects of a
// newly created invoice, payments included.
func (s *Service) syncCreateProjections(ctx context.Context, inv *Invoice) {
	s.sideEffect(ctx, "ledger charge", outbox.KindLedgerCharge, outbox.ChargePayload{
		CustomerID:    inv.CustomerID,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		Amount:        inv.TotalAmount,
		At:            inv.InvoiceDate,
	}, func() error {
		return s.ledger.RecordCharge(ctx, ledger.ChargeInput{
			CustomerID:    inv.CustomerID,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			Amount:        inv.TotalAmount,
			At:            inv.InvoiceDate,
		})
	})
	s.sideEffect(ctx, "customer invoice delta", outbox.KindCustomerInvoiceDelta, outbox.CustomerDeltaPayload{
		CustomerID: inv.CustomerID,
		Delta:      inv.TotalAmount,
		At:         inv.InvoiceDate,
	}, func() error {
		return s.aggregates.ApplyInvoiceCreated(ctx, inv.CustomerID, inv.TotalAmount, inv.InvoiceDate)
	})
	for _, p := range inv.Payments {
		s.syncPaymentAdded(ctx, inv, p)
	}
}

func (s *Service) syncPaymentAdded(ctx context.Context, inv *Invoice, p Payment) {
	s.sideEffect(ctx, "ledger payment", outbox.KindLedgerPayment, outbox.PaymentPayload{
		CustomerID:    inv.CustomerID,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Method:        p.Method,
		At:            p.PaidAt,
	}, func() error {
		return s.ledger.RecordPayment(ctx, ledger.PaymentInput{
			CustomerID:    inv.CustomerID,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			PaymentID:     p.ID,
			Amount:        p.Amount,
			Method:        p.Method,
			At:            p.PaidAt,
		})
	})
	s.sideEffect(ctx, "customer payment delta", outbox.KindCustomerPaymentDelta, outbox.CustomerDeltaPayload{
		CustomerID: inv.CustomerID,
		Delta:      p.Amount,
		At:         p.PaidAt,
	}, func() error {
		return s.aggregates.ApplyPaymentAdded(ctx, inv.CustomerID, p.Amount, p.PaidAt)
	})
}

// deductInvoiceStock runs the allocator and flips stockDeducted only
// when every item succeeded. Counter invoices are forced back to paid
// should any intermediate recompute have diverged.
func (s *Service) deductInvoiceStock(ctx context.Context, inv *Invoice, counter bool) {
	if !inv.HasStockItems() {
		return
	}
	res := s.allocator.Deduct(ctx, inv.StockItems())
	if res.Success {
		if err := s.repo.SetStockDeducted(ctx, inv.ID, true); err != nil {
			s.logger.Error("mark stock deducted", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		} else {
			inv.StockDeducted = true
		}
	} else {
		for _, e := range res.Errors {
			s.logger.Warn("stock deduction failed",
				slog.Int64("invoice_id", inv.ID),
				slog.Int("item_index", e.Index),
				slog.String("item", e.Item),
				slog.String("error", e.Error))
		}
	}
	if counter && inv.Status != StatusPaid {
		if err := s.repo.UpdateStatus(ctx, inv.ID, StatusPaid, ""); err == nil {
			inv.Status = StatusPaid
		}
	}
}

// UpdateInvoice edits items/discount/gst, recomputes profit and totals,
// persists, then re-aligns the charge entry and aggregate by delta.
func (s *Service) UpdateInvoice(ctx context.Context, id int64, in UpdateInvoiceInput) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if terminal(inv) {
		return nil, ErrImmutableStatus
	}

	oldTotal := inv.TotalAmount
	if in.Items != nil {
		inv.Items = itemsFromInput(*in.Items)
	}
	if in.DiscountAmount != nil {
		inv.DiscountAmount = *in.DiscountAmount
	}
	if in.GSTAmount != nil {
		inv.GSTAmount = *in.GSTAmount
	}
	if in.DueDate != nil {
		inv.DueDate = *in.DueDate
	}
	inv.recompute()
	if inv.TotalAmount < inv.PaidAmount-1e-9 {
		return nil, fmt.Errorf("billing: new total %.2f is below paid amount %.2f: %w", inv.TotalAmount, inv.PaidAmount, shared.ErrValidation)
	}
	if inv.Type == DocInvoice && paymentDriven(inv.Status) {
		inv.Status = PaymentStatus(inv.TotalAmount, inv.PaidAmount)
	}

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	if inv.Type == DocInvoice && abs(inv.TotalAmount-oldTotal) > 1e-9 {
		s.sideEffect(ctx, "ledger charge update", outbox.KindLedgerUpdateCharge, outbox.ChargePayload{
			InvoiceID: inv.ID,
			Amount:    inv.TotalAmount,
		}, func() error {
			return s.ledger.UpdateCharge(ctx, inv.ID, inv.TotalAmount)
		})
		s.sideEffect(ctx, "customer total delta", outbox.KindCustomerInvoiceDelta, outbox.CustomerDeltaPayload{
			CustomerID: inv.CustomerID,
			Delta:      inv.TotalAmount - oldTotal,
		}, func() error {
			return s.aggregates.ApplyTotalChanged(ctx, inv.CustomerID, oldTotal, inv.TotalAmount)
		})
	}

	s.recordAudit(ctx, in.ActorID, "billing:update", inv)
	return inv, nil
}

// AddPayment applies a payment and recomputes the automatic status.
func (s *Service) AddPayment(ctx context.Context, invoiceID int64, in PaymentInput, actorID int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Type != DocInvoice {
		return nil, fmt.Errorf("billing: payments apply to invoices only: %w", shared.ErrValidation)
	}
	if inv.Status == StatusCancelled {
		return nil, ErrImmutableStatus
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.Amount > inv.BalanceAmount+1e-9 {
		return nil, ErrPaymentExceedsBalance
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	p := Payment{
		ID:      uuid.NewString(),
		Amount:  in.Amount,
		Method:  in.Method,
		Note:    in.Note,
		PaidAt:  paidAt,
		AddedBy: actorID,
	}
	inv.Payments = append(inv.Payments, p)
	inv.recompute()
	if paymentDriven(inv.Status) {
		inv.Status = PaymentStatus(inv.TotalAmount, inv.PaidAmount)
	}

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("apply payment: %w", err)
	}

	s.syncPaymentAdded(ctx, inv, p)
	s.recordAudit(ctx, actorID, "billing:payment_add", inv)
	return inv, nil
}

// UpdatePayment edits the payment at the given position. The position
// is resolved to the payment's stable id before any projection sync.
func (s *Service) UpdatePayment(ctx context.Context, invoiceID int64, index int, in PaymentInput, actorID int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return nil, ErrImmutableStatus
	}
	p, err := inv.FindPayment(index)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	newPaid := inv.PaidAmount - p.Amount + in.Amount
	if newPaid > inv.TotalAmount+1e-9 {
		return nil, ErrPaymentExceedsBalance
	}

	oldAmount := p.Amount
	p.Amount = in.Amount
	if in.Method != "" {
		p.Method = in.Method
	}
	if in.Note != "" {
		p.Note = in.Note
	}
	if !in.PaidAt.IsZero() {
		p.PaidAt = in.PaidAt
	}
	inv.recompute()
	if paymentDriven(inv.Status) {
		inv.Status = PaymentStatus(inv.TotalAmount, inv.PaidAmount)
	}

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	s.sideEffect(ctx, "ledger payment update", outbox.KindLedgerPaymentUpdate, outbox.PaymentPayload{
		InvoiceID: inv.ID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Method:    p.Method,
		At:        p.PaidAt,
	}, func() error {
		return s.ledger.SyncPaymentUpdate(ctx, inv.ID, p.ID, p.Amount, p.Method, p.PaidAt)
	})
	s.sideEffect(ctx, "customer payment delta", outbox.KindCustomerPaymentDelta, outbox.CustomerDeltaPayload{
		CustomerID: inv.CustomerID,
		Delta:      p.Amount - oldAmount,
	}, func() error {
		return s.aggregates.ApplyPaymentChanged(ctx, inv.CustomerID, oldAmount, p.Amount)
	})

	s.recordAudit(ctx, actorID, "billing:payment_update", inv)
	return inv, nil
}

// DeletePayment removes the payment at the given position. Trailing
// payments keep their stable ids, so no ledger re-keying happens.
func (s *Service) DeletePayment(ctx context.Context, invoiceID int64, index int, actorID int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return nil, ErrImmutableStatus
	}
	p, err := inv.FindPayment(index)
	if err != nil {
		return nil, err
	}
	removed := *p
	inv.Payments = append(inv.Payments[:index], inv.Payments[index+1:]...)
	inv.recompute()
	if paymentDriven(inv.Status) {
		inv.Status = PaymentStatus(inv.TotalAmount, inv.PaidAmount)
	}

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("delete payment: %w", err)
	}

	s.sideEffect(ctx, "ledger payment remove", outbox.KindLedgerPaymentRemove, outbox.PaymentPayload{
		InvoiceID: inv.ID,
		PaymentID: removed.ID,
	}, func() error {
		return s.ledger.RemovePayment(ctx, inv.ID, removed.ID)
	})
	s.sideEffect(ctx, "customer payment delta", outbox.KindCustomerPaymentDelta, outbox.CustomerDeltaPayload{
		CustomerID: inv.CustomerID,
		Delta:      -removed.Amount,
	}, func() error {
		return s.aggregates.ApplyPaymentRemoved(ctx, inv.CustomerID, removed.Amount)
	})

	s.recordAudit(ctx, actorID, "billing:payment_delete", inv)
	return inv, nil
}

// UpdateStatus applies a manual workflow transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, target Status, actorID int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateManualTransition(inv, target); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, target, ""); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	inv.Status = target
	s.recordAudit(ctx, actorID, "billing:status", inv)
	return inv, nil
}

// CancelInvoice is the preferred retirement path for non-draft
// documents: status flips to cancelled, deducted stock returns, the
// aggregate reverses, and the ledger charge stays for audit.
func (s *Service) CancelInvoice(ctx context.Context, id int64, reason string, actorID int64) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Type != DocInvoice {
		return nil, fmt.Errorf("billing: only invoices can be cancelled: %w", shared.ErrValidation)
	}
	if err := ValidateCancel(inv); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusCancelled, reason); err != nil {
		return nil, fmt.Errorf("cancel document: %w", err)
	}
	inv.Status = StatusCancelled
	inv.CancelReason = reason

	s.restoreInvoiceStock(ctx, inv)
	s.sideEffect(ctx, "customer reversal", outbox.KindCustomerInvoiceDelta, outbox.CustomerDeltaPayload{
		CustomerID: inv.CustomerID,
		Delta:      -inv.TotalAmount,
	}, func() error {
		return s.aggregates.ReverseInvoice(ctx, inv.CustomerID, inv.TotalAmount, inv.PaidAmount)
	})

	s.recordAudit(ctx, actorID, "billing:cancel", inv)
	return inv, nil
}

// DeleteInvoice physically removes an untouched draft after reversing
// its projections.
func (s *Service) DeleteInvoice(ctx context.Context, id int64, actorID int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateDelete(inv); err != nil {
		return err
	}

	if inv.Type == DocInvoice {
		s.sideEffect(ctx, "ledger removal", outbox.KindLedgerRemoveInvoice, outbox.InvoiceRefPayload{
			InvoiceID: inv.ID,
		}, func() error {
			return s.ledger.RemoveInvoice(ctx, inv.ID)
		})
		s.sideEffect(ctx, "customer reversal", outbox.KindCustomerInvoiceDelta, outbox.CustomerDeltaPayload{
			CustomerID: inv.CustomerID,
			Delta:      -inv.TotalAmount,
		}, func() error {
			return s.aggregates.ReverseInvoice(ctx, inv.CustomerID, inv.TotalAmount, inv.PaidAmount)
		})
		s.restoreInvoiceStock(ctx, inv)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.recordAudit(ctx, actorID, "billing:delete", inv)
	return nil
}

// ConvertQuotationToInvoice produces a fresh invoice from an accepted
// quotation, then seals the quotation. One-way and idempotent-guarded.
func (s *Service) ConvertQuotationToInvoice(ctx context.Context, quotationID, actorID int64) (*Invoice, error) {
	quotation, err := s.repo.Get(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if err := ValidateConvert(quotation); err != nil {
		return nil, err
	}
	cust, err := s.aggregates.Get(ctx, quotation.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("verify customer: %w", err)
	}
	counter := cust.IsCounter || (s.cfg.CounterCustomerID != 0 && quotation.CustomerID == s.cfg.CounterCustomerID)

	now := time.Now().UTC()
	dueDate := quotation.DueDate
	if dueDate.IsZero() {
		dueDate = now.AddDate(0, 0, s.cfg.DueDays)
	}

	inv := &Invoice{
		Type:            DocInvoice,
		Status:          StatusPending,
		CustomerID:      quotation.CustomerID,
		Items:           quotation.Items,
		DiscountAmount:  quotation.DiscountAmount,
		GSTAmount:       quotation.GSTAmount,
		InvoiceDate:     now,
		DueDate:         dueDate,
		ConvertedFromID: quotation.ID,
		CreatedBy:       actorID,
	}
	inv.recompute()

	number, err := s.seq.Next(ctx, DocInvoice.Prefix(), now.Year())
	if err != nil {
		return nil, fmt.Errorf("generate document number: %w", err)
	}
	inv.Number = number

	id, err := s.repo.Create(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create converted invoice: %w", err)
	}
	inv.ID = id

	if err := s.repo.MarkConverted(ctx, quotation.ID, inv.ID); err != nil {
		return nil, fmt.Errorf("mark quotation converted: %w", err)
	}

	s.syncCreateProjections(ctx, inv)
	s.deductInvoiceStock(ctx, inv, counter)

	s.recordAudit(ctx, actorID, "billing:convert", inv)
	return inv, nil
}

func (s *Service) restoreInvoiceStock(ctx context.Context, inv *Invoice) {
	if !inv.StockDeducted {
		return
	}
	items := inv.StockItems()
	res := s.allocator.Restore(ctx, items)
	if !res.Success {
		for _, e := range res.Errors {
			s.logger.Warn("stock restore failed",
				slog.Int64("invoice_id", inv.ID),
				slog.Int("item_index", e.Index),
				slog.String("error", e.Error))
		}
		if s.outbox != nil {
			s.outbox.Publish(ctx, outbox.KindStockRestore, outbox.StockRestorePayload{Items: items})
		}
		return
	}
	if err := s.repo.SetStockDeducted(ctx, inv.ID, false); err != nil {
		s.logger.Error("clear stock deducted", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	} else {
		inv.StockDeducted = false
	}
}

// sideEffect runs a post-primary step best-effort: a failure is logged
// and outboxed for replay, never raised to the caller.
func (s *Service) sideEffect(ctx context.Context, name string, kind outbox.Kind, payload any, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error("side effect failed",
			slog.String("step", name),
			slog.Any("error", err))
		if s.outbox != nil {
			s.outbox.Publish(ctx, kind, payload)
		}
	}
}

// ApplySideEffect replays one recorded side effect; the worker calls it
// until the entry succeeds.
func (s *Service) ApplySideEffect(ctx context.Context, e outbox.Entry) error {
	switch e.Kind {
	case outbox.KindLedgerCharge:
		var p outbox.ChargePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.RecordCharge(ctx, ledger.ChargeInput{
			CustomerID:    p.CustomerID,
			InvoiceID:     p.InvoiceID,
			InvoiceNumber: p.InvoiceNumber,
			Amount:        p.Amount,
			At:            p.At,
		})
	case outbox.KindLedgerUpdateCharge:
		var p outbox.ChargePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.UpdateCharge(ctx, p.InvoiceID, p.Amount)
	case outbox.KindLedgerPayment:
		var p outbox.PaymentPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.RecordPayment(ctx, ledger.PaymentInput{
			CustomerID:    p.CustomerID,
			InvoiceID:     p.InvoiceID,
			InvoiceNumber: p.InvoiceNumber,
			PaymentID:     p.PaymentID,
			Amount:        p.Amount,
			Method:        p.Method,
			At:            p.At,
		})
	case outbox.KindLedgerPaymentUpdate:
		var p outbox.PaymentPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.SyncPaymentUpdate(ctx, p.InvoiceID, p.PaymentID, p.Amount, p.Method, p.At)
	case outbox.KindLedgerPaymentRemove:
		var p outbox.PaymentPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.RemovePayment(ctx, p.InvoiceID, p.PaymentID)
	case outbox.KindLedgerRemoveInvoice:
		var p outbox.InvoiceRefPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		return s.ledger.RemoveInvoice(ctx, p.InvoiceID)
	case outbox.KindCustomerInvoiceDelta:
		var p outbox.CustomerDeltaPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		if p.Delta >= 0 && !p.At.IsZero() {
			return s.aggregates.ApplyInvoiceCreated(ctx, p.CustomerID, p.Delta, p.At)
		}
		return s.aggregates.ApplyTotalChanged(ctx, p.CustomerID, 0, p.Delta)
	case outbox.KindCustomerPaymentDelta:
		var p outbox.CustomerDeltaPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		if p.Delta >= 0 {
			return s.aggregates.ApplyPaymentAdded(ctx, p.CustomerID, p.Delta, p.At)
		}
		return s.aggregates.ApplyPaymentRemoved(ctx, p.CustomerID, -p.Delta)
	case outbox.KindStockRestore:
		var p outbox.StockRestorePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		res := s.allocator.Restore(ctx, p.Items)
		if !res.Success {
			return fmt.Errorf("stock restore replay: %d items failed", len(res.Errors))
		}
		return nil
	default:
		return fmt.Errorf("billing: unknown side effect kind %q", e.Kind)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, inv *Invoice) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", inv.ID),
		Meta: map[string]any{
			"number": inv.Number,
			"type":   inv.Type,
			"status": inv.Status,
			"total":  inv.TotalAmount,
			"paid":   inv.PaidAmount,
		},
	})
}

func validateCreate(in CreateInvoiceInput) error {
	if in.Type != DocInvoice && in.Type != DocQuotation {
		return fmt.Errorf("billing: unknown document type %q: %w", in.Type, shared.ErrValidation)
	}
	if in.CustomerID == 0 {
		return fmt.Errorf("billing: customer required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("billing: at least one line item required: %w", shared.ErrValidation)
	}
	for i, it := range in.Items {
		if it.Qty <= 0 {
			return fmt.Errorf("billing: item %d quantity must be positive: %w", i, shared.ErrValidation)
		}
		if it.Rate < 0 {
			return fmt.Errorf("billing: item %d rate must not be negative: %w", i, shared.ErrValidation)
		}
	}
	if in.DiscountAmount < 0 || in.GSTAmount < 0 {
		return fmt.Errorf("billing: discount and tax must not be negative: %w", shared.ErrValidation)
	}
	if in.Type == DocQuotation && len(in.Payments) > 0 {
		return fmt.Errorf("billing: quotations cannot carry payments: %w", shared.ErrValidation)
	}
	for i, p := range in.Payments {
		if p.Amount <= 0 {
			return fmt.Errorf("billing: payment %d amount must be positive: %w", i, shared.ErrValidation)
		}
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
