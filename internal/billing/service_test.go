package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/customers"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

type memDocRepo struct {
	nextID int64
	docs   map[int64]*Invoice
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{docs: map[int64]*Invoice{}}
}

func (m *memDocRepo) clone(inv *Invoice) *Invoice {
	cp := *inv
	cp.Items = append([]LineItem(nil), inv.Items...)
	cp.Payments = append([]Payment(nil), inv.Payments...)
	return &cp
}

func (m *memDocRepo) Create(_ context.Context, inv *Invoice) (int64, error) {
	m.nextID++
	inv.ID = m.nextID
	m.docs[inv.ID] = m.clone(inv)
	return inv.ID, nil
}

func (m *memDocRepo) Get(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.clone(inv), nil
}

func (m *memDocRepo) List(_ context.Context, _ ListFilter) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range m.docs {
		out = append(out, *m.clone(inv))
	}
	return out, len(out), nil
}

func (m *memDocRepo) Update(_ context.Context, inv *Invoice) error {
	if _, ok := m.docs[inv.ID]; !ok {
		return ErrNotFound
	}
	m.docs[inv.ID] = m.clone(inv)
	return nil
}

func (m *memDocRepo) UpdateStatus(_ context.Context, id int64, status Status, reason string) error {
	inv, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	if reason != "" {
		inv.CancelReason = reason
	}
	return nil
}

func (m *memDocRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocRepo) MarkConverted(_ context.Context, quotationID, invoiceID int64) error {
	q, ok := m.docs[quotationID]
	if !ok {
		return ErrNotFound
	}
	if q.ConvertedToInvoice {
		return ErrAlreadyConverted
	}
	q.ConvertedToInvoice = true
	q.ConvertedInvoiceID = invoiceID
	q.Status = StatusConverted
	return nil
}

func (m *memDocRepo) SetStockDeducted(_ context.Context, id int64, deducted bool) error {
	inv, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	inv.StockDeducted = deducted
	return nil
}

type memSeq struct {
	counters map[string]int64
}

func (m *memSeq) key(prefix string, year int) string {
	return fmt.Sprintf("%s-%d", prefix, year)
}

func (m *memSeq) Next(_ context.Context, prefix string, year int) (string, error) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[m.key(prefix, year)]++
	return fmt.Sprintf("%s-%02d-%03d", prefix, year%100, m.counters[m.key(prefix, year)]), nil
}

func (m *memSeq) Peek(_ context.Context, prefix string, year int) (string, error) {
	return fmt.Sprintf("%s-%02d-%03d", prefix, year%100, m.counters[m.key(prefix, year)]+1), nil
}

type memAllocator struct {
	failDeduct  bool
	failRestore bool
	deducted    [][]stock.Item
	restored    [][]stock.Item
}

func (m *memAllocator) Deduct(_ context.Context, items []stock.Item) stock.Result {
	if m.failDeduct {
		return stock.Result{Errors: []stock.ItemError{{Index: 0, Error: "insufficient stock"}}}
	}
	m.deducted = append(m.deducted, items)
	return stock.Result{Success: true}
}

func (m *memAllocator) Restore(_ context.Context, items []stock.Item) stock.Result {
	if m.failRestore {
		return stock.Result{Errors: []stock.ItemError{{Index: 0, Error: "lot missing"}}}
	}
	m.restored = append(m.restored, items)
	return stock.Result{Success: true}
}

func (m *memAllocator) VirtualAvailability(_ context.Context, _ int64) (int64, error) {
	return 100, nil
}

type memLedger struct {
	failCharge bool
	charges    map[int64]float64
	payments   map[string]float64
	removed    map[int64]bool
}

func newMemLedger() *memLedger {
	return &memLedger{charges: map[int64]float64{}, payments: map[string]float64{}, removed: map[int64]bool{}}
}

func (m *memLedger) paymentKey(invoiceID int64, paymentID string) string {
	return fmt.Sprintf("%d/%s", invoiceID, paymentID)
}

func (m *memLedger) RecordCharge(_ context.Context, in ledger.ChargeInput) error {
	if m.failCharge {
		return errors.New("ledger down")
	}
	m.charges[in.InvoiceID] = in.Amount
	return nil
}

func (m *memLedger) UpdateCharge(_ context.Context, invoiceID int64, amount float64) error {
	if _, ok := m.charges[invoiceID]; !ok {
		return ledger.ErrEntryNotFound
	}
	m.charges[invoiceID] = amount
	return nil
}

func (m *memLedger) RecordPayment(_ context.Context, in ledger.PaymentInput) error {
	m.payments[m.paymentKey(in.InvoiceID, in.PaymentID)] = in.Amount
	return nil
}

func (m *memLedger) SyncPaymentUpdate(_ context.Context, invoiceID int64, paymentID string, amount float64, _ string, _ time.Time) error {
	key := m.paymentKey(invoiceID, paymentID)
	if _, ok := m.payments[key]; !ok {
		return ledger.ErrEntryNotFound
	}
	m.payments[key] = amount
	return nil
}

func (m *memLedger) RemovePayment(_ context.Context, invoiceID int64, paymentID string) error {
	delete(m.payments, m.paymentKey(invoiceID, paymentID))
	return nil
}

func (m *memLedger) RemoveInvoice(_ context.Context, invoiceID int64) error {
	delete(m.charges, invoiceID)
	m.removed[invoiceID] = true
	return nil
}

type memAggregates struct {
	customers map[int64]*customers.Customer
}

func newMemAggregates(ids ...int64) *memAggregates {
	m := &memAggregates{customers: map[int64]*customers.Customer{}}
	for _, id := range ids {
		m.customers[id] = &customers.Customer{ID: id}
	}
	return m
}

func (m *memAggregates) Get(_ context.Context, id int64) (*customers.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memAggregates) ApplyInvoiceCreated(_ context.Context, id int64, total float64, _ time.Time) error {
	c := m.customers[id]
	c.TotalInvoiced += total
	c.OutstandingBalance += total
	return nil
}

func (m *memAggregates) ApplyTotalChanged(_ context.Context, id int64, oldTotal, newTotal float64) error {
	c := m.customers[id]
	c.TotalInvoiced += newTotal - oldTotal
	c.OutstandingBalance += newTotal - oldTotal
	return nil
}

func (m *memAggregates) ApplyPaymentAdded(_ context.Context, id int64, amount float64, _ time.Time) error {
	c := m.customers[id]
	c.TotalPaid += amount
	c.OutstandingBalance -= amount
	return nil
}

func (m *memAggregates) ApplyPaymentChanged(_ context.Context, id int64, oldAmount, newAmount float64) error {
	c := m.customers[id]
	c.TotalPaid += newAmount - oldAmount
	c.OutstandingBalance -= newAmount - oldAmount
	return nil
}

func (m *memAggregates) ApplyPaymentRemoved(_ context.Context, id int64, amount float64) error {
	c := m.customers[id]
	c.TotalPaid -= amount
	c.OutstandingBalance += amount
	return nil
}

func (m *memAggregates) ReverseInvoice(_ context.Context, id int64, total, paid float64) error {
	c := m.customers[id]
	c.TotalInvoiced -= total
	c.TotalPaid -= paid
	c.OutstandingBalance -= total - paid
	return nil
}

type memOutbox struct {
	entries []outbox.Entry
}

func (m *memOutbox) Publish(_ context.Context, kind outbox.Kind, payload any) {
	b, _ := json.Marshal(payload)
	m.entries = append(m.entries, outbox.Entry{Kind: kind, Payload: b})
}

type sagaFixture struct {
	repo       *memDocRepo
	seq        *memSeq
	allocator  *memAllocator
	ledger     *memLedger
	aggregates *memAggregates
	outbox     *memOutbox
	svc        *Service
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	f := &sagaFixture{
		repo:       newMemDocRepo(),
		seq:        &memSeq{},
		allocator:  &memAllocator{},
		ledger:     newMemLedger(),
		aggregates: newMemAggregates(1, 7),
		outbox:     &memOutbox{},
	}
	f.aggregates.customers[7].IsCounter = true
	f.svc = NewService(f.repo, f.seq, f.allocator, f.ledger, f.aggregates, f.outbox, nil,
		slog.Default(), ServiceConfig{CounterCustomerID: 7, DueDays: 30})
	return f
}

func createInput(customerID int64) CreateInvoiceInput {
	return CreateInvoiceInput{
		Type:       DocInvoice,
		CustomerID: customerID,
		Items: []LineItemInput{
			{Description: "widget", Qty: 2, Rate: 500, OriginalRate: 400, VariantID: 11},
		},
	}
}

func TestCreateInvoiceRunsFullSaga(t *testing.T) {
	f := newSagaFixture(t)

	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	require.Regexp(t, `^INV-\d{2}-001$`, inv.Number)
	require.Equal(t, StatusPending, inv.Status)
	require.InDelta(t, 1000.0, inv.TotalAmount, 1e-9)
	require.InDelta(t, 200.0, inv.Profit, 1e-9)
	require.True(t, inv.StockDeducted)

	require.InDelta(t, 1000.0, f.ledger.charges[inv.ID], 1e-9)
	require.InDelta(t, 1000.0, f.aggregates.customers[1].TotalInvoiced, 1e-9)
	require.InDelta(t, 1000.0, f.aggregates.customers[1].OutstandingBalance, 1e-9)
	require.Len(t, f.allocator.deducted, 1)
	require.Empty(t, f.outbox.entries)
}

func TestCreateInvoiceCounterCustomerStartsPaid(t *testing.T) {
	f := newSagaFixture(t)

	inv, err := f.svc.CreateInvoice(context.Background(), createInput(7))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
}

func TestCreateQuotationSkipsProjections(t *testing.T) {
	f := newSagaFixture(t)

	in := createInput(1)
	in.Type = DocQuotation
	q, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)

	require.Regexp(t, `^QT-\d{2}-001$`, q.Number)
	require.Equal(t, StatusDraft, q.Status)
	require.False(t, q.StockDeducted)
	require.Empty(t, f.ledger.charges)
	require.Empty(t, f.allocator.deducted)
	require.InDelta(t, 0.0, f.aggregates.customers[1].TotalInvoiced, 1e-9)
}

func TestCreateInvoiceSurvivesStockFailure(t *testing.T) {
	f := newSagaFixture(t)
	f.allocator.failDeduct = true

	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)
	require.False(t, inv.StockDeducted)

	stored, err := f.repo.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.False(t, stored.StockDeducted)
	require.InDelta(t, 1000.0, f.ledger.charges[inv.ID], 1e-9)
}

func TestCreateInvoiceLedgerFailureGoesToOutbox(t *testing.T) {
	f := newSagaFixture(t)
	f.ledger.failCharge = true

	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err, "primary write must survive projection failure")

	require.Empty(t, f.ledger.charges)
	require.Len(t, f.outbox.entries, 1)
	require.Equal(t, outbox.KindLedgerCharge, f.outbox.entries[0].Kind)

	// Replay once the ledger recovers.
	f.ledger.failCharge = false
	require.NoError(t, f.svc.ApplySideEffect(context.Background(), f.outbox.entries[0]))
	require.InDelta(t, 1000.0, f.ledger.charges[inv.ID], 1e-9)
}

func TestAddPaymentTransitionsStatus(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	inv, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 400, Method: "cash"}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, inv.Status)
	require.InDelta(t, 600.0, inv.BalanceAmount, 1e-9)

	inv, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 600, Method: "bank"}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
	require.InDelta(t, 0.0, inv.BalanceAmount, 1e-9)

	require.Len(t, f.ledger.payments, 2)
	require.InDelta(t, 1000.0, f.aggregates.customers[1].TotalPaid, 1e-9)
	require.InDelta(t, 0.0, f.aggregates.customers[1].OutstandingBalance, 1e-9)
}

func TestAddPaymentRejectsOverpayment(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	_, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 1500, Method: "cash"}, 0)
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)

	_, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: -10, Method: "cash"}, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestUpdatePaymentKeepsStableIdentity(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	inv, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 100, Method: "cash"}, 0)
	require.NoError(t, err)
	firstID := inv.Payments[0].ID

	inv, err = f.svc.UpdatePayment(context.Background(), inv.ID, 0, PaymentInput{Amount: 50, Method: "cash"}, 0)
	require.NoError(t, err)
	require.Equal(t, firstID, inv.Payments[0].ID)
	require.InDelta(t, 50.0, f.ledger.payments[f.ledger.paymentKey(inv.ID, firstID)], 1e-9)
	require.InDelta(t, 50.0, f.aggregates.customers[1].TotalPaid, 1e-9)
	require.InDelta(t, 950.0, f.aggregates.customers[1].OutstandingBalance, 1e-9)
}

func TestDeletePaymentLeavesSiblingsKeyed(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	inv, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 100, Method: "cash"}, 0)
	require.NoError(t, err)
	inv, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 200, Method: "bank"}, 0)
	require.NoError(t, err)
	secondID := inv.Payments[1].ID

	inv, err = f.svc.DeletePayment(context.Background(), inv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, inv.Payments, 1)
	require.Equal(t, secondID, inv.Payments[0].ID)
	require.Equal(t, StatusPartial, inv.Status)

	// The survivor's ledger entry is untouched; only the removed one went.
	require.Len(t, f.ledger.payments, 1)
	require.InDelta(t, 200.0, f.ledger.payments[f.ledger.paymentKey(inv.ID, secondID)], 1e-9)
}

func TestUpdateInvoiceRealignsChargeByDelta(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	newItems := []LineItemInput{
		{Description: "widget", Qty: 3, Rate: 500, OriginalRate: 400, VariantID: 11},
	}
	inv, err = f.svc.UpdateInvoice(context.Background(), inv.ID, UpdateInvoiceInput{Items: &newItems})
	require.NoError(t, err)
	require.InDelta(t, 1500.0, inv.TotalAmount, 1e-9)
	require.InDelta(t, 1500.0, f.ledger.charges[inv.ID], 1e-9)
	require.InDelta(t, 1500.0, f.aggregates.customers[1].TotalInvoiced, 1e-9)
}

func TestUpdateInvoiceRejectsTotalBelowPaid(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)
	_, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 800, Method: "cash"}, 0)
	require.NoError(t, err)

	smaller := []LineItemInput{{Description: "widget", Qty: 1, Rate: 500}}
	_, err = f.svc.UpdateInvoice(context.Background(), inv.ID, UpdateInvoiceInput{Items: &smaller})
	require.Error(t, err)
}

func TestCancelRestoresStockAndReversesAggregate(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)
	require.True(t, inv.StockDeducted)

	inv, err = f.svc.CancelInvoice(context.Background(), inv.ID, "customer backed out", 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inv.Status)
	require.Equal(t, "customer backed out", inv.CancelReason)
	require.False(t, inv.StockDeducted)
	require.Len(t, f.allocator.restored, 1)

	// Aggregates roll back; the ledger charge stays for audit.
	require.InDelta(t, 0.0, f.aggregates.customers[1].TotalInvoiced, 1e-9)
	require.InDelta(t, 0.0, f.aggregates.customers[1].OutstandingBalance, 1e-9)
	require.Contains(t, f.ledger.charges, inv.ID)
}

func TestCancelWithPaymentsFailsUntouched(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)
	_, err = f.svc.AddPayment(context.Background(), inv.ID, PaymentInput{Amount: 100, Method: "cash"}, 0)
	require.NoError(t, err)

	_, err = f.svc.CancelInvoice(context.Background(), inv.ID, "", 0)
	require.ErrorIs(t, err, ErrHasPayments)

	stored, err := f.repo.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, stored.Status)
	require.True(t, stored.StockDeducted)
	require.Empty(t, f.allocator.restored)
}

func TestCancelStockRestoreFailureGoesToOutbox(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	f.allocator.failRestore = true
	inv, err = f.svc.CancelInvoice(context.Background(), inv.ID, "", 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inv.Status)

	var found bool
	for _, e := range f.outbox.entries {
		if e.Kind == outbox.KindStockRestore {
			found = true
		}
	}
	require.True(t, found, "failed restore must be recorded for replay")

	f.allocator.failRestore = false
	for _, e := range f.outbox.entries {
		if e.Kind == outbox.KindStockRestore {
			require.NoError(t, f.svc.ApplySideEffect(context.Background(), e))
		}
	}
	require.Len(t, f.allocator.restored, 1)
}

func TestDeleteDraftReversesEverything(t *testing.T) {
	f := newSagaFixture(t)
	in := createInput(1)
	inv, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	// Force draft so physical deletion is legal.
	require.NoError(t, f.repo.UpdateStatus(context.Background(), inv.ID, StatusDraft, ""))

	require.NoError(t, f.svc.DeleteInvoice(context.Background(), inv.ID, 0))

	_, err = f.svc.GetInvoice(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, f.ledger.removed[inv.ID])
	require.Len(t, f.allocator.restored, 1)
	require.InDelta(t, 0.0, f.aggregates.customers[1].TotalInvoiced, 1e-9)
}

func TestDeleteNonDraftRejected(t *testing.T) {
	f := newSagaFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)

	err = f.svc.DeleteInvoice(context.Background(), inv.ID, 0)
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestConvertQuotationOnce(t *testing.T) {
	f := newSagaFixture(t)
	in := createInput(1)
	in.Type = DocQuotation
	q, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)

	inv, err := f.svc.ConvertQuotationToInvoice(context.Background(), q.ID, 0)
	require.NoError(t, err)
	require.Equal(t, DocInvoice, inv.Type)
	require.Equal(t, StatusPending, inv.Status)
	require.Regexp(t, `^INV-\d{2}-001$`, inv.Number)
	require.Equal(t, q.ID, inv.ConvertedFromID)
	require.InDelta(t, q.TotalAmount, inv.TotalAmount, 1e-9)
	require.True(t, inv.StockDeducted)
	require.InDelta(t, inv.TotalAmount, f.ledger.charges[inv.ID], 1e-9)

	sealed, err := f.svc.GetInvoice(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConverted, sealed.Status)
	require.Equal(t, inv.ID, sealed.ConvertedInvoiceID)

	_, err = f.svc.ConvertQuotationToInvoice(context.Background(), q.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyConverted)
}

func TestInitialPaymentsAppliedOnCreate(t *testing.T) {
	f := newSagaFixture(t)
	in := createInput(1)
	in.Payments = []PaymentInput{{Amount: 1000, Method: "cash"}}

	inv, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
	require.NotEmpty(t, inv.Payments[0].ID)
	require.Len(t, f.ledger.payments, 1)
	require.InDelta(t, 0.0, f.aggregates.customers[1].OutstandingBalance, 1e-9)
}

func TestCreateRejectsOverpaidAndQuotationPayments(t *testing.T) {
	f := newSagaFixture(t)

	in := createInput(1)
	in.Payments = []PaymentInput{{Amount: 2000, Method: "cash"}}
	_, err := f.svc.CreateInvoice(context.Background(), in)
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)

	in = createInput(1)
	in.Type = DocQuotation
	in.Payments = []PaymentInput{{Amount: 10, Method: "cash"}}
	_, err = f.svc.CreateInvoice(context.Background(), in)
	require.Error(t, err)
}

func TestNextDocumentNumberDoesNotConsume(t *testing.T) {
	f := newSagaFixture(t)

	n1, err := f.svc.NextDocumentNumber(context.Background(), DocInvoice)
	require.NoError(t, err)
	n2, err := f.svc.NextDocumentNumber(context.Background(), DocInvoice)
	require.NoError(t, err)
	require.Equal(t, n1, n2)

	inv, err := f.svc.CreateInvoice(context.Background(), createInput(1))
	require.NoError(t, err)
	require.Equal(t, n1, inv.Number)
}
