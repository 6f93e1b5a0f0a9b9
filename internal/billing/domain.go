// Package billing is the invoice consistency core: the document state
// machine, the payment application rules, and the saga that keeps the
// stock, ledger and customer-aggregate projections aligned with the
// invoice as source of truth.
package billing

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// DocType discriminates commercial documents.
type DocType string

const (
	DocInvoice   DocType = "invoice"
	DocQuotation DocType = "quotation"
)

// Status enumerates document statuses. Invoices move through
// pending/partial/paid automatically as payments change; delivered and
// cancelled are manual. Quotation statuses are manual except converted,
// which is terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"

	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusConverted Status = "converted"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = fmt.Errorf("billing: document: %w", shared.ErrNotFound)
	// ErrPaymentNotFound indicates no payment at the given position.
	ErrPaymentNotFound = fmt.Errorf("billing: payment: %w", shared.ErrNotFound)
	// ErrManualPaymentStatus rejects manual requests for payment-driven statuses.
	ErrManualPaymentStatus = fmt.Errorf("billing: pending/partial/paid are payment-driven and cannot be set manually: %w", shared.ErrValidation)
	// ErrImmutableStatus rejects status changes on terminal documents.
	ErrImmutableStatus = fmt.Errorf("billing: document status is immutable: %w", shared.ErrConflict)
	// ErrInvalidTransition rejects transitions outside the legality table.
	ErrInvalidTransition = fmt.Errorf("billing: invalid status transition: %w", shared.ErrConflict)
	// ErrAlreadyConverted guards one-way quotation conversion.
	ErrAlreadyConverted = fmt.Errorf("billing: quotation already converted: %w", shared.ErrConflict)
	// ErrHasPayments rejects cancel/delete of documents holding payments.
	ErrHasPayments = fmt.Errorf("billing: document has payments: %w", shared.ErrConflict)
	// ErrNotDraft rejects physical deletion of anything but untouched drafts.
	ErrNotDraft = fmt.Errorf("billing: only draft documents can be deleted: %w", shared.ErrConflict)
	// ErrPaymentExceedsBalance rejects overpayment.
	ErrPaymentExceedsBalance = fmt.Errorf("billing: payment exceeds balance: %w", shared.ErrValidation)
	// ErrInvalidAmount rejects non-positive payment amounts.
	ErrInvalidAmount = fmt.Errorf("billing: payment amount must be positive: %w", shared.ErrValidation)
	// ErrNotQuotation rejects conversion of non-quotations.
	ErrNotQuotation = fmt.Errorf("billing: document is not a quotation: %w", shared.ErrValidation)
)

// Payment is one settlement against an invoice. ID is assigned at
// creation and stays stable for the payment's lifetime; ledger entries
// key on it rather than on list position.
type Payment struct {
	ID      string    `json:"id"`
	Amount  float64   `json:"amount"`
	Method  string    `json:"method"`
	Note    string    `json:"note,omitempty"`
	PaidAt  time.Time `json:"paidAt"`
	AddedBy int64     `json:"addedBy,omitempty"`
}

// ComponentCost records which purchase lot a virtual component drew
// from and at what unit cost, per unit of the bundle.
type ComponentCost struct {
	VariantID  int64   `json:"variantId"`
	PurchaseID int64   `json:"purchaseId"`
	Qty        float64 `json:"qty"`
	UnitCost   float64 `json:"unitCost"`
}

// ExpenseLine is a fixed ancillary expense priced into a line item.
type ExpenseLine struct {
	Label string  `json:"label"`
	Cost  float64 `json:"cost"`
	Price float64 `json:"price"`
}

// LineItem is one ordered line on a document. Items without a purchase
// or virtual-product binding are manual lines with no stock obligation.
type LineItem struct {
	ID               int64           `json:"id"`
	Description      string          `json:"description"`
	Qty              float64         `json:"qty"`
	Rate             float64         `json:"rate"`
	OriginalRate     float64         `json:"originalRate,omitempty"`
	VariantID        int64           `json:"variantId,omitempty"`
	PurchaseID       int64           `json:"purchaseId,omitempty"`
	VirtualProductID int64           `json:"virtualProductId,omitempty"`
	ComponentCosts   []ComponentCost `json:"componentCosts,omitempty"`
	Expenses         []ExpenseLine   `json:"expenses,omitempty"`
	Amount           float64         `json:"amount"`
}

// Invoice is the source-of-truth document for both invoices and
// quotations. Invariants: BalanceAmount == TotalAmount - PaidAmount and
// PaidAmount == sum of Payments at all times.
type Invoice struct {
	ID         int64   `json:"id"`
	Number     string  `json:"number"`
	Type       DocType `json:"type"`
	Status     Status  `json:"status"`
	CustomerID int64   `json:"customerId"`

	Items []LineItem `json:"items"`

	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discountAmount"`
	GSTAmount      float64 `json:"gstAmount"`
	TotalAmount    float64 `json:"totalAmount"`
	PaidAmount     float64 `json:"paidAmount"`
	BalanceAmount  float64 `json:"balanceAmount"`
	Profit         float64 `json:"profit"`

	Payments []Payment `json:"payments"`

	StockDeducted bool `json:"stockDeducted"`

	ConvertedToInvoice bool  `json:"convertedToInvoice,omitempty"`
	ConvertedInvoiceID int64 `json:"convertedInvoiceId,omitempty"`
	ConvertedFromID    int64 `json:"convertedFromId,omitempty"`

	InvoiceDate  time.Time `json:"invoiceDate"`
	DueDate      time.Time `json:"dueDate,omitempty"`
	CancelReason string    `json:"cancelReason,omitempty"`

	CreatedBy int64     `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Prefix returns the document-number prefix for the type.
func (t DocType) Prefix() string {
	if t == DocQuotation {
		return "QT"
	}
	return "INV"
}

// FindPayment resolves a positional index to the payment it denotes.
func (inv *Invoice) FindPayment(index int) (*Payment, error) {
	if index < 0 || index >= len(inv.Payments) {
		return nil, ErrPaymentNotFound
	}
	return &inv.Payments[index], nil
}

// StockItems maps the document's lines to allocator requests.
func (inv *Invoice) StockItems() []stock.Item {
	items := make([]stock.Item, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, stock.Item{
			Description:      it.Description,
			VariantID:        it.VariantID,
			Qty:              it.Qty,
			PurchaseID:       it.PurchaseID,
			VirtualProductID: it.VirtualProductID,
		})
	}
	return items
}

// HasStockItems reports whether any line carries a stock obligation.
func (inv *Invoice) HasStockItems() bool {
	for _, it := range inv.Items {
		if it.PurchaseID != 0 || it.VirtualProductID != 0 || it.VariantID != 0 {
			return true
		}
	}
	return false
}

// recompute refreshes the derived money fields from items and payments.
func (inv *Invoice) recompute() {
	var subtotal float64
	for i := range inv.Items {
		it := &inv.Items[i]
		it.Amount = it.Qty * it.Rate
		// Ancillary expenses are billed on top of the bundle rate.
		for _, e := range it.Expenses {
			it.Amount += it.Qty * e.Price
		}
		subtotal += it.Amount
	}
	inv.Subtotal = subtotal
	inv.TotalAmount = inv.Subtotal - inv.DiscountAmount + inv.GSTAmount

	var paid float64
	for _, p := range inv.Payments {
		paid += p.Amount
	}
	inv.PaidAmount = paid
	inv.BalanceAmount = inv.TotalAmount - inv.PaidAmount
	inv.Profit = InvoiceProfit(inv.Items, inv.DiscountAmount)
}
