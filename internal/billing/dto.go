package billing

import "time"

// LineItemInput describes one requested line.
type LineItemInput struct {
	Description      string          `json:"description" validate:"required"`
	Qty              float64         `json:"qty" validate:"required,gt=0"`
	Rate             float64         `json:"rate" validate:"gte=0"`
	OriginalRate     float64         `json:"originalRate" validate:"gte=0"`
	VariantID        int64           `json:"variantId"`
	PurchaseID       int64           `json:"purchaseId"`
	VirtualProductID int64           `json:"virtualProductId"`
	ComponentCosts   []ComponentCost `json:"componentCosts"`
	Expenses         []ExpenseLine   `json:"expenses"`
}

// PaymentInput describes a requested payment.
type PaymentInput struct {
	Amount float64   `json:"amount" validate:"required,gt=0"`
	Method string    `json:"method" validate:"required"`
	Note   string    `json:"note"`
	PaidAt time.Time `json:"paidAt"`
}

// CreateInvoiceInput describes a document-creation request.
type CreateInvoiceInput struct {
	Type           DocType         `json:"type" validate:"required,oneof=invoice quotation"`
	CustomerID     int64           `json:"customerId" validate:"required"`
	Items          []LineItemInput `json:"items" validate:"required,min=1,dive"`
	DiscountAmount float64         `json:"discountAmount" validate:"gte=0"`
	GSTAmount      float64         `json:"gstAmount" validate:"gte=0"`
	InvoiceDate    time.Time       `json:"invoiceDate"`
	DueDate        time.Time       `json:"dueDate"`
	Payments       []PaymentInput  `json:"payments" validate:"dive"`
	ActorID        int64           `json:"-"`
}

// UpdateInvoiceInput describes a partial document edit. Nil fields are
// left untouched.
type UpdateInvoiceInput struct {
	Items          *[]LineItemInput `json:"items" validate:"omitempty,min=1,dive"`
	DiscountAmount *float64         `json:"discountAmount" validate:"omitempty,gte=0"`
	GSTAmount      *float64         `json:"gstAmount" validate:"omitempty,gte=0"`
	DueDate        *time.Time       `json:"dueDate"`
	ActorID        int64            `json:"-"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Type       DocType
	Status     Status
	CustomerID int64
	Limit      int
	Offset     int
}

func itemsFromInput(in []LineItemInput) []LineItem {
	items := make([]LineItem, 0, len(in))
	for _, it := range in {
		items = append(items, LineItem{
			Description:      it.Description,
			Qty:              it.Qty,
			Rate:             it.Rate,
			OriginalRate:     it.OriginalRate,
			VariantID:        it.VariantID,
			PurchaseID:       it.PurchaseID,
			VirtualProductID: it.VirtualProductID,
			ComponentCosts:   it.ComponentCosts,
			Expenses:         it.Expenses,
		})
	}
	return items
}
