// Package ledger maintains the append-only per-customer transaction
// journal derived from invoice and payment events.
package ledger

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ErrEntryNotFound indicates no ledger entry matches the key.
var ErrEntryNotFound = fmt.Errorf("ledger: entry: %w", shared.ErrNotFound)

// EntryType discriminates ledger entries.
type EntryType string

const (
	// EntryCharge records an invoice total against the customer, 1:1 with the invoice.
	EntryCharge EntryType = "charge"
	// EntryPayment records one payment inside one invoice.
	EntryPayment EntryType = "payment"
)

// Entry is one journal line. Payment entries are keyed by the payment's
// stable identifier rather than its position in the invoice's payment
// list, so deleting a payment never shifts the identity of its trailing
// siblings.
type Entry struct {
	ID            int64     `json:"id"`
	CustomerID    int64     `json:"customerId"`
	InvoiceID     int64     `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Type          EntryType `json:"type"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method,omitempty"`
	PaymentID     string    `json:"paymentId,omitempty"`
	Note          string    `json:"note,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Totals aggregates a customer's journal with cancelled invoices excluded.
type Totals struct {
	Charges     float64 `json:"charges"`
	Payments    float64 `json:"payments"`
	Outstanding float64 `json:"outstanding"`
}
