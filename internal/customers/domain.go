package customers

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ErrNotFound indicates the customer does not exist.
var ErrNotFound = fmt.Errorf("customers: %w", shared.ErrNotFound)

// Customer carries identity plus the cached financial aggregate.
// The aggregate fields are derived, not authoritative; truth is the set
// of non-cancelled invoices and their payments.
type Customer struct {
	ID        int64
	Name      string
	Phone     string
	Email     string
	IsCounter bool

	TotalInvoiced      float64
	TotalPaid          float64
	OutstandingBalance float64
	LastInvoiceDate    time.Time
	LastPaymentDate    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Aggregates is the cached financial block on its own.
type Aggregates struct {
	TotalInvoiced      float64   `json:"totalInvoiced"`
	TotalPaid          float64   `json:"totalPaid"`
	OutstandingBalance float64   `json:"outstandingBalance"`
	LastInvoiceDate    time.Time `json:"lastInvoiceDate"`
	LastPaymentDate    time.Time `json:"lastPaymentDate"`
}
