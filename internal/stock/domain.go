package stock

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var (
	// ErrInsufficientStock indicates a lot or variant cannot cover the requested quantity.
	ErrInsufficientStock = fmt.Errorf("stock: insufficient stock: %w", shared.ErrConflict)
	// ErrLotNotFound indicates the referenced purchase lot does not exist.
	ErrLotNotFound = fmt.Errorf("stock: purchase lot: %w", shared.ErrNotFound)
	// ErrVirtualNotFound indicates the referenced virtual product does not exist.
	ErrVirtualNotFound = fmt.Errorf("stock: virtual product: %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("stock: quantity must be positive: %w", shared.ErrValidation)
)

// PurchaseLot holds received stock for one product variant.
// Lots are consumed oldest first; remaining never drops below zero and
// never exceeds the originally purchased quantity.
type PurchaseLot struct {
	ID          int64
	VariantID   int64
	Quantity    float64
	Remaining   float64
	UnitCost    float64
	PurchasedAt time.Time
}

// VirtualComponent is one leg of a bundled product.
type VirtualComponent struct {
	VariantID       int64
	QuantityPerUnit float64
}

// VirtualExpense is a fixed ancillary expense line priced into a bundle.
type VirtualExpense struct {
	Label  string
	Cost   float64
	Price  float64
}

// VirtualProduct is a sellable bundle with no stock of its own.
// Its availability derives from component lot remainders.
type VirtualProduct struct {
	ID         int64
	Name       string
	Components []VirtualComponent
	Expenses   []VirtualExpense
}

// Item describes one line item's stock obligation.
// Exactly one of PurchaseID or VirtualProductID is normally set; items
// with neither carry no stock obligation and are skipped.
type Item struct {
	Description      string
	VariantID        int64
	Qty              float64
	PurchaseID       int64
	VirtualProductID int64
}

// ItemError reports a single failed item within a batch.
type ItemError struct {
	Index int    `json:"index"`
	Item  string `json:"item"`
	Error string `json:"error"`
}

// Result reports the outcome of a batch deduction or restoration.
// Success is true only when every item succeeded.
type Result struct {
	Success bool        `json:"success"`
	Errors  []ItemError `json:"errors,omitempty"`
}
