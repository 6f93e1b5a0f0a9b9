package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// RepositoryPort abstracts repository usage for the allocator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVirtualProduct(ctx context.Context, id int64) (*VirtualProduct, error)
	ListLots(ctx context.Context, variantID int64) ([]PurchaseLot, error)
}

// TxRepository exposes lot operations inside one transaction.
type TxRepository interface {
	// LotsForVariant returns the variant's lots oldest first, locked for update.
	LotsForVariant(ctx context.Context, variantID int64) ([]PurchaseLot, error)
	GetLot(ctx context.Context, lotID int64) (PurchaseLot, error)
	// DeductLot decrements remaining with a floor check; it fails with
	// ErrInsufficientStock instead of going negative.
	DeductLot(ctx context.Context, lotID int64, qty float64) error
	// RestoreLot increments remaining, capped at the lot's original quantity.
	RestoreLot(ctx context.Context, lotID int64, qty float64) error
}

// Service is the FIFO stock allocator.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Deduct consumes stock for each item independently. A failed item never
// mutates any lot (its transaction rolls back whole), and failures are
// collected per item rather than aborting the batch.
func (s *Service) Deduct(ctx context.Context, items []Item) Result {
	var errs []ItemError
	for i, item := range items {
		if unbound(item) {
			// Manual line items carry no stock obligation.
			continue
		}
		if err := s.deductItem(ctx, item); err != nil {
			errs = append(errs, ItemError{Index: i, Item: item.Description, Error: err.Error()})
		}
	}
	return Result{Success: len(errs) == 0, Errors: errs}
}

func unbound(item Item) bool {
	return item.PurchaseID == 0 && item.VirtualProductID == 0 && item.VariantID == 0
}

func (s *Service) deductItem(ctx context.Context, item Item) error {
	if item.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if item.VirtualProductID != 0 {
		vp, err := s.repo.GetVirtualProduct(ctx, item.VirtualProductID)
		if err != nil {
			return err
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, comp := range vp.Components {
				need := comp.QuantityPerUnit * item.Qty
				if err := deductVariantFIFO(ctx, tx, comp.VariantID, need); err != nil {
					return fmt.Errorf("component variant %d: %w", comp.VariantID, err)
				}
			}
			return nil
		})
	}
	if item.PurchaseID != 0 {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.DeductLot(ctx, item.PurchaseID, item.Qty)
		})
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return deductVariantFIFO(ctx, tx, item.VariantID, item.Qty)
	})
}

// deductVariantFIFO walks the variant's lots oldest first until the
// requested quantity is covered, failing before any write when the
// combined remainder falls short.
func deductVariantFIFO(ctx context.Context, tx TxRepository, variantID int64, qty float64) error {
	lots, err := tx.LotsForVariant(ctx, variantID)
	if err != nil {
		return err
	}
	var available float64
	for _, lot := range lots {
		available += lot.Remaining
	}
	if available+1e-9 < qty {
		return ErrInsufficientStock
	}
	left := qty
	for _, lot := range lots {
		if left <= 1e-9 {
			break
		}
		take := math.Min(lot.Remaining, left)
		if take <= 0 {
			continue
		}
		if err := tx.DeductLot(ctx, lot.ID, take); err != nil {
			return err
		}
		left -= take
	}
	if left > 1e-9 {
		return ErrInsufficientStock
	}
	return nil
}

// Restore returns previously deducted stock. Items bound to a purchase
// lot restore that lot directly; virtual items restore each component's
// lots newest first, the inverse of FIFO consumption. Restoration is
// capped at each lot's original quantity.
func (s *Service) Restore(ctx context.Context, items []Item) Result {
	var errs []ItemError
	for i, item := range items {
		if unbound(item) {
			continue
		}
		if err := s.restoreItem(ctx, item); err != nil {
			errs = append(errs, ItemError{Index: i, Item: item.Description, Error: err.Error()})
		}
	}
	return Result{Success: len(errs) == 0, Errors: errs}
}

func (s *Service) restoreItem(ctx context.Context, item Item) error {
	if item.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if item.VirtualProductID != 0 {
		vp, err := s.repo.GetVirtualProduct(ctx, item.VirtualProductID)
		if err != nil {
			return err
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, comp := range vp.Components {
				back := comp.QuantityPerUnit * item.Qty
				if err := restoreVariantLIFO(ctx, tx, comp.VariantID, back); err != nil {
					return fmt.Errorf("component variant %d: %w", comp.VariantID, err)
				}
			}
			return nil
		})
	}
	if item.PurchaseID != 0 {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.RestoreLot(ctx, item.PurchaseID, item.Qty)
		})
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return restoreVariantLIFO(ctx, tx, item.VariantID, item.Qty)
	})
}

func restoreVariantLIFO(ctx context.Context, tx TxRepository, variantID int64, qty float64) error {
	lots, err := tx.LotsForVariant(ctx, variantID)
	if err != nil {
		return err
	}
	left := qty
	for i := len(lots) - 1; i >= 0 && left > 1e-9; i-- {
		lot := lots[i]
		room := lot.Quantity - lot.Remaining
		if room <= 0 {
			continue
		}
		give := math.Min(room, left)
		if err := tx.RestoreLot(ctx, lot.ID, give); err != nil {
			return err
		}
		left -= give
	}
	// Anything beyond the lots' original quantities is dropped: remaining
	// is capped, never inflated past what was purchased.
	return nil
}

// VariantAvailability sums the remaining quantity across a variant's lots.
func (s *Service) VariantAvailability(ctx context.Context, variantID int64) (float64, error) {
	lots, err := s.repo.ListLots(ctx, variantID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, lot := range lots {
		total += lot.Remaining
	}
	return total, nil
}

// VirtualAvailability derives a bundle's sellable quantity as the
// minimum across components of floor(remaining / quantityPerUnit).
func (s *Service) VirtualAvailability(ctx context.Context, virtualID int64) (int64, error) {
	vp, err := s.repo.GetVirtualProduct(ctx, virtualID)
	if err != nil {
		return 0, err
	}
	if len(vp.Components) == 0 {
		return 0, nil
	}
	min := int64(math.MaxInt64)
	for _, comp := range vp.Components {
		if comp.QuantityPerUnit <= 0 {
			continue
		}
		remaining, err := s.VariantAvailability(ctx, comp.VariantID)
		if err != nil {
			return 0, err
		}
		units := int64(math.Floor(remaining / comp.QuantityPerUnit))
		if units < min {
			min = units
		}
	}
	if min == int64(math.MaxInt64) {
		return 0, nil
	}
	return min, nil
}

// LogFailures records best-effort allocator failures without raising them.
func (s *Service) LogFailures(op string, res Result) {
	if res.Success || s.logger == nil {
		return
	}
	for _, e := range res.Errors {
		s.logger.Warn("stock "+op+" failed",
			slog.Int("item_index", e.Index),
			slog.String("item", e.Item),
			slog.String("error", e.Error))
	}
}

// IsNotFound reports whether err is a missing lot or virtual product.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLotNotFound) || errors.Is(err, ErrVirtualNotFound)
}
