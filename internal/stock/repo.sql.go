package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for stock lots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetVirtualProduct loads a bundle definition with components and expenses.
func (r *Repository) GetVirtualProduct(ctx context.Context, id int64) (*VirtualProduct, error) {
	vp := VirtualProduct{ID: id}
	err := r.pool.QueryRow(ctx, `SELECT name FROM virtual_products WHERE id = $1`, id).Scan(&vp.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVirtualNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT variant_id, quantity_per_unit FROM virtual_product_components WHERE virtual_product_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c VirtualComponent
		if err := rows.Scan(&c.VariantID, &c.QuantityPerUnit); err != nil {
			return nil, err
		}
		vp.Components = append(vp.Components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expRows, err := r.pool.Query(ctx, `SELECT label, cost, price FROM virtual_product_expenses WHERE virtual_product_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer expRows.Close()
	for expRows.Next() {
		var e VirtualExpense
		if err := expRows.Scan(&e.Label, &e.Cost, &e.Price); err != nil {
			return nil, err
		}
		vp.Expenses = append(vp.Expenses, e)
	}
	return &vp, expRows.Err()
}

// ListLots returns a variant's lots oldest first without locking.
func (r *Repository) ListLots(ctx context.Context, variantID int64) ([]PurchaseLot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, quantity, remaining, unit_cost, purchased_at FROM purchase_lots WHERE variant_id = $1 ORDER BY purchased_at, id`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

type txRepo struct {
	tx pgx.Tx
}

// LotsForVariant locks the variant's lots in FIFO order for update.
func (t *txRepo) LotsForVariant(ctx context.Context, variantID int64) ([]PurchaseLot, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, variant_id, quantity, remaining, unit_cost, purchased_at FROM purchase_lots WHERE variant_id = $1 ORDER BY purchased_at, id FOR UPDATE`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func (t *txRepo) GetLot(ctx context.Context, lotID int64) (PurchaseLot, error) {
	var lot PurchaseLot
	err := t.tx.QueryRow(ctx, `SELECT id, variant_id, quantity, remaining, unit_cost, purchased_at FROM purchase_lots WHERE id = $1 FOR UPDATE`, lotID).
		Scan(&lot.ID, &lot.VariantID, &lot.Quantity, &lot.Remaining, &lot.UnitCost, &lot.PurchasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseLot{}, ErrLotNotFound
	}
	return lot, err
}

// DeductLot decrements remaining atomically; the remaining >= qty guard
// in the statement serialises racing deductions against the same lot.
func (t *txRepo) DeductLot(ctx context.Context, lotID int64, qty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_lots SET remaining = remaining - $2 WHERE id = $1 AND remaining >= $2`, lotID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing lot from an undersupplied one.
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_lots WHERE id = $1)`, lotID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrLotNotFound
		}
		return ErrInsufficientStock
	}
	return nil
}

// RestoreLot increments remaining, capped at the original quantity.
func (t *txRepo) RestoreLot(ctx context.Context, lotID int64, qty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_lots SET remaining = LEAST(quantity, remaining + $2) WHERE id = $1`, lotID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func scanLots(rows pgx.Rows) ([]PurchaseLot, error) {
	var lots []PurchaseLot
	for rows.Next() {
		var lot PurchaseLot
		if err := rows.Scan(&lot.ID, &lot.VariantID, &lot.Quantity, &lot.Remaining, &lot.UnitCost, &lot.PurchasedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
