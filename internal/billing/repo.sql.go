package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for documents.
// Line items and payments are stored as JSONB alongside the invoice
// row so a document reads and writes as one unit.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, number, doc_type, status, customer_id, items, payments,
subtotal, discount_amount, gst_amount, total_amount, paid_amount, balance_amount, profit,
stock_deducted, converted_to_invoice, converted_invoice_id, converted_from_id,
invoice_date, due_date, cancel_reason, created_by, created_at, updated_at`

// Create inserts the document and returns its id.
func (r *Repository) Create(ctx context.Context, inv *Invoice) (int64, error) {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return 0, fmt.Errorf("encode items: %w", err)
	}
	payments, err := json.Marshal(inv.Payments)
	if err != nil {
		return 0, fmt.Errorf("encode payments: %w", err)
	}
	now := time.Now().UTC()
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO invoices
(number, doc_type, status, customer_id, items, payments,
 subtotal, discount_amount, gst_amount, total_amount, paid_amount, balance_amount, profit,
 stock_deducted, converted_from_id, invoice_date, due_date, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, 0::bigint), $16, NULLIF($17, '0001-01-01'::timestamptz), $18, $19, $19)
RETURNING id`,
		inv.Number, inv.Type, inv.Status, inv.CustomerID, items, payments,
		inv.Subtotal, inv.DiscountAmount, inv.GSTAmount, inv.TotalAmount, inv.PaidAmount, inv.BalanceAmount, inv.Profit,
		inv.StockDeducted, inv.ConvertedFromID, inv.InvoiceDate, inv.DueDate, inv.CreatedBy, now,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return id, nil
}

// Get loads one document by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// List returns documents matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	n := 0
	if filter.Type != "" {
		n++
		where += fmt.Sprintf(` AND doc_type = $%d`, n)
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		n++
		where += fmt.Sprintf(` AND status = $%d`, n)
		args = append(args, filter.Status)
	}
	if filter.CustomerID != 0 {
		n++
		where += fmt.Sprintf(` AND customer_id = $%d`, n)
		args = append(args, filter.CustomerID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	n++
	where += fmt.Sprintf(` ORDER BY invoice_date DESC, id DESC LIMIT $%d`, n)
	args = append(args, limit)
	n++
	where += fmt.Sprintf(` OFFSET $%d`, n)
	args = append(args, filter.Offset)

	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices `+where, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Update rewrites the mutable fields of a document.
func (r *Repository) Update(ctx context.Context, inv *Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	payments, err := json.Marshal(inv.Payments)
	if err != nil {
		return fmt.Errorf("encode payments: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET
items = $2, payments = $3,
subtotal = $4, discount_amount = $5, gst_amount = $6, total_amount = $7,
paid_amount = $8, balance_amount = $9, profit = $10,
status = $11, due_date = NULLIF($12, '0001-01-01'::timestamptz), updated_at = now()
WHERE id = $1`,
		inv.ID, items, payments,
		inv.Subtotal, inv.DiscountAmount, inv.GSTAmount, inv.TotalAmount,
		inv.PaidAmount, inv.BalanceAmount, inv.Profit,
		inv.Status, inv.DueDate,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes only the workflow status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = $2, cancel_reason = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConverted seals a quotation, recording the invoice it became.
// The guard on converted_to_invoice makes the mark race-safe.
func (r *Repository) MarkConverted(ctx context.Context, quotationID, invoiceID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET
converted_to_invoice = TRUE, converted_invoice_id = $2, status = $3, updated_at = now()
WHERE id = $1 AND doc_type = $4 AND converted_to_invoice = FALSE`,
		quotationID, invoiceID, StatusConverted, DocQuotation)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConverted
	}
	return nil
}

// SetStockDeducted flips the deduction flag.
func (r *Repository) SetStockDeducted(ctx context.Context, id int64, deducted bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET stock_deducted = $2, updated_at = now() WHERE id = $1`, id, deducted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv                Invoice
		items, payments    []byte
		convertedInvoiceID *int64
		convertedFromID    *int64
		dueDate            *time.Time
		cancelReason       *string
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.Type, &inv.Status, &inv.CustomerID, &items, &payments,
		&inv.Subtotal, &inv.DiscountAmount, &inv.GSTAmount, &inv.TotalAmount, &inv.PaidAmount, &inv.BalanceAmount, &inv.Profit,
		&inv.StockDeducted, &inv.ConvertedToInvoice, &convertedInvoiceID, &convertedFromID,
		&inv.InvoiceDate, &dueDate, &cancelReason, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(payments, &inv.Payments); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	if convertedInvoiceID != nil {
		inv.ConvertedInvoiceID = *convertedInvoiceID
	}
	if convertedFromID != nil {
		inv.ConvertedFromID = *convertedFromID
	}
	if dueDate != nil {
		inv.DueDate = *dueDate
	}
	if cancelReason != nil {
		inv.CancelReason = *cancelReason
	}
	return &inv, nil
}
