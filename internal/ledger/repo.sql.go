package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the journal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one journal line.
func (r *Repository) Append(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (customer_id, invoice_id, invoice_number, entry_type, amount, method, payment_id, note, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, COALESCE(NULLIF($9, '0001-01-01'::timestamptz), NOW()), NOW())
		RETURNING id
	`, e.CustomerID, e.InvoiceID, e.InvoiceNumber, e.Type, e.Amount, e.Method, e.PaymentID, e.Note, e.OccurredAt).Scan(&id)
	return id, err
}

// UpdateCharge re-aligns an invoice's single charge entry.
func (r *Repository) UpdateCharge(ctx context.Context, invoiceID int64, amount float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET amount = $2
		WHERE invoice_id = $1 AND entry_type = 'charge'
	`, invoiceID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// UpdatePayment re-aligns a payment entry by its stable key.
func (r *Repository) UpdatePayment(ctx context.Context, invoiceID int64, paymentID string, amount float64, method string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET amount = $3, method = $4, occurred_at = COALESCE(NULLIF($5, '0001-01-01'::timestamptz), occurred_at)
		WHERE invoice_id = $1 AND payment_id = $2 AND entry_type = 'payment'
	`, invoiceID, paymentID, amount, method, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeletePayment drops a payment entry by its stable key.
func (r *Repository) DeletePayment(ctx context.Context, invoiceID int64, paymentID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM ledger_entries WHERE invoice_id = $1 AND payment_id = $2 AND entry_type = 'payment'
	`, invoiceID, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteForInvoice drops all entries for a physically deleted draft.
func (r *Repository) DeleteForInvoice(ctx context.Context, invoiceID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ledger_entries WHERE invoice_id = $1`, invoiceID)
	return err
}

// ListByCustomer returns the customer's journal, most recent first.
// Cancelled invoices' entries are retained for audit and excluded only
// when includeCancelled is false.
func (r *Repository) ListByCustomer(ctx context.Context, customerID int64, includeCancelled bool) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.customer_id, e.invoice_id, e.invoice_number, e.entry_type, e.amount,
		       COALESCE(e.method, ''), COALESCE(e.payment_id, ''), COALESCE(e.note, ''), e.occurred_at, e.created_at
		FROM ledger_entries e
		JOIN invoices i ON i.id = e.invoice_id
		WHERE e.customer_id = $1 AND ($2 OR i.status <> 'cancelled')
		ORDER BY e.occurred_at DESC, e.id DESC
	`, customerID, includeCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.InvoiceID, &e.InvoiceNumber, &e.Type, &e.Amount,
			&e.Method, &e.PaymentID, &e.Note, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalsByCustomer sums charges and payments with an explicit status
// filter; cancelled invoices never count toward active totals.
func (r *Repository) TotalsByCustomer(ctx context.Context, customerID int64) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN e.entry_type = 'charge' THEN e.amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN e.entry_type = 'payment' THEN e.amount ELSE 0 END), 0)
		FROM ledger_entries e
		JOIN invoices i ON i.id = e.invoice_id
		WHERE e.customer_id = $1 AND i.status <> 'cancelled'
	`, customerID).Scan(&t.Charges, &t.Payments)
	if err != nil {
		return Totals{}, err
	}
	t.Outstanding = t.Charges - t.Payments
	return t, nil
}
