package customers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for customers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a customer with its cached aggregate.
func (r *Repository) Get(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email, is_counter,
		       total_invoiced, total_paid, outstanding_balance,
		       COALESCE(last_invoice_date, 'epoch'::timestamptz),
		       COALESCE(last_payment_date, 'epoch'::timestamptz),
		       created_at, updated_at
		FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.IsCounter,
		&c.TotalInvoiced, &c.TotalPaid, &c.OutstandingBalance,
		&c.LastInvoiceDate, &c.LastPaymentDate, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyInvoiceDelta shifts invoiced totals atomically in one statement.
// A zero time leaves last_invoice_date untouched.
func (r *Repository) ApplyInvoiceDelta(ctx context.Context, id int64, delta float64, at time.Time) error {
	var atArg *time.Time
	if !at.IsZero() {
		atArg = &at
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET
			total_invoiced = total_invoiced + $2,
			outstanding_balance = outstanding_balance + $2,
			last_invoice_date = GREATEST(COALESCE(last_invoice_date, 'epoch'::timestamptz), COALESCE($3, last_invoice_date, 'epoch'::timestamptz)),
			updated_at = NOW()
		WHERE id = $1
	`, id, delta, atArg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyPaymentDelta shifts paid totals atomically in one statement.
func (r *Repository) ApplyPaymentDelta(ctx context.Context, id int64, delta float64, at time.Time) error {
	var atArg *time.Time
	if !at.IsZero() {
		atArg = &at
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET
			total_paid = total_paid + $2,
			outstanding_balance = outstanding_balance - $2,
			last_payment_date = GREATEST(COALESCE(last_payment_date, 'epoch'::timestamptz), COALESCE($3, last_payment_date, 'epoch'::timestamptz)),
			updated_at = NOW()
		WHERE id = $1
	`, id, delta, atArg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeAggregates derives the aggregate from non-cancelled invoices.
func (r *Repository) RecomputeAggregates(ctx context.Context, id int64) (Aggregates, error) {
	var agg Aggregates
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0),
		       COALESCE(SUM(paid_amount), 0),
		       COALESCE(SUM(total_amount - paid_amount), 0),
		       COALESCE(MAX(invoice_date), 'epoch'::timestamptz)
		FROM invoices
		WHERE customer_id = $1 AND doc_type = 'invoice' AND status <> 'cancelled'
	`, id).Scan(&agg.TotalInvoiced, &agg.TotalPaid, &agg.OutstandingBalance, &agg.LastInvoiceDate)
	if err != nil {
		return Aggregates{}, err
	}
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX((p->>'paidAt')::timestamptz), 'epoch'::timestamptz)
		FROM invoices i
		CROSS JOIN LATERAL jsonb_array_elements(i.payments) AS p
		WHERE i.customer_id = $1 AND i.doc_type = 'invoice' AND i.status <> 'cancelled'
	`, id).Scan(&agg.LastPaymentDate)
	if err != nil {
		return Aggregates{}, err
	}
	return agg, nil
}

// SetAggregates overwrites the cached aggregate, used by reconciliation.
func (r *Repository) SetAggregates(ctx context.Context, id int64, agg Aggregates) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE customers SET
			total_invoiced = $2,
			total_paid = $3,
			outstanding_balance = $4,
			last_invoice_date = $5,
			last_payment_date = $6,
			updated_at = NOW()
		WHERE id = $1
	`, id, agg.TotalInvoiced, agg.TotalPaid, agg.OutstandingBalance, agg.LastInvoiceDate, agg.LastPaymentDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns all customer ids, used by the reconciliation job.
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
