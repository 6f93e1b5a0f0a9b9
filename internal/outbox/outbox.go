// Package outbox records intended side effects that failed their
// synchronous best-effort application, so a background worker can
// replay them instead of leaving silent drift.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Kind discriminates replayable side effects.
type Kind string

const (
	KindLedgerCharge         Kind = "ledger.charge"
	KindLedgerUpdateCharge   Kind = "ledger.update_charge"
	KindLedgerPayment        Kind = "ledger.payment"
	KindLedgerPaymentUpdate  Kind = "ledger.payment_update"
	KindLedgerPaymentRemove  Kind = "ledger.payment_remove"
	KindLedgerRemoveInvoice  Kind = "ledger.remove_invoice"
	KindCustomerInvoiceDelta Kind = "customer.invoice_delta"
	KindCustomerPaymentDelta Kind = "customer.payment_delta"
	KindStockRestore         Kind = "stock.restore"
)

// Entry is one recorded side effect.
type Entry struct {
	ID        string
	Kind      Kind
	Payload   []byte
	Attempts  int
	Status    string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrEntryNotFound indicates an unknown entry id.
var ErrEntryNotFound = errors.New("outbox: entry not found")

// ChargePayload replays a ledger charge append or update.
type ChargePayload struct {
	CustomerID    int64     `json:"customerId"`
	InvoiceID     int64     `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	Amount        float64   `json:"amount"`
	At            time.Time `json:"at"`
}

// PaymentPayload replays a ledger payment append, update or removal.
type PaymentPayload struct {
	CustomerID    int64     `json:"customerId"`
	InvoiceID     int64     `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	PaymentID     string    `json:"paymentId"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method,omitempty"`
	At            time.Time `json:"at"`
}

// InvoiceRefPayload replays whole-invoice ledger removal.
type InvoiceRefPayload struct {
	InvoiceID int64 `json:"invoiceId"`
}

// CustomerDeltaPayload replays a customer aggregate delta.
type CustomerDeltaPayload struct {
	CustomerID int64     `json:"customerId"`
	Delta      float64   `json:"delta"`
	At         time.Time `json:"at"`
}

// StockRestorePayload replays a failed stock restoration.
type StockRestorePayload struct {
	Items []stock.Item `json:"items"`
}

// Store persists entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs the store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record inserts a pending entry and returns it.
func (s *Store) Record(ctx context.Context, kind Kind, payload any) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: marshal payload: %w", err)
	}
	e := Entry{ID: uuid.NewString(), Kind: kind, Payload: data, Status: StatusPending}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outbox_entries (id, kind, payload, attempts, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, NOW(), NOW())
	`, e.ID, e.Kind, e.Payload, e.Status)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: record: %w", err)
	}
	return e, nil
}

// Get loads one entry.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, payload, attempts, status, COALESCE(last_error, ''), created_at, updated_at
		FROM outbox_entries WHERE id = $1
	`, id).Scan(&e.ID, &e.Kind, &e.Payload, &e.Attempts, &e.Status, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

// MarkDone finalises a successfully replayed entry.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries SET status = $2, attempts = attempts + 1, updated_at = NOW() WHERE id = $1
	`, id, StatusDone)
	return err
}

// MarkFailed records a failed attempt; the entry stays replayable.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, StatusFailed, msg)
	return err
}

// ListUnapplied returns entries still awaiting successful replay,
// oldest first, for the sweeping cron.
func (s *Store) ListUnapplied(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, payload, attempts, status, COALESCE(last_error, ''), created_at, updated_at
		FROM outbox_entries WHERE status <> $1 ORDER BY created_at LIMIT $2
	`, StatusDone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.Attempts, &e.Status, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
