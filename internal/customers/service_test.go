package customers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryCustomerRepo struct {
	customers map[int64]*Customer
	truth     map[int64]Aggregates
}

func newMemoryCustomerRepo() *memoryCustomerRepo {
	return &memoryCustomerRepo{
		customers: make(map[int64]*Customer),
		truth:     make(map[int64]Aggregates),
	}
}

func (r *memoryCustomerRepo) Get(ctx context.Context, id int64) (*Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryCustomerRepo) ApplyInvoiceDelta(ctx context.Context, id int64, delta float64, at time.Time) error {
	c, ok := r.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalInvoiced += delta
	c.OutstandingBalance += delta
	if at.After(c.LastInvoiceDate) {
		c.LastInvoiceDate = at
	}
	return nil
}

func (r *memoryCustomerRepo) ApplyPaymentDelta(ctx context.Context, id int64, delta float64, at time.Time) error {
	c, ok := r.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalPaid += delta
	c.OutstandingBalance -= delta
	if at.After(c.LastPaymentDate) {
		c.LastPaymentDate = at
	}
	return nil
}

func (r *memoryCustomerRepo) RecomputeAggregates(ctx context.Context, id int64) (Aggregates, error) {
	return r.truth[id], nil
}

func (r *memoryCustomerRepo) SetAggregates(ctx context.Context, id int64, agg Aggregates) error {
	c, ok := r.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalInvoiced = agg.TotalInvoiced
	c.TotalPaid = agg.TotalPaid
	c.OutstandingBalance = agg.OutstandingBalance
	c.LastInvoiceDate = agg.LastInvoiceDate
	c.LastPaymentDate = agg.LastPaymentDate
	return nil
}

func testDate(n int) time.Time {
	return time.Date(2026, 3, n, 0, 0, 0, 0, time.UTC)
}

func TestInvoiceAndPaymentDeltas(t *testing.T) {
	repo := newMemoryCustomerRepo()
	repo.customers[1] = &Customer{ID: 1, Name: "Acme"}
	svc := NewService(repo, slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.ApplyInvoiceCreated(ctx, 1, 1050, testDate(1)))
	c, _ := svc.Get(ctx, 1)
	require.EqualValues(t, 1050, c.TotalInvoiced)
	require.EqualValues(t, 1050, c.OutstandingBalance)
	require.Equal(t, testDate(1), c.LastInvoiceDate)

	require.NoError(t, svc.ApplyPaymentAdded(ctx, 1, 1050, testDate(2)))
	c, _ = svc.Get(ctx, 1)
	require.EqualValues(t, 1050, c.TotalPaid)
	require.EqualValues(t, 0, c.OutstandingBalance)
	require.Equal(t, testDate(2), c.LastPaymentDate)
}

func TestLastDatesAdvanceMonotonically(t *testing.T) {
	repo := newMemoryCustomerRepo()
	repo.customers[1] = &Customer{ID: 1}
	svc := NewService(repo, slog.Default())
	ctx := context.Background()

	require.NoError(t, svc.ApplyInvoiceCreated(ctx, 1, 100, testDate(10)))
	// A back-dated invoice must not rewind the last-activity date.
	require.NoError(t, svc.ApplyInvoiceCreated(ctx, 1, 200, testDate(3)))
	c, _ := svc.Get(ctx, 1)
	require.Equal(t, testDate(10), c.LastInvoiceDate)
	require.EqualValues(t, 300, c.TotalInvoiced)
}

func TestTotalChangedAppliesOnlyTheDelta(t *testing.T) {
	repo := newMemoryCustomerRepo()
	repo.customers[1] = &Customer{ID: 1, TotalInvoiced: 500, OutstandingBalance: 500}
	svc := NewService(repo, slog.Default())

	require.NoError(t, svc.ApplyTotalChanged(context.Background(), 1, 500, 650))
	c, _ := svc.Get(context.Background(), 1)
	require.EqualValues(t, 650, c.TotalInvoiced)
	require.EqualValues(t, 650, c.OutstandingBalance)

	// No-op delta issues no write.
	require.NoError(t, svc.ApplyTotalChanged(context.Background(), 1, 650, 650))
}

func TestReverseInvoiceRemovesBothContributions(t *testing.T) {
	repo := newMemoryCustomerRepo()
	repo.customers[1] = &Customer{ID: 1, TotalInvoiced: 1000, TotalPaid: 400, OutstandingBalance: 600}
	svc := NewService(repo, slog.Default())

	require.NoError(t, svc.ReverseInvoice(context.Background(), 1, 1000, 400))
	c, _ := svc.Get(context.Background(), 1)
	require.EqualValues(t, 0, c.TotalInvoiced)
	require.EqualValues(t, 0, c.TotalPaid)
	require.EqualValues(t, 0, c.OutstandingBalance)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	repo := newMemoryCustomerRepo()
	repo.customers[1] = &Customer{ID: 1, TotalInvoiced: 900, TotalPaid: 100, OutstandingBalance: 800}
	repo.truth[1] = Aggregates{TotalInvoiced: 1000, TotalPaid: 100, OutstandingBalance: 900, LastInvoiceDate: testDate(5)}
	svc := NewService(repo, slog.Default())

	corrected, err := svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, corrected)
	c, _ := svc.Get(context.Background(), 1)
	require.EqualValues(t, 1000, c.TotalInvoiced)
	require.EqualValues(t, 900, c.OutstandingBalance)

	// Second pass finds no drift.
	corrected, err = svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, corrected)
}
