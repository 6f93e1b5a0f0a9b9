package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/outbox"
)

type fakeOutboxStore struct {
	entries map[string]*outbox.Entry
}

func newFakeOutboxStore(entries ...outbox.Entry) *fakeOutboxStore {
	s := &fakeOutboxStore{entries: map[string]*outbox.Entry{}}
	for i := range entries {
		e := entries[i]
		s.entries[e.ID] = &e
	}
	return s
}

func (s *fakeOutboxStore) Get(_ context.Context, id string) (outbox.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return outbox.Entry{}, outbox.ErrEntryNotFound
	}
	return *e, nil
}

func (s *fakeOutboxStore) MarkDone(_ context.Context, id string) error {
	s.entries[id].Status = outbox.StatusDone
	s.entries[id].Attempts++
	return nil
}

func (s *fakeOutboxStore) MarkFailed(_ context.Context, id string, cause error) error {
	e := s.entries[id]
	e.Status = outbox.StatusFailed
	e.Attempts++
	e.LastError = cause.Error()
	return nil
}

func (s *fakeOutboxStore) ListUnapplied(_ context.Context, _ int) ([]outbox.Entry, error) {
	var out []outbox.Entry
	for _, e := range s.entries {
		if e.Status != outbox.StatusDone {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeApplier struct {
	failKinds map[outbox.Kind]bool
	applied   []string
}

func (a *fakeApplier) ApplySideEffect(_ context.Context, e outbox.Entry) error {
	if a.failKinds[e.Kind] {
		return errors.New("downstream unavailable")
	}
	a.applied = append(a.applied, e.ID)
	return nil
}

func applyTask(t *testing.T, entryID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(outbox.ApplyTaskPayload{EntryID: entryID})
	require.NoError(t, err)
	return asynq.NewTask(outbox.TaskTypeApply, data)
}

func TestOutboxApplyMarksDone(t *testing.T) {
	store := newFakeOutboxStore(outbox.Entry{ID: "e1", Kind: outbox.KindLedgerCharge, Status: outbox.StatusPending})
	applier := &fakeApplier{}
	job := NewOutboxApplyJob(store, applier, slog.Default())

	require.NoError(t, job.Handle(context.Background(), applyTask(t, "e1")))
	require.Equal(t, []string{"e1"}, applier.applied)
	require.Equal(t, outbox.StatusDone, store.entries["e1"].Status)
	require.Equal(t, 1, store.entries["e1"].Attempts)
}

func TestOutboxApplyFailureStaysReplayable(t *testing.T) {
	store := newFakeOutboxStore(outbox.Entry{ID: "e1", Kind: outbox.KindStockRestore, Status: outbox.StatusPending})
	applier := &fakeApplier{failKinds: map[outbox.Kind]bool{outbox.KindStockRestore: true}}
	job := NewOutboxApplyJob(store, applier, slog.Default())

	require.Error(t, job.Handle(context.Background(), applyTask(t, "e1")))
	require.Equal(t, outbox.StatusFailed, store.entries["e1"].Status)
	require.NotEmpty(t, store.entries["e1"].LastError)

	// Second attempt after the downstream recovers.
	applier.failKinds = nil
	require.NoError(t, job.Handle(context.Background(), applyTask(t, "e1")))
	require.Equal(t, outbox.StatusDone, store.entries["e1"].Status)
}

func TestOutboxApplySkipsDoneAndMissing(t *testing.T) {
	store := newFakeOutboxStore(outbox.Entry{ID: "e1", Kind: outbox.KindLedgerCharge, Status: outbox.StatusDone})
	applier := &fakeApplier{}
	job := NewOutboxApplyJob(store, applier, slog.Default())

	require.NoError(t, job.Handle(context.Background(), applyTask(t, "e1")))
	require.Empty(t, applier.applied)

	err := job.Handle(context.Background(), applyTask(t, "gone"))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestOutboxSweepRetriesAllPending(t *testing.T) {
	store := newFakeOutboxStore(
		outbox.Entry{ID: "e1", Kind: outbox.KindLedgerCharge, Status: outbox.StatusPending},
		outbox.Entry{ID: "e2", Kind: outbox.KindStockRestore, Status: outbox.StatusFailed},
		outbox.Entry{ID: "e3", Kind: outbox.KindLedgerPayment, Status: outbox.StatusDone},
	)
	applier := &fakeApplier{failKinds: map[outbox.Kind]bool{outbox.KindStockRestore: true}}
	job := NewOutboxSweepJob(store, applier, slog.Default())

	require.NoError(t, job.Handle(context.Background(), NewOutboxSweepTask()))

	// The stuck entry must not block the rest.
	require.Equal(t, outbox.StatusDone, store.entries["e1"].Status)
	require.Equal(t, outbox.StatusFailed, store.entries["e2"].Status)
	require.Len(t, applier.applied, 1)
}

type fakeReconciler struct {
	corrected map[int64]bool
	fail      map[int64]bool
	calls     []int64
}

func (r *fakeReconciler) Reconcile(_ context.Context, id int64) (bool, error) {
	r.calls = append(r.calls, id)
	if r.fail[id] {
		return false, errors.New("recompute failed")
	}
	return r.corrected[id], nil
}

type fakeLister struct{ ids []int64 }

func (l *fakeLister) ListIDs(context.Context) ([]int64, error) { return l.ids, nil }

func TestReconcileAggregatesWalksEveryCustomer(t *testing.T) {
	rec := &fakeReconciler{
		corrected: map[int64]bool{2: true},
		fail:      map[int64]bool{3: true},
	}
	job := NewReconcileAggregatesJob(rec, &fakeLister{ids: []int64{1, 2, 3, 4}}, slog.Default())

	require.NoError(t, job.Handle(context.Background(), NewReconcileAggregatesTask()))
	require.Equal(t, []int64{1, 2, 3, 4}, rec.calls)
}
