package shift

import (
	"context"
	"errors"
	"testing"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/localstore/memory"
	"salepoint/terminal/internal/syncqueue"
)

func newTestManager(t *testing.T) (*Manager, localstore.Store) {
	t.Helper()
	store := memory.New(localstore.DefaultSchema())
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	bus := events.NewBus()
	return NewManager(store, syncqueue.New(store, bus, syncqueue.DefaultMaxRetries), bus), store
}

func TestStartShiftOpensDrawer(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.StartShift(ctx, "operator-1", 10000)
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	if s.Status != domain.ShiftStatusActive {
		t.Fatalf("status = %s, want active", s.Status)
	}
	if s.OpeningCashCents != 10000 {
		t.Fatalf("opening cash = %d, want 10000", s.OpeningCashCents)
	}

	drawer := mgr.GetCurrentCashDrawer()
	if drawer == nil {
		t.Fatalf("expected an open drawer")
	}
	if drawer.ShiftID != s.ID {
		t.Fatalf("drawer bound to %s, want %s", drawer.ShiftID, s.ID)
	}
	if drawer.CurrentCashCents != 10000 {
		t.Fatalf("drawer cash = %d, want 10000", drawer.CurrentCashCents)
	}
	if len(drawer.Operations) != 1 || drawer.Operations[0].Kind != domain.CashOpOpenFloat {
		t.Fatalf("drawer should open with the float operation")
	}
}

func TestStartShiftConflicts(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.StartShift(ctx, "operator-1", 5000)
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	_, err = mgr.StartShift(ctx, "operator-1", 5000)
	var conflict *ShiftConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ShiftConflictError, got %v", err)
	}
	if conflict.ExistingID != first.ID {
		t.Fatalf("conflict names %s, want %s", conflict.ExistingID, first.ID)
	}
}

func TestStartShiftConflictsWithPersistedActiveShift(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	// An active shift already in the store, as left by a crashed session.
	if _, err := store.Add(ctx, localstore.CollShifts, domain.Shift{
		ID:         "shift-stale",
		OperatorID: "operator-1",
		Status:     domain.ShiftStatusActive,
	}); err != nil {
		t.Fatalf("seed shift: %v", err)
	}

	_, err := mgr.StartShift(ctx, "operator-1", 5000)
	var conflict *ShiftConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ShiftConflictError, got %v", err)
	}
	if conflict.ExistingID != "shift-stale" {
		t.Fatalf("conflict names %s, want shift-stale", conflict.ExistingID)
	}
}

func TestRecordTransactionAggregates(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartShift(ctx, "operator-1", 10000); err != nil {
		t.Fatalf("start shift: %v", err)
	}
	if err := mgr.RecordTransaction(ctx, 2200); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if err := mgr.RecordTransaction(ctx, 1550); err != nil {
		t.Fatalf("record transaction: %v", err)
	}

	s := mgr.GetCurrentShift()
	if s.TotalTransactions != 2 {
		t.Fatalf("transactions = %d, want 2", s.TotalTransactions)
	}
	if s.TotalSalesCents != 3750 {
		t.Fatalf("sales = %d, want 3750", s.TotalSalesCents)
	}

	drawer := mgr.GetCurrentCashDrawer()
	if drawer.CurrentCashCents != 13750 {
		t.Fatalf("drawer cash = %d, want 13750", drawer.CurrentCashCents)
	}
	// Open float plus two sale operations.
	if len(drawer.Operations) != 3 {
		t.Fatalf("operations = %d, want 3", len(drawer.Operations))
	}
}

func TestRecordTransactionWithoutShiftIsNoop(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	if err := mgr.RecordTransaction(ctx, 2200); err != nil {
		t.Fatalf("recording without a shift must not fail: %v", err)
	}
	count, err := store.Count(ctx, localstore.CollShifts)
	if err != nil {
		t.Fatalf("count shifts: %v", err)
	}
	if count != 0 {
		t.Fatalf("no shift should have been written")
	}
}

func TestRecordCashOperation(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.StartShift(ctx, "operator-1", 10000); err != nil {
		t.Fatalf("start shift: %v", err)
	}
	if err := mgr.RecordCashOperation(ctx, domain.CashOpPaidIn, 500, "till top-up"); err != nil {
		t.Fatalf("paid in: %v", err)
	}
	if err := mgr.RecordCashOperation(ctx, domain.CashOpPaidOut, 2000, "supplier cod"); err != nil {
		t.Fatalf("paid out: %v", err)
	}

	drawer := mgr.GetCurrentCashDrawer()
	if drawer.CurrentCashCents != 8500 {
		t.Fatalf("drawer cash = %d, want 8500", drawer.CurrentCashCents)
	}

	if err := mgr.RecordCashOperation(ctx, domain.CashOpPaidIn, 0, ""); err == nil {
		t.Fatalf("zero amount should be rejected")
	}
	if err := mgr.RecordCashOperation(ctx, domain.CashOpSale, 100, ""); err == nil {
		t.Fatalf("sale kind is not a manual cash operation")
	}
}

func TestRecordCashOperationRequiresShift(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.RecordCashOperation(context.Background(), domain.CashOpPaidIn, 500, "x")
	if !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}

func TestEndShiftClosesAndQueues(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	opened, err := mgr.StartShift(ctx, "operator-1", 10000)
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	if err := mgr.RecordTransaction(ctx, 2200); err != nil {
		t.Fatalf("record transaction: %v", err)
	}

	closed, err := mgr.EndShift(ctx, 12200)
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if closed.Status != domain.ShiftStatusCompleted {
		t.Fatalf("status = %s, want completed", closed.Status)
	}
	if closed.EndTime == nil || closed.ClosingCashCents == nil || *closed.ClosingCashCents != 12200 {
		t.Fatalf("closing fields not recorded")
	}
	if mgr.GetCurrentShift() != nil || mgr.GetCurrentCashDrawer() != nil {
		t.Fatalf("handles should clear after close")
	}

	drawer, err := localstore.GetByIndex[domain.CashDrawer](ctx, store, localstore.CollCashDrawers, "shift_id", opened.ID)
	if err != nil {
		t.Fatalf("load drawer: %v", err)
	}
	if drawer.Status != domain.DrawerStatusClosed {
		t.Fatalf("drawer status = %s, want closed", drawer.Status)
	}
	last := drawer.Operations[len(drawer.Operations)-1]
	if last.Kind != domain.CashOpCloseCount || last.AmountCents != 12200 {
		t.Fatalf("closing count operation missing")
	}

	queued, err := store.Count(ctx, localstore.CollSyncQueue)
	if err != nil {
		t.Fatalf("count sync queue: %v", err)
	}
	if queued != 2 {
		t.Fatalf("sync items = %d, want shift and drawer", queued)
	}
}

func TestEndShiftWithoutActiveShift(t *testing.T) {
	mgr, _ := newTestManager(t)
	if _, err := mgr.EndShift(context.Background(), 0); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}
