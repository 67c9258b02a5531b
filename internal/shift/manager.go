// Package shift tracks the operator shift and its cash drawer. At most one
// shift is active per manager instance; that invariant is the concurrency
// control for everything in here.
package shift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/events"
	"salepoint/terminal/internal/localstore"
	"salepoint/terminal/internal/syncqueue"
	"salepoint/terminal/internal/xid"
)

// ErrNoActiveShift is returned by operations that require an open shift.
var ErrNoActiveShift = errors.New("no active shift")

// ShiftConflictError is returned when a shift is started while one is
// already active.
type ShiftConflictError struct {
	ExistingID string
	OperatorID string
}

func (e *ShiftConflictError) Error() string {
	return fmt.Sprintf("shift %s already active for operator %s", e.ExistingID, e.OperatorID)
}

type Manager struct {
	mu     sync.Mutex
	store  localstore.Store
	queue  *syncqueue.Queue
	bus    *events.Bus
	log    *logrus.Entry
	shift  *domain.Shift
	drawer *domain.CashDrawer
}

func NewManager(store localstore.Store, queue *syncqueue.Queue, bus *events.Bus) *Manager {
	return &Manager{
		store: store,
		queue: queue,
		bus:   bus,
		log:   logrus.WithField("component", "shift"),
	}
}

// StartShift opens a shift and its cash drawer as one logical operation.
// The drawer opens with the shift's opening cash as its float.
func (m *Manager) StartShift(ctx context.Context, operatorID string, openingCashCents int64) (*domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shift != nil {
		return nil, &ShiftConflictError{ExistingID: m.shift.ID, OperatorID: m.shift.OperatorID}
	}
	// A crashed session may have left an active shift in the store.
	persisted, err := localstore.GetAllByIndex[domain.Shift](
		ctx, m.store, localstore.CollShifts, "operator_id", operatorID)
	if err != nil {
		return nil, err
	}
	for _, s := range persisted {
		if s.Status == domain.ShiftStatusActive {
			return nil, &ShiftConflictError{ExistingID: s.ID, OperatorID: operatorID}
		}
	}

	now := time.Now().UTC()
	shift := domain.Shift{
		ID:               xid.New("shift"),
		OperatorID:       operatorID,
		StartTime:        now,
		OpeningCashCents: openingCashCents,
		Status:           domain.ShiftStatusActive,
		SyncStatus:       domain.SyncStatusPending,
	}
	drawer := domain.CashDrawer{
		ID:               xid.New("drawer"),
		ShiftID:          shift.ID,
		OpeningCashCents: openingCashCents,
		CurrentCashCents: openingCashCents,
		Status:           domain.DrawerStatusOpen,
		Operations: []domain.CashOperation{{
			ID:          xid.New("cashop"),
			Kind:        domain.CashOpOpenFloat,
			AmountCents: openingCashCents,
			CreatedAt:   now,
		}},
		SyncStatus: domain.SyncStatusPending,
	}

	if _, err := m.store.Add(ctx, localstore.CollShifts, shift); err != nil {
		return nil, err
	}
	if _, err := m.store.Add(ctx, localstore.CollCashDrawers, drawer); err != nil {
		return nil, err
	}

	m.shift = &shift
	m.drawer = &drawer
	m.bus.Publish(events.ShiftStarted, shift.ID)

	snapshot := shift
	return &snapshot, nil
}

// RecordTransaction folds a completed sale into the active shift's
// aggregates and the drawer's running cash. Without an active shift this is
// a deliberate no-op (logged): the UI gates selling on shift state, and a
// sale must never fail here.
func (m *Manager) RecordTransaction(ctx context.Context, totalCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shift == nil {
		m.log.WithField("total_cents", totalCents).
			Warn("transaction recorded with no active shift; ignoring")
		return nil
	}

	shift := cloneShift(m.shift)
	shift.TotalTransactions++
	shift.TotalSalesCents += totalCents

	drawer := cloneDrawer(m.drawer)
	drawer.CurrentCashCents += totalCents
	drawer.Operations = append(drawer.Operations, domain.CashOperation{
		ID:          xid.New("cashop"),
		Kind:        domain.CashOpSale,
		AmountCents: totalCents,
		CreatedAt:   time.Now().UTC(),
	})

	if err := m.store.Update(ctx, localstore.CollShifts, shift); err != nil {
		return err
	}
	if err := m.store.Update(ctx, localstore.CollCashDrawers, drawer); err != nil {
		return err
	}
	m.shift = shift
	m.drawer = drawer
	return nil
}

// RecordCashOperation applies a paid-in or paid-out movement to the open
// drawer.
func (m *Manager) RecordCashOperation(ctx context.Context, kind string, amountCents int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shift == nil || m.drawer == nil {
		return ErrNoActiveShift
	}
	if kind != domain.CashOpPaidIn && kind != domain.CashOpPaidOut {
		return fmt.Errorf("unsupported cash operation kind %q", kind)
	}
	if amountCents <= 0 {
		return fmt.Errorf("cash operation amount must be positive, got %d", amountCents)
	}

	drawer := cloneDrawer(m.drawer)
	delta := amountCents
	if kind == domain.CashOpPaidOut {
		delta = -amountCents
	}
	drawer.CurrentCashCents += delta
	drawer.Operations = append(drawer.Operations, domain.CashOperation{
		ID:          xid.New("cashop"),
		Kind:        kind,
		AmountCents: amountCents,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	})

	if err := m.store.Update(ctx, localstore.CollCashDrawers, drawer); err != nil {
		return err
	}
	m.drawer = drawer
	return nil
}

// EndShift closes the shift and its drawer, queues both for sync, and clears
// the in-memory handles. Variance against the counted cash is a UI concern;
// the manager only records what was counted.
func (m *Manager) EndShift(ctx context.Context, closingCashCents int64) (*domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shift == nil {
		return nil, ErrNoActiveShift
	}

	now := time.Now().UTC()
	shift := cloneShift(m.shift)
	shift.EndTime = &now
	shift.ClosingCashCents = &closingCashCents
	shift.Status = domain.ShiftStatusCompleted

	drawer := cloneDrawer(m.drawer)
	drawer.Status = domain.DrawerStatusClosed
	drawer.ClosingCashCents = &closingCashCents
	drawer.Operations = append(drawer.Operations, domain.CashOperation{
		ID:          xid.New("cashop"),
		Kind:        domain.CashOpCloseCount,
		AmountCents: closingCashCents,
		CreatedAt:   now,
	})

	if err := m.store.Update(ctx, localstore.CollShifts, shift); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, localstore.CollCashDrawers, drawer); err != nil {
		return nil, err
	}

	if _, err := m.queue.Enqueue(ctx, "shift", shift.ID, domain.QueueOpUpdate, shift, syncqueue.PriorityShift); err != nil {
		m.log.WithError(err).WithField("shift_id", shift.ID).Warn("failed to queue shift for sync")
	}
	if _, err := m.queue.Enqueue(ctx, "cash_drawer", drawer.ID, domain.QueueOpUpdate, drawer, syncqueue.PriorityDrawer); err != nil {
		m.log.WithError(err).WithField("drawer_id", drawer.ID).Warn("failed to queue cash drawer for sync")
	}

	m.shift = nil
	m.drawer = nil
	m.bus.Publish(events.ShiftClosed, shift.ID)
	return shift, nil
}

// GetCurrentShift returns a copy of the active shift, or nil.
func (m *Manager) GetCurrentShift() *domain.Shift {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shift == nil {
		return nil
	}
	return cloneShift(m.shift)
}

// GetCurrentCashDrawer returns a copy of the open drawer, or nil.
func (m *Manager) GetCurrentCashDrawer() *domain.CashDrawer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drawer == nil {
		return nil
	}
	return cloneDrawer(m.drawer)
}

func cloneShift(s *domain.Shift) *domain.Shift {
	out := *s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.ClosingCashCents != nil {
		v := *s.ClosingCashCents
		out.ClosingCashCents = &v
	}
	return &out
}

func cloneDrawer(d *domain.CashDrawer) *domain.CashDrawer {
	out := *d
	out.Operations = append([]domain.CashOperation(nil), d.Operations...)
	if d.ClosingCashCents != nil {
		v := *d.ClosingCashCents
		out.ClosingCashCents = &v
	}
	return &out
}
